package main

import (
	log "github.com/sirupsen/logrus"
)

// LogrusLogger implements the election.Logger interface on top of a logrus entry
type LogrusLogger struct {
	entry *log.Entry
}

// NewLogrusLogger returns a logger tagged with component
func NewLogrusLogger(logger *log.Logger, component string) *LogrusLogger {
	return &LogrusLogger{entry: logger.WithField("component", component)}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
