package mocks

import (
	"sync"
	"time"
)

// MockMetricsCollector is a mock implementation of election.MetricsCollector for testing
type MockMetricsCollector struct {
	mu                    sync.RWMutex
	ElectionsStarted      int
	CandidaciesAnnounced  int
	CandidaciesAborted    int
	VotesCast             int
	HeartbeatCount        int
	ElectionsLost         int
	MessagesDropped       int
	LeaderElectedDuration []time.Duration
}

// NewMockMetricsCollector creates a new mock metrics collector
func NewMockMetricsCollector() *MockMetricsCollector {
	return &MockMetricsCollector{
		LeaderElectedDuration: make([]time.Duration, 0),
	}
}

func (m *MockMetricsCollector) RecordElectionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ElectionsStarted++
}

func (m *MockMetricsCollector) RecordCandidacyAnnounced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CandidaciesAnnounced++
}

func (m *MockMetricsCollector) RecordCandidacyAborted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CandidaciesAborted++
}

func (m *MockMetricsCollector) RecordVoteCast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VotesCast++
}

func (m *MockMetricsCollector) RecordHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeartbeatCount++
}

func (m *MockMetricsCollector) RecordLeaderElected(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeaderElectedDuration = append(m.LeaderElectedDuration, duration)
}

func (m *MockMetricsCollector) RecordElectionLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ElectionsLost++
}

func (m *MockMetricsCollector) RecordMessageDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesDropped++
}

// Snapshot returns a copy of the recorded counters that is safe to inspect while nodes keep running
func (m *MockMetricsCollector) Snapshot() *MockMetricsCollector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &MockMetricsCollector{
		ElectionsStarted:      m.ElectionsStarted,
		CandidaciesAnnounced:  m.CandidaciesAnnounced,
		CandidaciesAborted:    m.CandidaciesAborted,
		VotesCast:             m.VotesCast,
		HeartbeatCount:        m.HeartbeatCount,
		ElectionsLost:         m.ElectionsLost,
		MessagesDropped:       m.MessagesDropped,
		LeaderElectedDuration: append([]time.Duration(nil), m.LeaderElectedDuration...),
	}
}

// Reset clears all recorded metrics
func (m *MockMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ElectionsStarted = 0
	m.CandidaciesAnnounced = 0
	m.CandidaciesAborted = 0
	m.VotesCast = 0
	m.HeartbeatCount = 0
	m.ElectionsLost = 0
	m.MessagesDropped = 0
	m.LeaderElectedDuration = make([]time.Duration, 0)
}
