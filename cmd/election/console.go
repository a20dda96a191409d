package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"election-sim/internal/cluster"
	"election-sim/internal/election"
	"election-sim/internal/metrics"
)

const (
	prompt   = "\t$ "
	idPrompt = "\tid > "
	helpText = "actions: state, crash <id>, recover <id>, events [n], metrics, help, quit"
)

var errQuit = errors.New("quit")

// Controller is what the console needs from a cluster
type Controller interface {
	Describe() []cluster.NodeSummary
	Leader() (election.NodeID, bool)
	Events(limit int) []cluster.Event
	Crash(id election.NodeID) error
	Recover(id election.NodeID) error
	Report() (metrics.Report, bool)
}

// Console is the interactive operator loop
type Console struct {
	cluster Controller
	in      *bufio.Scanner
	out     io.Writer

	leader   *color.Color
	follower *color.Color
	other    *color.Color
	crashed  *color.Color
	failure  *color.Color
}

func NewConsole(c Controller, in io.Reader, out io.Writer) *Console {
	return &Console{
		cluster:  c,
		in:       bufio.NewScanner(in),
		out:      out,
		leader:   color.New(color.FgGreen, color.Bold),
		follower: color.New(color.FgWhite),
		other:    color.New(color.FgYellow),
		crashed:  color.New(color.FgRed),
		failure:  color.New(color.FgRed, color.Bold),
	}
}

// Run reads commands until quit or the end of input
func (c *Console) Run() {
	fmt.Fprintln(c.out, helpText)

	for {
		fmt.Fprint(c.out, prompt)
		if !c.in.Scan() {
			return
		}

		if err := c.Execute(c.in.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			c.failure.Fprintf(c.out, "\t%v\n", err)
		}
	}
}

// Execute runs a single command line
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "state":
		c.printState()
	case "crash":
		id, err := c.nodeID(args)
		if err != nil {
			return err
		}
		return c.cluster.Crash(id)
	case "recover":
		id, err := c.nodeID(args)
		if err != nil {
			return err
		}
		return c.cluster.Recover(id)
	case "events":
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid event count %q", args[0])
			}
			limit = n
		}
		c.printEvents(limit)
	case "metrics":
		report, ok := c.cluster.Report()
		if !ok {
			return errors.New("metrics are collected externally")
		}
		report.PrintReport(c.out)
	case "help":
		fmt.Fprintln(c.out, helpText)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown action %q, try help", cmd)
	}

	return nil
}

// nodeID takes the id from args, or asks for it on its own line when it was left out
func (c *Console) nodeID(args []string) (election.NodeID, error) {
	var raw string
	if len(args) > 0 {
		raw = args[0]
	} else {
		fmt.Fprint(c.out, idPrompt)
		if !c.in.Scan() {
			return election.NoNode, errors.New("missing node id")
		}
		raw = strings.TrimSpace(c.in.Text())
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return election.NoNode, fmt.Errorf("invalid node id %q", raw)
	}
	return election.NodeID(id), nil
}

func (c *Console) printState() {
	for _, node := range c.cluster.Describe() {
		fmt.Fprintf(c.out, "\t\tnode %v: ", node.ID)
		c.colorFor(node.State).Fprintln(c.out, node.State)
	}

	if leader, ok := c.cluster.Leader(); ok {
		fmt.Fprintf(c.out, "\t\tleader: node %v\n", leader)
	} else {
		fmt.Fprintln(c.out, "\t\tleader: none")
	}
}

func (c *Console) colorFor(state string) *color.Color {
	switch state {
	case election.Leader.String():
		return c.leader
	case election.Follower.String():
		return c.follower
	case election.Crashed.String():
		return c.crashed
	default:
		return c.other
	}
}

func (c *Console) printEvents(limit int) {
	events := c.cluster.Events(limit)
	if len(events) == 0 {
		fmt.Fprintln(c.out, "\t\tno events yet")
		return
	}

	for _, event := range events {
		fmt.Fprintf(c.out, "\t\t%s %s\n", event.Timestamp.Format("15:04:05.000"), event.Message)
	}
}
