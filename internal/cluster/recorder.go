package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"election-sim/internal/election"
	"election-sim/internal/pubsub"
)

const (
	// DefaultMaxEvents is the size of the cluster wide event history
	DefaultMaxEvents = 200
	// maxNodeEvents is the size of each per node history
	maxNodeEvents = 20
)

// Event is a human readable record of one node transition
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Node      election.NodeID `json:"node"`
	Peer      election.NodeID `json:"peer"`
	Round     uuid.UUID       `json:"round"`
	Votes     int             `json:"votes,omitempty"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// Recorder keeps a bounded history of the events published by the nodes of one cluster.
type Recorder struct {
	eventsMu   sync.RWMutex
	events     []Event
	nodeEvents map[election.NodeID][]Event
	maxEvents  int

	eventCh chan *pubsub.Event[election.NodeEvent]
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewRecorder subscribes to every node event type on p. Call Start to begin consuming.
func NewRecorder(p *pubsub.PubSubClient, maxEvents int) *Recorder {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	r := &Recorder{
		nodeEvents: make(map[election.NodeID][]Event),
		maxEvents:  maxEvents,
		eventCh:    make(chan *pubsub.Event[election.NodeEvent], 256),
		stopCh:     make(chan struct{}),
	}

	// one channel for every type: the recorder never unsubscribes, so the shared channel is never closed twice
	for _, eventType := range election.AllEvents {
		pubsub.Subscribe(p, eventType, r.eventCh, pubsub.SubscriptionOptions{IsBlocking: false})
	}

	return r
}

// Start consumes events in a background goroutine until Stop.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.eventCh:
			r.record(event)
		case <-r.stopCh:
			// keep whatever the bus flushed before stopping
			for {
				select {
				case event := <-r.eventCh:
					r.record(event)
				default:
					return
				}
			}
		}
	}
}

// Stop ends the consumer goroutine. It is safe to call more than once.
func (r *Recorder) Stop() {
	r.stopped.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Recorder) record(event *pubsub.Event[election.NodeEvent]) {
	if event == nil {
		return
	}
	r.add(newEvent(event.Type, event.Payload))
}

// add appends event to both the cluster wide and the per node history.
func (r *Recorder) add(event Event) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()

	r.events = append(r.events, event)
	if len(r.events) > r.maxEvents {
		r.events = r.events[len(r.events)-r.maxEvents:]
	}

	history := append(r.nodeEvents[event.Node], event)
	if len(history) > maxNodeEvents {
		history = history[len(history)-maxNodeEvents:]
	}
	r.nodeEvents[event.Node] = history
}

// Events returns up to limit of the most recent events, oldest first. A limit <= 0 returns the whole history.
func (r *Recorder) Events(limit int) []Event {
	r.eventsMu.RLock()
	defer r.eventsMu.RUnlock()
	return tail(r.events, limit)
}

// NodeEvents returns up to limit of the most recent events about id, oldest first.
func (r *Recorder) NodeEvents(id election.NodeID, limit int) []Event {
	r.eventsMu.RLock()
	defer r.eventsMu.RUnlock()
	return tail(r.nodeEvents[id], limit)
}

func tail(events []Event, limit int) []Event {
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]Event, limit)
	copy(out, events[len(events)-limit:])
	return out
}

func newEvent(eventType pubsub.EventType, payload election.NodeEvent) Event {
	return Event{
		ID:        uuid.New(),
		Type:      election.EventName(eventType),
		Node:      payload.Node,
		Peer:      payload.Peer,
		Round:     payload.Round,
		Votes:     payload.Votes,
		Message:   describe(eventType, payload),
		Timestamp: payload.At,
	}
}

func describe(eventType pubsub.EventType, p election.NodeEvent) string {
	switch eventType {
	case election.ElectionStarted:
		return fmt.Sprintf("node %v started an election", p.Node)
	case election.CandidacyAnnounced:
		return fmt.Sprintf("node %v sent a candidacy message", p.Node)
	case election.CandidacyAborted:
		return fmt.Sprintf("candidacy of node %v aborted by node %v", p.Node, p.Peer)
	case election.VoteCast:
		return fmt.Sprintf("node %v votes for node %v", p.Node, p.Peer)
	case election.LeaderElected:
		return fmt.Sprintf("node %v is now the leader with %d votes", p.Node, p.Votes)
	case election.ElectionLost:
		return fmt.Sprintf("node %v lost the election with %d votes", p.Node, p.Votes)
	case election.LeaderFollowed:
		return fmt.Sprintf("node %v now follows leader %v", p.Node, p.Peer)
	case election.NodeCrashed:
		return fmt.Sprintf("node %v crashed", p.Node)
	case election.NodeRecovered:
		return fmt.Sprintf("node %v recovered", p.Node)
	default:
		return fmt.Sprintf("node %v: event %d", p.Node, eventType)
	}
}
