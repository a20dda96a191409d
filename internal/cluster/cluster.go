package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"election-sim/internal/election"
	"election-sim/internal/metrics"
	"election-sim/internal/pubsub"
)

var (
	ErrUnknownNode    = errors.New("unknown node")
	ErrInvalidSize    = errors.New("cluster needs at least one node")
	ErrAlreadyStarted = errors.New("cluster already started")
	ErrStopped        = errors.New("cluster stopped")
)

// NodeSummary is the one line view of a node: its id and its role, or "crashed".
type NodeSummary struct {
	ID    election.NodeID `json:"id"`
	State string          `json:"state"`
}

// Cluster owns the nodes, the transport they share and the event bus they publish on.
type Cluster struct {
	config    *election.Config
	nodes     []*election.Node
	transport *election.InMemoryTransport
	pubSub    *pubsub.PubSubClient
	recorder  *Recorder
	// metrics is nil when the caller supplied its own MetricsCollector
	metrics *metrics.Metrics

	// Protects the lifecycle fields below
	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates n nodes with ids 0..n-1, all active followers. Nothing runs until Start.
func New(n int, config *election.Config) (*Cluster, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, n)
	}
	if err := election.ValidateConfig(config); err != nil {
		return nil, err
	}

	cfg := *config
	if cfg.Logger == nil {
		cfg.Logger = election.DefaultConfig().Logger
	}

	var m *metrics.Metrics
	switch collector := cfg.Metrics.(type) {
	case nil:
		m = metrics.NewMetrics()
		cfg.Metrics = m
	case *metrics.Metrics:
		m = collector
	}

	c := &Cluster{
		config:    &cfg,
		nodes:     make([]*election.Node, 0, n),
		transport: election.NewInMemoryTransport(n, cfg.Logger, cfg.Metrics),
		pubSub:    pubsub.NewPubSub(),
		metrics:   m,
	}
	c.recorder = NewRecorder(c.pubSub, DefaultMaxEvents)

	for i := 0; i < n; i++ {
		c.nodes = append(c.nodes, election.NewNode(election.NodeID(i), c.config, c.transport, election.WithPubSub(c.pubSub)))
	}

	cfg.Logger.Infof("[CLUSTER] created %d nodes", n)
	return c, nil
}

// Start launches every node loop. The loops stop when ctx is cancelled or Stop is called.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.recorder.Start()

	for _, node := range c.nodes {
		c.wg.Add(1)
		go func(node *election.Node) {
			defer c.wg.Done()
			node.Run(runCtx)
		}(node)
	}

	c.config.Logger.Infof("[CLUSTER] started %d nodes", len(c.nodes))
	return nil
}

// Initialize creates a cluster of n nodes and starts it.
func Initialize(ctx context.Context, n int, config *election.Config) (*Cluster, error) {
	c, err := New(n, config)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Stop cancels the node loops, waits for them to exit and flushes the event history. It is safe to call more than once.
func (c *Cluster) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.pubSub.GracefulShutdown()
	c.recorder.Stop()

	c.config.Logger.Infof("[CLUSTER] stopped")
}

func (c *Cluster) node(id election.NodeID) (*election.Node, error) {
	if id < 0 || int(id) >= len(c.nodes) {
		return nil, fmt.Errorf("%w: %d (cluster has nodes 0..%d)", ErrUnknownNode, id, len(c.nodes)-1)
	}
	return c.nodes[id], nil
}

// Crash crashes node id. Crashing a crashed node is a no-op.
func (c *Cluster) Crash(id election.NodeID) error {
	node, err := c.node(id)
	if err != nil {
		return err
	}
	node.Crash()
	return nil
}

// Recover brings node id back as a follower. Recovering an active node is a no-op.
func (c *Cluster) Recover(id election.NodeID) error {
	node, err := c.node(id)
	if err != nil {
		return err
	}
	node.Recover()
	return nil
}

// Describe lists every node with its role, or "crashed".
func (c *Cluster) Describe() []NodeSummary {
	summaries := make([]NodeSummary, 0, len(c.nodes))
	for _, state := range c.Snapshots() {
		summaries = append(summaries, NodeSummary{ID: state.ID, State: state.Label()})
	}
	return summaries
}

// Snapshots returns the full state of every node, ordered by id. Nodes are read one after the other, so the result
// is not an atomic view of the cluster.
func (c *Cluster) Snapshots() []election.NodeState {
	states := make([]election.NodeState, 0, len(c.nodes))
	for _, node := range c.nodes {
		states = append(states, node.Snapshot())
	}
	return states
}

// Snapshot returns the state of node id.
func (c *Cluster) Snapshot(id election.NodeID) (election.NodeState, error) {
	node, err := c.node(id)
	if err != nil {
		return election.NodeState{}, err
	}
	return node.Snapshot(), nil
}

// Leaders returns the ids of all active leaders.
func (c *Cluster) Leaders() []election.NodeID {
	var leaders []election.NodeID
	for _, state := range c.Snapshots() {
		if state.Status == election.Active && state.Role == election.Leader {
			leaders = append(leaders, state.ID)
		}
	}
	return leaders
}

// Leader returns the active leader if there is exactly one.
func (c *Cluster) Leader() (election.NodeID, bool) {
	leaders := c.Leaders()
	if len(leaders) != 1 {
		return election.NoNode, false
	}
	return leaders[0], true
}

// AwaitLeader polls until exactly one active leader exists or ctx is done.
func (c *Cluster) AwaitLeader(ctx context.Context) (election.NodeID, error) {
	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		if id, ok := c.Leader(); ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return election.NoNode, fmt.Errorf("no leader elected: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Events returns up to limit of the most recent node events, oldest first.
func (c *Cluster) Events(limit int) []Event {
	return c.recorder.Events(limit)
}

// NodeEvents returns up to limit of the most recent events about node id.
func (c *Cluster) NodeEvents(id election.NodeID, limit int) ([]Event, error) {
	if _, err := c.node(id); err != nil {
		return nil, err
	}
	return c.recorder.NodeEvents(id, limit), nil
}

// Report returns the protocol metrics. It reports false when Config.Metrics is a collector other than *metrics.Metrics.
func (c *Cluster) Report() (metrics.Report, bool) {
	if c.metrics == nil {
		return metrics.Report{}, false
	}
	return c.metrics.GetReport(len(c.nodes)), true
}

// Size is the number of nodes, crashed ones included.
func (c *Cluster) Size() int {
	return len(c.nodes)
}

// PubSub returns the bus the nodes publish their transitions on.
func (c *Cluster) PubSub() *pubsub.PubSubClient {
	return c.pubSub
}

// Transport returns the transport shared by the nodes.
func (c *Cluster) Transport() *election.InMemoryTransport {
	return c.transport
}
