package election

import (
	"sync"

	"go.uber.org/atomic"
)

// Transport moves messages between the nodes of one cluster
type Transport interface {
	// Send appends msg to the inbox of to. It is a no-op if from is crashed or to is unknown.
	Send(from, to NodeID, msg Message)
	// Broadcast sends msg to every node except from. It is a no-op if from is crashed.
	Broadcast(from NodeID, msg Message)
	// DrainOne removes and returns the oldest pending message for id. It reports false if the inbox is empty.
	DrainOne(id NodeID) (Message, bool)
	// Close marks id as crashed and discards its inbox.
	Close(id NodeID)
	// Open marks id as active again with a fresh, empty inbox.
	Open(id NodeID)
	// Size is the number of nodes in the cluster.
	Size() int
}

// inbox is the queue of one node. Any peer may enqueue, only the owning node dequeues.
type inbox struct {
	mu    sync.Mutex
	queue []Message
	open  bool
}

// InMemoryTransport implements Transport with one mutex-guarded queue per node. The set of nodes is fixed at
// construction, so the inbox map is never written after NewInMemoryTransport returns.
type InMemoryTransport struct {
	inboxes map[NodeID]*inbox
	ids     []NodeID

	sent    *atomic.Uint64
	dropped *atomic.Uint64

	logger  Logger
	metrics MetricsCollector
}

// NewInMemoryTransport creates a transport for nodes 0..size-1, all active.
func NewInMemoryTransport(size int, logger Logger, metrics MetricsCollector) *InMemoryTransport {
	if logger == nil {
		logger = &defaultLogger{}
	}

	t := &InMemoryTransport{
		inboxes: make(map[NodeID]*inbox, size),
		ids:     make([]NodeID, 0, size),
		sent:    atomic.NewUint64(0),
		dropped: atomic.NewUint64(0),
		logger:  logger,
		metrics: metrics,
	}

	for i := 0; i < size; i++ {
		id := NodeID(i)
		t.inboxes[id] = &inbox{open: true}
		t.ids = append(t.ids, id)
	}

	return t
}

func (t *InMemoryTransport) isOpen(id NodeID) bool {
	box, ok := t.inboxes[id]
	if !ok {
		return false
	}

	box.mu.Lock()
	defer box.mu.Unlock()
	return box.open
}

// Send enqueues msg for to unless from is crashed
func (t *InMemoryTransport) Send(from, to NodeID, msg Message) {
	if !t.isOpen(from) {
		return
	}
	t.deliver(to, msg)
}

// Broadcast sends msg to every node except from
func (t *InMemoryTransport) Broadcast(from NodeID, msg Message) {
	if !t.isOpen(from) {
		return
	}

	for _, id := range t.ids {
		if id == from {
			continue
		}
		t.deliver(id, msg)
	}
}

// deliver enqueues msg for to. Messages for a crashed node are dropped, it accepts nothing until recovered.
func (t *InMemoryTransport) deliver(to NodeID, msg Message) {
	box, ok := t.inboxes[to]
	if !ok {
		t.logger.Warnf("[TRANSPORT] Dropping %v for unknown node %v", msg, to)
		t.drop()
		return
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	if !box.open {
		t.drop()
		return
	}

	box.queue = append(box.queue, msg)
	t.sent.Inc()
}

func (t *InMemoryTransport) drop() {
	t.dropped.Inc()
	if t.metrics != nil {
		t.metrics.RecordMessageDropped()
	}
}

// DrainOne removes and returns the oldest message waiting for id
func (t *InMemoryTransport) DrainOne(id NodeID) (Message, bool) {
	box, ok := t.inboxes[id]
	if !ok {
		return Message{}, false
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	if !box.open || len(box.queue) == 0 {
		return Message{}, false
	}

	msg := box.queue[0]
	// zero the slot so the backing array does not pin old messages
	box.queue[0] = Message{}
	box.queue = box.queue[1:]

	return msg, true
}

// Close discards the inbox of id and stops delivery to and from it
func (t *InMemoryTransport) Close(id NodeID) {
	t.reset(id, false)
}

// Open gives id a fresh empty inbox and resumes delivery
func (t *InMemoryTransport) Open(id NodeID) {
	t.reset(id, true)
}

func (t *InMemoryTransport) reset(id NodeID, open bool) {
	box, ok := t.inboxes[id]
	if !ok {
		return
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	if n := len(box.queue); n > 0 {
		t.logger.Debugf("[TRANSPORT] Discarding %d in-flight messages for node %v", n, id)
	}
	box.queue = nil
	box.open = open
}

// Size returns the number of registered nodes, crashed ones included
func (t *InMemoryTransport) Size() int {
	return len(t.ids)
}

// Pending returns the number of messages waiting in the inbox of id.
func (t *InMemoryTransport) Pending(id NodeID) int {
	box, ok := t.inboxes[id]
	if !ok {
		return 0
	}

	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.queue)
}

// Sent returns the number of messages enqueued so far
func (t *InMemoryTransport) Sent() uint64 {
	return t.sent.Load()
}

// Dropped returns the number of messages discarded because the recipient was crashed or unknown
func (t *InMemoryTransport) Dropped() uint64 {
	return t.dropped.Load()
}
