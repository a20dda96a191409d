package pubsub

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventType identifies a family of events. Packages publishing on the bus declare their own constants of this type.
type EventType int

// SubscriptionOptions configures how the bus delivers to one subscriber.
type SubscriptionOptions struct {
	// IsBlocking makes the bus wait on a full subscriber channel instead of dropping the event. A slow blocking
	// subscriber stalls delivery to everyone, so node observers should leave this false.
	IsBlocking bool
}

// SubscriberID identifies one subscription and is needed to Unsubscribe.
type SubscriberID uint64

var nextSubscriberID uint64

// Event is a typed event. Event[A] and Event[B] are distinct types, so a subscriber only ever sees the payload type it
// asked for.
type Event[T any] struct {
	Type    EventType
	Payload T
}

func NewEvent[T any](eventType EventType, payload T) *Event[T] {
	return &Event[T]{
		Type:    eventType,
		Payload: payload,
	}
}

// subscriber stores a typed channel behind two closures so subscribers of different payload types share one registry.
type subscriber struct {
	// sendFunc asserts the payload back to the subscriber's type and pushes it on the captured channel. It reports
	// false when the event was not delivered.
	sendFunc  func(eventType EventType, payload any) bool
	closeFunc func()

	Options    SubscriptionOptions
	NumDropped atomic.Uint64
}

type published struct {
	eventType EventType
	payload   any
}

// PubSubClient is a thread-safe fan-out bus. One goroutine (run) reads the publish queue and delivers to every
// subscriber registered for the event type.
type PubSubClient struct {
	mu sync.RWMutex
	wg sync.WaitGroup

	registry map[EventType]map[SubscriberID]*subscriber

	// publishChan is buffered so Publish does not wait for the previous fan-out to finish. Events still in the buffer
	// are delivered during GracefulShutdown.
	publishChan chan published

	shuttingDown atomic.Bool
}

// Subscribe registers ch for eventType. The caller owns the channel and picks its buffer size. Subscribe is a free
// function because Go methods cannot declare type parameters.
func Subscribe[T any](p *PubSubClient, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := SubscriberID(atomic.AddUint64(&nextSubscriberID, 1))

	sub := &subscriber{
		Options: opts,
		sendFunc: func(evType EventType, payload any) bool {
			typedPayload, ok := payload.(T)
			if !ok {
				log.Printf("[PUBSUB] Type mismatch for event %v. Expected %T, got %T", evType, *new(T), payload)
				return false
			}

			event := &Event[T]{Type: evType, Payload: typedPayload}

			if opts.IsBlocking {
				ch <- event
				return true
			}

			select {
			case ch <- event:
				return true
			default:
				return false
			}
		},
		closeFunc: func() {
			close(ch)
		},
	}

	if _, ok := p.registry[eventType]; !ok {
		p.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	p.registry[eventType][id] = sub

	return id
}

// Unsubscribe removes the subscription and closes its channel.
func (p *PubSubClient) Unsubscribe(eventType EventType, id SubscriberID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subscribers, ok := p.registry[eventType]
	if !ok {
		return
	}

	sub, ok := subscribers[id]
	if !ok {
		return
	}

	delete(subscribers, id)
	sub.closeFunc()

	if len(subscribers) == 0 {
		delete(p.registry, eventType)
	}
}

// Publish queues an event for delivery. Events published after shutdown started are dropped.
func Publish[T any](p *PubSubClient, event *Event[T]) {
	// Holding the read lock keeps a shutdown (which needs the write lock) from closing publishChan between the
	// shuttingDown check and the send.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.shuttingDown.Load() {
		return
	}

	p.publishChan <- published{eventType: event.Type, payload: event.Payload}
}

// Dropped returns how many events a non-blocking subscriber missed because its channel was full.
func (p *PubSubClient) Dropped(eventType EventType, id SubscriberID) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if sub, ok := p.registry[eventType][id]; ok {
		return sub.NumDropped.Load()
	}
	return 0
}

// ForceShutdown stops accepting events and returns without waiting for the queue to drain.
func (p *PubSubClient) ForceShutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shuttingDown.Load() {
		return
	}

	p.shuttingDown.Store(true)
	close(p.publishChan)
}

// GracefulShutdown stops accepting events and blocks until every queued event has been delivered.
func (p *PubSubClient) GracefulShutdown() {
	p.mu.Lock()
	if p.shuttingDown.Load() {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}

	p.shuttingDown.Store(true)
	close(p.publishChan)
	// run needs the read lock to fan out, so release before waiting on it
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *PubSubClient) run() {
	defer p.wg.Done()

	for msg := range p.publishChan {
		p.mu.RLock()
		for _, sub := range p.registry[msg.eventType] {
			if !sub.sendFunc(msg.eventType, msg.payload) && !sub.Options.IsBlocking {
				sub.NumDropped.Add(1)
			}
		}
		p.mu.RUnlock()
	}
}

func NewPubSub() *PubSubClient {
	p := &PubSubClient{
		registry:    make(map[EventType]map[SubscriberID]*subscriber),
		publishChan: make(chan published, 256),
	}

	p.wg.Add(1)
	go p.run()

	return p
}
