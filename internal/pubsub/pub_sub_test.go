package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEvent EventType = iota
	otherEvent
)

func receive[T any](t *testing.T, ch chan *Event[T]) *Event[T] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for event")
		return nil
	}
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	p := NewPubSub()
	defer p.GracefulShutdown()

	ch := make(chan *Event[string], 1)
	Subscribe(p, testEvent, ch, SubscriptionOptions{})

	Publish(p, NewEvent(testEvent, "hello"))

	ev := receive(t, ch)
	assert.Equal(t, testEvent, ev.Type)
	assert.Equal(t, "hello", ev.Payload)
}

func TestPubSub_OnlyMatchingEventType(t *testing.T) {
	p := NewPubSub()
	defer p.GracefulShutdown()

	ch := make(chan *Event[int], 1)
	Subscribe(p, testEvent, ch, SubscriptionOptions{})

	Publish(p, NewEvent(otherEvent, 1))
	Publish(p, NewEvent(testEvent, 2))

	ev := receive(t, ch)
	assert.Equal(t, 2, ev.Payload)
}

func TestPubSub_TypeMismatchIsNotDelivered(t *testing.T) {
	p := NewPubSub()

	ch := make(chan *Event[int], 1)
	Subscribe(p, testEvent, ch, SubscriptionOptions{})

	Publish(p, NewEvent(testEvent, "not an int"))
	p.GracefulShutdown()

	assert.Len(t, ch, 0)
}

func TestPubSub_NonBlockingDropsWhenFull(t *testing.T) {
	p := NewPubSub()

	ch := make(chan *Event[int], 1)
	id := Subscribe(p, testEvent, ch, SubscriptionOptions{IsBlocking: false})

	for i := 0; i < 5; i++ {
		Publish(p, NewEvent(testEvent, i))
	}
	p.GracefulShutdown()

	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(4), p.Dropped(testEvent, id))
}

func TestPubSub_Unsubscribe(t *testing.T) {
	p := NewPubSub()
	defer p.GracefulShutdown()

	ch := make(chan *Event[int], 1)
	id := Subscribe(p, testEvent, ch, SubscriptionOptions{})

	p.Unsubscribe(testEvent, id)

	_, open := <-ch
	assert.False(t, open)

	t.Run("unknown id is ignored", func(t *testing.T) {
		assert.NotPanics(t, func() { p.Unsubscribe(testEvent, id) })
	})
}

func TestPubSub_PublishAfterShutdownIsDropped(t *testing.T) {
	p := NewPubSub()
	ch := make(chan *Event[int], 1)
	Subscribe(p, testEvent, ch, SubscriptionOptions{})

	p.ForceShutdown()
	p.ForceShutdown()

	assert.NotPanics(t, func() { Publish(p, NewEvent(testEvent, 1)) })
	p.GracefulShutdown()
}
