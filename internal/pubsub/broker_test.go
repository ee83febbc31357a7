package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	broker.Publish(EventLogEntry, "hello")

	select {
	case event := <-sub:
		assert.Equal(t, EventLogEntry, event.Type)
		assert.Equal(t, "hello", event.Payload)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	// Second publish must not block even though nobody is draining.
	done := make(chan struct{})
	go func() {
		broker.Publish(EventSinkCall, 1)
		broker.Publish(EventSinkCall, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	event := <-sub
	assert.Equal(t, 1, event.Payload)
	assert.Equal(t, uint64(1), broker.Dropped())
}

func TestReplayBrokerDeliversLatestToLateSubscriber(t *testing.T) {
	broker := NewReplayBroker[PipeState]()
	defer broker.Close()

	broker.Publish(EventPipeState, PipeState{Connected: false, Reason: "IPC disconnected"})
	broker.Publish(EventPipeState, PipeState{Connected: true, Reason: "IPC connected"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	select {
	case event := <-sub:
		assert.True(t, event.Payload.Connected, "late subscriber must see the retained latest state")
	case <-time.After(time.Second):
		t.Fatal("retained event not delivered")
	}
}

func TestPlainBrokerDoesNotReplay(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	broker.Publish(EventLogEntry, "early")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	select {
	case event := <-sub:
		t.Fatalf("unexpected replayed event: %v", event.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	broker := NewBroker[string]()
	broker.Close()

	sub := broker.Subscribe(context.Background())
	_, open := <-sub
	assert.False(t, open)
}

func TestContextCancelRemovesSubscriber(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	broker := NewBroker[string]()
	broker.Close()
	broker.Close()
}
