package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBus()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(ModelEvent{Type: ModelLoaded, Path: "model.pkl"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, ModelLoaded, ev1.Type)
	assert.Equal(t, "model.pkl", ev2.Path)
	assert.False(t, ev1.At.IsZero())
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(ModelEvent{Type: ModelPredicted, At: at})
	ev := <-ch
	assert.Equal(t, at, ev.At)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(ModelEvent{Type: ModelLoaded})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(ModelEvent{Type: ModelPredicted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The buffer holds at most subscriberBuffer events; the rest dropped.
	require.Len(t, ch, subscriberBuffer)
}
