// Package event carries model lifecycle notifications from the controller
// to interested observers (terminal shell, dashboard). Delivery is
// best-effort: a slow observer drops events rather than blocking a load.
package event

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Type discriminates model lifecycle events.
type Type string

const (
	ModelLoaded    Type = "model_loaded"
	ModelPredicted Type = "model_predicted"
)

// ModelEvent describes one state change of the active model.
type ModelEvent struct {
	Type      Type      `json:"type"`
	Path      string    `json:"path,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	ModelType string    `json:"modelType,omitempty"`
	Schema    []string  `json:"schema,omitempty"`
	Label     string    `json:"label,omitempty"`
	At        time.Time `json:"at"`
}

const subscriberBuffer = 16

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ModelEvent
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan ModelEvent)}
}

// Subscribe registers an observer and returns its channel plus an
// unsubscribe id.
func (b *Bus) Subscribe() (int, <-chan ModelEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan ModelEvent, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev ModelEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Int("subscriber", id).Str("type", string(ev.Type)).Msg("event dropped")
		}
	}
}
