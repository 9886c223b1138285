package events

import (
	"sync"
	"time"
)

// RunEvent marks a pipeline run status change.
type RunEvent struct {
	RunID   string    `json:"run_id"`
	Trigger string    `json:"trigger"`
	Status  string    `json:"status"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Bus provides in-process pub/sub for run events and keeps a bounded ring of
// recent events for the ops API.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan RunEvent
	recent []RunEvent
	limit  int
}

func NewBus() *Bus { return &Bus{limit: 100} }

func (b *Bus) Subscribe() <-chan RunEvent {
	ch := make(chan RunEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev RunEvent) {
	b.mu.Lock()
	b.recent = append(b.recent, ev)
	if len(b.recent) > b.limit {
		b.recent = b.recent[len(b.recent)-b.limit:]
	}
	subs := b.subs
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns the retained events, newest last.
func (b *Bus) Recent() []RunEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]RunEvent(nil), b.recent...)
}
