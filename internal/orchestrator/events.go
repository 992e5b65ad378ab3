package orchestrator

import (
	"sync"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type EventType string

const (
	EventFinding EventType = "finding"
	EventFailure EventType = "detector_failure"
	EventStatus  EventType = "status"
)

// Event is published while a scan runs. Exactly one of Finding, Failure or
// Status is set, matching Type.
type Event struct {
	Type    EventType              `json:"type"`
	ScanID  string                 `json:"scan_id"`
	Finding *types.Finding         `json:"finding,omitempty"`
	Failure *types.DetectorFailure `json:"failure,omitempty"`
	Status  types.ScanStatus       `json:"status,omitempty"`
}

const subscriberBuffer = 64

// Broker fans scan events out to subscribers of that scan. Publishing never
// blocks: a subscriber that falls behind loses events and is expected to
// catch up from the store.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for scanID and a function that
// releases it. The channel is closed on release or when the broker closes.
func (b *Broker) Subscribe(scanID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs[scanID] == nil {
		b.subs[scanID] = make(map[chan Event]struct{})
	}
	b.subs[scanID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[scanID][ch]; !ok {
				return
			}
			delete(b.subs[scanID], ch)
			if len(b.subs[scanID]) == 0 {
				delete(b.subs, scanID)
			}
			close(ch)
		})
	}
}

func (b *Broker) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[ev.ScanID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for scanID, chans := range b.subs {
		for ch := range chans {
			close(ch)
		}
		delete(b.subs, scanID)
	}
}
