package event

import (
	"sync"
	"time"

	"github.com/dshills/negstation/internal/event/topic"
)

// MemoryPublisher stores published events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// Publish records the event.
func (p *MemoryPublisher) Publish(t topic.Topic, payload any) {
	p.mu.Lock()
	p.events = append(p.events, Envelope{
		Topic:    t,
		Payload:  payload,
		Metadata: Metadata{ID: newID(), Timestamp: time.Now()},
	})
	p.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (p *MemoryPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.events))
	copy(out, p.events)
	return out
}

// OnTopic returns the recorded events published on t.
func (p *MemoryPublisher) OnTopic(t topic.Topic) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Envelope
	for _, e := range p.events {
		if e.Topic == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all recorded events.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}
