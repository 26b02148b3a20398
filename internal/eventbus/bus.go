package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal between components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
// Data should be small and JSON-serializable because the ops stream encodes it.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a fanout bus that owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	prefix string
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
	drop atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending: unsubscribe takes the write lock
	// before closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.prefix != "" && !strings.HasPrefix(e.Type, s.prefix) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.drop.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.subscribe(buffer, "")
}

// SubscribePrefix only delivers events whose Type starts with prefix.
func (b *memBus) SubscribePrefix(buffer int, prefix string) (<-chan Event, func()) {
	return b.subscribe(buffer, prefix)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *memBus) Dropped() uint64 { return b.drop.Load() }

func (b *memBus) subscribe(buffer int, prefix string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefix: prefix}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

// PrefixSubscriber is implemented by buses that support topic filtering.
type PrefixSubscriber interface {
	SubscribePrefix(buffer int, prefix string) (<-chan Event, func())
}

// SubscribeTopic subscribes with a prefix filter when the bus supports it and
// falls back to an unfiltered subscription otherwise.
func SubscribeTopic(b Bus, buffer int, prefix string) (<-chan Event, func()) {
	if ps, ok := b.(PrefixSubscriber); ok {
		return ps.SubscribePrefix(buffer, prefix)
	}
	return b.Subscribe(buffer)
}
