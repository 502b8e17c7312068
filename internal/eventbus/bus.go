package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the rpc subsystem.
const (
	TypeFetch    = "rpc.fetch"    // schema fetch finished (Data: FetchEvent)
	TypeInvoke   = "rpc.invoke"   // remote method call finished (Data: InvokeEvent)
	TypeEndpoint = "rpc.endpoint" // operator changed an endpoint (Data: EndpointEvent)
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type FetchEvent struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Status  string        `json:"status"`
	Took    time.Duration `json:"took"`
	Backoff time.Duration `json:"backoff,omitempty"`
}

type InvokeEvent struct {
	ID     string        `json:"id"`
	Origin string        `json:"origin"`
	User   string        `json:"user"`
	Room   string        `json:"room"`
	Kind   string        `json:"kind"`
	Took   time.Duration `json:"took"`
}

type EndpointEvent struct {
	URL    string `json:"url"`
	Action string `json:"action"`
	Prefix string `json:"prefix,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock means no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything. Handy for tests and optional wiring.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
