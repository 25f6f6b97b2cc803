package scrape

import "sync"

// Event topics published during a run.
const (
	TopicProgress  = "progress"
	TopicCompleted = "completed"
)

// Event is one progress or completion notification. Payload is either a
// model.Progress or a model.Completion depending on Topic.
type Event struct {
	Topic   string
	Payload any
}

// Bus is a fire-and-forget in-process pub/sub for run events. Publishing
// with no listener is not an error, and a slow subscriber drops events
// rather than stalling the run.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	alive bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), alive: true}
}

func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	evt := Event{Topic: topic, Payload: payload}
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop if the subscriber is too slow.
		}
	}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	if !b.alive {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Shutdown closes all subscriber channels and refuses further publishes.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.alive = false
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
