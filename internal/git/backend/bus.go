package backend

import "sync"

type EventKind string

const (
	EventStdout    EventKind = "stdout"
	EventStderr    EventKind = "stderr"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// Event is one notification from a streaming git command.
type Event struct {
	CommandID string    `json:"commandId"`
	Kind      EventKind `json:"kind"`
	Data      string    `json:"data,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Success   *bool     `json:"success,omitempty"`
}

// Terminal reports whether no further events follow for the command.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventError
}

// Publisher receives streaming events.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers keyed by command id. Publish never
// blocks: each subscription buffers without bound and drains on its own
// goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe returns a subscription for commandID, or for every command when
// commandID is empty.
func (b *Bus) Subscribe(commandID string) *Subscription {
	s := &Subscription{
		bus:       b,
		commandID: commandID,
		out:       make(chan Event),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go s.pump()
	return s
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.commandID == "" || s.commandID == ev.CommandID {
			s.enqueue(ev)
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*Subscription]struct{}{}
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription delivers matching events in publish order.
type Subscription struct {
	bus       *Bus
	commandID string

	mu      sync.Mutex
	pending []Event
	closed  bool

	out  chan Event
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		already := s.closed
		s.closed = true
		s.mu.Unlock()
		if !already {
			close(s.done)
		}
	})
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
