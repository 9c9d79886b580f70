// Package store holds client-side meeting state behind one dispatch
// goroutine. Every mutation runs on that goroutine in submission order and
// subscribers observe a snapshot after each one.
package store

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("store closed")

type op struct {
	fn    func(*State)
	reply chan State
	sub   *subscription
	// remove drops sub instead of adding it
	remove bool
}

type subscription struct {
	id int
	fn func(State)
}

type Store struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []op
	closed  bool
	current State

	wake chan struct{}
	done chan struct{}

	// owned by the run goroutine
	state  State
	subs   []subscription
	nextID int
}

func New(initial State, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:     log.With("component", "store"),
		current: initial.clone(),
		state:   initial.clone(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Dispatch queues fn and returns immediately. It never blocks, so it is
// safe to call from a subscriber.
func (s *Store) Dispatch(fn func(*State)) error {
	return s.enqueue(op{fn: fn})
}

// Update runs fn and waits for the resulting snapshot. Calling it from a
// subscriber deadlocks; use Dispatch there.
func (s *Store) Update(fn func(*State)) (State, error) {
	reply := make(chan State, 1)
	if err := s.enqueue(op{fn: fn, reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return State{}, ErrClosed
	}
}

// Snapshot returns a copy of the state as of the last applied mutation.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Subscribe registers fn, which first receives the current state and then a
// snapshot after every mutation. Callbacks run on the dispatch goroutine.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	sub := &subscription{fn: fn}
	if err := s.enqueue(op{sub: sub}); err != nil {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = s.enqueue(op{sub: sub, remove: true})
		})
	}
}

// Close applies what is already queued, then stops the dispatch goroutine.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.signal()
	<-s.done
}

func (s *Store) enqueue(o op) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, o)
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer close(s.done)
	for range s.wake {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, o := range batch {
			s.apply(o)
		}
		if closed {
			return
		}
	}
}

func (s *Store) apply(o op) {
	switch {
	case o.remove:
		for i, sub := range s.subs {
			if sub.id == o.sub.id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	case o.sub != nil:
		s.nextID++
		o.sub.id = s.nextID
		s.subs = append(s.subs, *o.sub)
		s.deliver(o.sub.fn, s.state.clone())
	default:
		s.mutate(o)
	}
}

func (s *Store) mutate(o op) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("state mutation panicked", "panic", r)
			}
		}()
		o.fn(&s.state)
	}()

	snap := s.state.clone()
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	for _, sub := range s.subs {
		s.deliver(sub.fn, snap.clone())
	}
	if o.reply != nil {
		o.reply <- snap.clone()
	}
}

func (s *Store) deliver(fn func(State), st State) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panicked", "panic", r)
		}
	}()
	fn(st)
}
