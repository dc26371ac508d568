// Package observable provides the two notification primitives the rest of
// this repo is built on: Property[T] (current value plus change
// notification) and Signal[T] (stateless broadcast). Both allow many
// subscribers, deliver in the order writes occurred, and disconnect by
// passing the opaque Handle returned from Subscribe to Unsubscribe; a Handle
// that is simply discarded leaves its subscription connected.
//
// Delivery is serialized per observable: all subscribers see the same value
// sequence in the same order. Callbacks run on the notifying goroutine and
// must not synchronously re-enter Set on the same Property; such calls are
// detected and rejected with ErrReentrancyRejected.
package observable

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Handle identifies a subscription for later disconnection.
type Handle uint64

// ErrReentrancyRejected is returned by Property.Set when a subscriber
// callback synchronously calls Set on the same Property it was notified
// from.
type ErrReentrancyRejected struct{}

func (ErrReentrancyRejected) Error() string {
	return "observable: reentrant Set on Property from within its own callback"
}

// goroutineID parses the current goroutine's id out of its stack header.
// Used only to tell a reentrant Set (same goroutine, inside a callback)
// apart from a concurrent Set (different goroutine, which must block and
// serialize instead).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		id, err := strconv.ParseUint(s[:i], 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

type subscriber[T any] struct {
	handle Handle
	fn     func(T)
}

// Signal is a stateless broadcast: no stored value, only delivery of each
// emitted value to the subscribers present at emit time.
type Signal[T any] struct {
	mu         sync.Mutex
	nextHandle Handle
	subs       []subscriber[T]

	// deliverMu serializes Emit calls so every subscriber observes the
	// same value order. Held across callbacks; Subscribe/Unsubscribe only
	// take mu and therefore never block behind a running callback.
	deliverMu sync.Mutex
}

// Subscribe registers fn to be called, in order, for every future Emit.
func (s *Signal[T]) Subscribe(fn func(T)) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	h := s.nextHandle
	s.subs = append(s.subs, subscriber[T]{handle: h, fn: fn})
	return h
}

// Unsubscribe disconnects the subscriber registered under h, if still present.
func (s *Signal[T]) Unsubscribe(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.handle == h {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every current subscriber, in subscription order, on the
// calling goroutine. Concurrent Emits serialize; each subscriber sees the
// same total order of values.
func (s *Signal[T]) Emit(v T) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}
}

// Property holds a current value of T and notifies subscribers on every Set
// call, even when the new value equals the old one: "change" here is the
// write-call itself, not a diff, because the Engine relies on reassigning an
// unchanged value to mean "refresh".
type Property[T any] struct {
	mu           sync.Mutex
	value        T
	nextHandle   Handle
	subs         []subscriber[T]
	notifying    bool
	notifyingGID uint64

	deliverMu sync.Mutex
}

// NewProperty constructs a Property with an initial value.
func NewProperty[T any](initial T) *Property[T] {
	return &Property[T]{value: initial}
}

// Get returns the current value.
func (p *Property[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Set stores v and notifies every subscriber, in subscription order, on the
// calling goroutine. Concurrent writers serialize; a synchronous Set from
// within one of this Property's own callbacks returns ErrReentrancyRejected
// instead of deadlocking.
func (p *Property[T]) Set(v T) error {
	g := goroutineID()
	p.mu.Lock()
	if p.notifying && p.notifyingGID == g {
		p.mu.Unlock()
		return ErrReentrancyRejected{}
	}
	p.mu.Unlock()

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	p.value = v
	subs := make([]subscriber[T], len(p.subs))
	copy(subs, p.subs)
	p.notifying = true
	p.notifyingGID = g
	p.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}

	p.mu.Lock()
	p.notifying = false
	p.mu.Unlock()
	return nil
}

// Changed returns the subscribable change notification source. Subscribe on
// it the same way as a Signal.
func (p *Property[T]) Changed() *Property[T] { return p }

// Subscribe registers fn for every future Set, including value-unchanged
// writes.
func (p *Property[T]) Subscribe(fn func(T)) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHandle++
	h := p.nextHandle
	p.subs = append(p.subs, subscriber[T]{handle: h, fn: fn})
	return h
}

// Unsubscribe disconnects the subscriber registered under h, if still present.
func (p *Property[T]) Unsubscribe(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub.handle == h {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}
