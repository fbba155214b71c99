//go:build windows

package afdpoll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"
)

// Selector emulates a readiness-reporting poller on top of a Windows I/O
// completion port. Wait may be called concurrently from multiple
// goroutines; Register, Reregister, and Deregister are safe to call from
// any goroutine, including while another goroutine is blocked in Wait.
// Register and Reregister apply the resulting interest update before they
// return and, if a Wait is in progress, post a wake-up that makes it return
// early, possibly with zero events. Deregister posts no wake-up; it cancels
// any in-flight poll, and that cancellation's completion is what a blocked
// Wait observes.
type Selector struct {
	opts *selectorOptions

	mu            sync.Mutex
	port          *completionPort
	groups        *pollGroupAllocator
	registrations map[windows.Handle]*socketRegistration
	updateQueue   []*socketRegistration
	pollCount     int

	closed    atomic.Bool
	poisoned  atomic.Bool
	poisonErr atomic.Value // error
}

// New creates a Selector: one completion port and, lazily, one AFD helper
// handle per 32 registered sockets.
func New(opts ...Option) (*Selector, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	port, err := newCompletionPort()
	if err != nil {
		return nil, wrapFatal("create completion port", err)
	}

	s := &Selector{
		opts:          cfg,
		port:          port,
		registrations: make(map[windows.Handle]*socketRegistration),
	}
	s.groups = newPollGroupAllocator(port)

	return s, nil
}

// Register begins monitoring handle for the given interests, delivering
// readiness events tagged with token.
func (s *Selector) Register(handle windows.Handle, token Token, interests Interest) error {
	if interests&(Readable|Writable) == 0 {
		return ErrNoInterests
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(); err != nil {
		return err
	}
	if _, ok := s.registrations[handle]; ok {
		return ErrAlreadyRegistered
	}

	base, err := getBaseSocket(handle)
	if err != nil {
		return WrapError("get base socket", err)
	}

	groupsBefore := len(s.groups.groups)
	group, err := s.groups.acquire()
	if err != nil {
		return err
	}
	if len(s.groups.groups) > groupsBefore {
		s.logPollGroupCreated(len(s.groups.groups)-1, uintptr(group.handle))
	}

	r := &socketRegistration{
		handle:     handle,
		baseHandle: base,
		group:      group,
	}
	r.setEvents(s, interests, token)
	s.registrations[handle] = r

	s.drainUpdateQueueLocked()
	if s.pollCount > 0 {
		_ = s.port.wake()
	}

	return nil
}

// Reregister changes the interests and/or token of an existing registration.
func (s *Selector) Reregister(handle windows.Handle, token Token, interests Interest) error {
	if interests&(Readable|Writable) == 0 {
		return ErrNoInterests
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(); err != nil {
		return err
	}
	r, ok := s.registrations[handle]
	if !ok {
		return ErrNotRegistered
	}

	r.setEvents(s, interests, token)

	s.drainUpdateQueueLocked()
	if s.pollCount > 0 {
		_ = s.port.wake()
	}

	return nil
}

// Deregister stops monitoring handle. Deletion may be deferred until an
// in-flight kernel operation's completion is observed.
func (s *Selector) Deregister(handle windows.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(); err != nil {
		return err
	}
	r, ok := s.registrations[handle]
	if !ok {
		return ErrNotRegistered
	}

	return r.delete(s, false)
}

// Wait blocks until a batch of kernel completions arrives, a wake-up posted
// by Register or Reregister is received, or timeout elapses, storing up to
// len(events) events at the front of events and returning the count filled.
// A batch can yield zero events (a cancellation or a re-arm emits none), so
// a zero count does not by itself mean the timeout elapsed. timeout < 0
// blocks indefinitely; timeout == 0 polls once without blocking. A timeout
// is not an error.
func (s *Selector) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if err := s.checkUsable(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.drainUpdateQueueLocked()
	s.pollCount++
	s.mu.Unlock()

	timeoutMillis := millisFromDuration(timeout)

	capacity := len(events)
	if s.opts.initialEventCapacity > capacity {
		capacity = s.opts.initialEventCapacity
	}
	buf := make([]rawCompletion, capacity)
	raw, err := s.port.get(buf, timeoutMillis)

	s.mu.Lock()
	s.pollCount--

	if err != nil {
		s.poison(err)
		s.mu.Unlock()
		return 0, err
	}

	n := 0
	rearmed := false
	for _, rc := range raw {
		reg := registrationFromOverlapped(rc.overlapped)
		ev := reg.onCompletion(s)
		if reg.updateEnqueued {
			rearmed = true
		}
		if ev != nil && n < len(events) {
			events[n] = *ev
			n++
		}
	}

	if s.pollCount > 0 || rearmed {
		s.drainUpdateQueueLocked()
	}
	s.mu.Unlock()

	return n, nil
}

// WaitContext is a convenience wrapper mapping ctx cancellation to a
// zero-event return. It never interrupts an in-flight kernel wait; it
// bounds each underlying Wait call to a slice of the remaining deadline (or
// a fixed slice if ctx carries none) and loops until an event arrives, Wait
// fails, or the context is done, in which case it returns ctx.Err().
func (s *Selector) WaitContext(ctx context.Context, events []Event) (int, error) {
	const defaultSlice = 100 * time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		slice := defaultSlice
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < slice {
				slice = remaining
			}
			if slice <= 0 {
				// The deadline has passed; Err stays nil until ctx's own
				// timer has closed Done.
				<-ctx.Done()
				return 0, ctx.Err()
			}
		}

		n, err := s.Wait(events, slice)
		if err != nil || n > 0 {
			return n, err
		}
	}
}

// Close releases the completion port and every poll group's helper handle.
// It is safe to call more than once.
func (s *Selector) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups.close()
	return s.port.Close()
}

func (s *Selector) checkUsable() error {
	if s.closed.Load() {
		return ErrSelectorClosed
	}
	if s.poisoned.Load() {
		cause, _ := s.poisonErr.Load().(error)
		return WrapError("selector poisoned", cause)
	}
	return nil
}

func (s *Selector) poison(cause error) {
	if !s.poisoned.Swap(true) {
		s.poisonErr.Store(cause)
		s.logPoisoned(cause)
	}
}

// enqueueUpdate appends r to the update queue unless it is already present.
func (s *Selector) enqueueUpdate(r *socketRegistration) {
	if r.updateEnqueued {
		return
	}
	r.updateEnqueued = true
	s.updateQueue = append(s.updateQueue, r)
}

// dequeueUpdate clears the enqueued flag for r ahead of deletion. update()
// treats a deletePending registration as a no-op, so a stale slice entry
// (if any) is harmless when later drained.
func (s *Selector) dequeueUpdate(r *socketRegistration) {
	r.updateEnqueued = false
}

// drainUpdateQueueLocked applies update() to every currently queued
// registration. Must be called with mu held.
func (s *Selector) drainUpdateQueueLocked() {
	if len(s.updateQueue) == 0 {
		return
	}
	queue := s.updateQueue
	s.updateQueue = nil
	for _, r := range queue {
		if err := r.update(s); err != nil {
			s.logFault("update", r.token, err)
		}
	}
}

// finalizeDelete releases a registration's poll-group slot and removes it
// from the live set.
func (s *Selector) finalizeDelete(r *socketRegistration) {
	s.groups.release(r.group)
	delete(s.registrations, r.handle)
}

func millisFromDuration(d time.Duration) uint32 {
	if d < 0 {
		return windows.INFINITE
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)-1) {
		return ^uint32(0) - 1
	}
	return uint32(ms)
}
