//go:build windows

package afdpoll

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// pollPhase is the lifecycle phase of a registration's in-flight AFD poll
// operation.
type pollPhase int32

const (
	phaseIdle pollPhase = iota
	phasePending
	phaseCancelled
)

// socketRegistration is the per-socket state record. overlapped must stay
// the first field: on_completion recovers the owning registration from a
// raw *windows.Overlapped via a container-of computation, and every
// instance is heap-allocated once and referenced only through a stable
// pointer, so the computation stays valid for the lifetime of any in-flight
// kernel operation.
type socketRegistration struct {
	overlapped windows.Overlapped
	pollInfo   afdPollInfo

	handle     windows.Handle // the handle the caller registered
	baseHandle windows.Handle // unwrapped kernel socket
	group      *pollGroup

	userEvents    Interest
	pendingEvents Interest
	token         Token

	phase          pollPhase
	updateEnqueued bool
	deletePending  bool
}

// registrationFromOverlapped recovers the owning registration from the raw
// pointer the completion port hands back, via pointer arithmetic from the
// overlapped field's offset within socketRegistration (the Go analogue of
// the classic C CONTAINING_RECORD macro).
func registrationFromOverlapped(o *windows.Overlapped) *socketRegistration {
	base := uintptr(unsafe.Pointer(o)) - unsafe.Offsetof(socketRegistration{}.overlapped)
	return (*socketRegistration)(unsafe.Pointer(base))
}

// setEvents recomputes user_events from the caller's requested interests,
// implicitly always monitoring Error and Hangup, and stores the token. If
// the registration now wants strictly more than the kernel is currently
// polling, it is enqueued onto the selector's update queue (guarded by
// updateEnqueued so it is never queued twice).
func (r *socketRegistration) setEvents(sel *Selector, interests Interest, token Token) {
	r.userEvents = interests | Error | Hangup
	r.token = token

	if r.userEvents&knownEvents&^r.pendingEvents != 0 {
		sel.enqueueUpdate(r)
	}
}

// update applies a pending interest change for this registration. The
// caller must hold the selector's mutex.
func (r *socketRegistration) update(sel *Selector) error {
	r.updateEnqueued = false
	if r.deletePending {
		return nil
	}

	switch r.phase {
	case phasePending:
		if r.userEvents&knownEvents&^r.pendingEvents != 0 {
			return r.cancelPoll(sel)
		}
		return nil

	case phaseCancelled:
		return nil

	default: // phaseIdle
		r.overlapped = windows.Overlapped{}
		r.pollInfo = afdPollInfo{
			Timeout:         maxPollTimeout,
			NumberOfHandles: 1,
			Handles: [1]afdPollHandleInfo{{
				Handle: r.baseHandle,
				Events: composeKernelMask(r.userEvents),
			}},
		}

		err := afdPoll(r.group.handle, &r.pollInfo, &r.overlapped)
		switch err {
		case nil, windows.ERROR_IO_PENDING:
			r.phase = phasePending
			r.pendingEvents = r.userEvents
			return nil
		}

		if err == windows.ERROR_INVALID_HANDLE || err == windows.ERROR_HANDLE_EOF {
			sel.logSilentDelete(r.token)
			return r.delete(sel, false)
		}

		sel.logFault("afd poll", r.token, err)
		return nil
	}
}

// cancelPoll cancels the in-flight kernel poll targeting this registration.
// Not-found (ERROR_NOT_FOUND) means the operation completed between the state machine's
// check and this call, which is benign; any other failure propagates.
func (r *socketRegistration) cancelPoll(sel *Selector) error {
	if err := cancelOverlapped(r.group.handle, &r.overlapped); err != nil {
		return WrapError("cancel poll", err)
	}
	r.phase = phaseCancelled
	r.pendingEvents = 0
	return nil
}

// delete tears down the registration, possibly deferring physical teardown
// until an in-flight kernel operation's completion arrives.
func (r *socketRegistration) delete(sel *Selector, force bool) error {
	if !r.deletePending {
		if r.phase == phasePending {
			if err := r.cancelPoll(sel); err != nil {
				return err
			}
		}
		sel.dequeueUpdate(r)
		r.deletePending = true
	}

	if force || r.phase == phaseIdle {
		sel.finalizeDelete(r)
	}
	return nil
}

// onCompletion processes one raw kernel completion for this registration,
// returning an Event to emit to the caller, or nil if nothing should be
// emitted (re-arm, spurious wakeup, or finalized deletion).
func (r *socketRegistration) onCompletion(sel *Selector) *Event {
	r.phase = phaseIdle
	r.pendingEvents = 0

	if r.deletePending {
		sel.finalizeDelete(r)
		return nil
	}

	status := windows.NTStatus(r.overlapped.Internal)
	if status == windows.STATUS_CANCELLED {
		return nil
	}
	if int32(status) < 0 {
		sel.enqueueUpdate(r)
		return &Event{Readiness: Readiness(Error), Token: r.token}
	}
	if r.pollInfo.NumberOfHandles < 1 {
		return nil
	}

	kernelEvents := r.pollInfo.Handles[0].Events
	if kernelEvents&afdPollLocalClose != 0 {
		sel.logSilentDelete(r.token)
		sel.finalizeDelete(r)
		return nil
	}

	readiness := decomposeKernelMask(kernelEvents) & Readiness(r.userEvents)
	if readiness == 0 {
		sel.enqueueUpdate(r)
		return nil
	}

	if r.userEvents&Oneshot != 0 {
		r.userEvents = 0
	}
	sel.enqueueUpdate(r)

	return &Event{Readiness: readiness, Token: r.token}
}
