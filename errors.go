//go:build windows

package afdpoll

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the public Selector API. Wrapped failures
// from the underlying kernel (IOCP creation, AFD helper-handle creation)
// preserve the originating syscall.Errno for errors.Is and errors.As, but
// do not wrap any of these sentinels. No code path returns
// ErrPollGroupExhausted: a failed poll-group allocation is returned as such
// a wrapped kernel error.
var (
	ErrSelectorClosed     = errors.New("afdpoll: selector is closed")
	ErrAlreadyRegistered  = errors.New("afdpoll: handle already registered")
	ErrNotRegistered      = errors.New("afdpoll: handle not registered")
	ErrNoInterests        = errors.New("afdpoll: interests must include Readable or Writable")
	ErrPollGroupExhausted = errors.New("afdpoll: poll group allocation failed")
)

// WrapError wraps cause with a descriptive operation name, preserving the
// cause chain for errors.Is and errors.As.
func WrapError(op string, cause error) error {
	return fmt.Errorf("afdpoll: %s: %w", op, cause)
}
