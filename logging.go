//go:build windows

package afdpoll

// logPollGroupCreated logs the creation of a new poll group at debug level.
func (s *Selector) logPollGroupCreated(groupIndex int, handle uintptr) {
	s.opts.logger.Debug().
		Int(`group`, groupIndex).
		Uint64(`handle`, uint64(handle)).
		Log(`pollGroupCreated`)
}

// logSilentDelete logs a registration torn down without a user-visible
// error, either because update() observed an invalid handle or
// on_completion observed AFD_POLL_LOCAL_CLOSE.
func (s *Selector) logSilentDelete(token Token) {
	s.opts.logger.Debug().
		Uint64(`token`, uint64(token)).
		Log(`registration removed silently`)
}

// logFault logs a non-fatal, per-socket error observed during update, at
// debug level: these recover by state transition and are never surfaced to
// the caller as an error return.
func (s *Selector) logFault(op string, token Token, cause error) {
	s.opts.logger.Debug().
		Str(`op`, op).
		Uint64(`token`, uint64(token)).
		Err(cause).
		Log(`afd operation failed`)
}

// logPoisoned logs that the selector has become unusable following a fatal
// kernel error observed from wait.
func (s *Selector) logPoisoned(cause error) {
	s.opts.logger.Err().
		Err(cause).
		Log(`selector poisoned`)
}
