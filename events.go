//go:build windows

package afdpoll

// Token is an opaque value chosen by the caller at registration time and
// echoed verbatim in every Event produced for that registration. Uniqueness
// per registration within one Selector is expected but not enforced.
type Token uint64

// Interest is a bitmask in the user alphabet, describing what a caller
// wants to be notified about. Error and Hangup are implicitly always
// monitored regardless of the bits a caller supplies.
type Interest uint32

// Readiness is a bitmask in the user alphabet describing what became ready.
type Readiness uint32

// User-alphabet bits. Numeric values are wire-compatible with the Unix
// epoll counterpart this package emulates.
const (
	Readable    Interest = 0x0001
	Priority    Interest = 0x0002
	Writable    Interest = 0x0004
	Error       Interest = 0x0008
	Hangup      Interest = 0x0010
	ReadNormal  Interest = 0x0040
	ReadBand    Interest = 0x0080
	WriteNormal Interest = 0x0100
	WriteBand   Interest = 0x0200
	Msg         Interest = 0x0400
	ReadHangup  Interest = 0x2000
	// Oneshot requests that the first emitted readiness for this
	// registration clears the registration's interests to zero, requiring
	// an explicit Reregister to resume notifications.
	Oneshot Interest = 0x80000000
)

// knownEvents is the mask of every recognized user-alphabet bit except
// Oneshot, which is a modifier rather than an interest in its own right.
// set_events and update use it to detect whether a registration now wants
// strictly more than the kernel is currently polling.
const knownEvents = Interest(Readable | Priority | Writable | Error | Hangup |
	ReadNormal | ReadBand | WriteNormal | WriteBand | Msg | ReadHangup)

// Event is one readiness notification returned from Selector.Wait.
type Event struct {
	Readiness Readiness
	Token     Token
}

// Kernel-alphabet flags, exactly as exposed by the AFD_POLL IOCTL. See
// composeKernelMask / decomposeKernelMask below for the translation tables.
const (
	afdPollReceive           uint32 = 0x0001
	afdPollReceiveExpedited  uint32 = 0x0002
	afdPollSend              uint32 = 0x0004
	afdPollDisconnect        uint32 = 0x0008
	afdPollAbort             uint32 = 0x0010
	afdPollLocalClose        uint32 = 0x0020
	afdPollConnect           uint32 = 0x0040 // unmapped on either side
	afdPollAccept            uint32 = 0x0080
	afdPollConnectFail       uint32 = 0x0100
)

// composeKernelMask translates a user-alphabet interest mask into the
// kernel-alphabet mask to request from the AFD poll IOCTL. local-close is
// always requested, so socket closure remains observable regardless of
// the caller's interests.
func composeKernelMask(userEvents Interest) uint32 {
	kernel := afdPollLocalClose

	if userEvents&(Readable|ReadNormal) != 0 {
		kernel |= afdPollReceive | afdPollAccept
	}
	if userEvents&(Priority|ReadBand) != 0 {
		kernel |= afdPollReceiveExpedited
	}
	if userEvents&(Writable|WriteNormal|WriteBand) != 0 {
		kernel |= afdPollSend
	}
	if userEvents&(Readable|ReadNormal|ReadHangup) != 0 {
		kernel |= afdPollDisconnect
	}
	if userEvents&Hangup != 0 {
		kernel |= afdPollAbort
	}
	if userEvents&Error != 0 {
		kernel |= afdPollConnectFail
	}

	return kernel
}

// decomposeKernelMask translates a kernel-alphabet mask reported by the AFD
// poll IOCTL back into the user alphabet. connect-fail is the one
// asymmetric rule: it yields a superset of bits because a failed connect()
// is reported on Unix as readable, writable, and error all at once.
func decomposeKernelMask(kernelEvents uint32) Readiness {
	var user Readiness

	if kernelEvents&(afdPollReceive|afdPollAccept) != 0 {
		user |= Readiness(Readable | ReadNormal)
	}
	if kernelEvents&afdPollReceiveExpedited != 0 {
		user |= Readiness(Priority | ReadBand)
	}
	if kernelEvents&afdPollSend != 0 {
		user |= Readiness(Writable | WriteNormal | WriteBand)
	}
	if kernelEvents&afdPollDisconnect != 0 {
		user |= Readiness(Readable | ReadNormal | ReadHangup)
	}
	if kernelEvents&afdPollAbort != 0 {
		user |= Readiness(Hangup)
	}
	if kernelEvents&afdPollConnectFail != 0 {
		user |= Readiness(Readable | Writable | Error | ReadNormal | WriteNormal | ReadHangup)
	}

	return user
}
