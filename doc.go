// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build windows

// Package afdpoll emulates a level/edge-triggered readiness poller — the
// register-a-socket-with-interests, block-on-wait, drain-a-batch-of-events
// shape familiar from epoll/kqueue — on top of Windows I/O Completion Ports.
//
// # Why
//
// Windows has no native readiness multiplexer for sockets. What it has is
// IOCP: a post-completion model where you issue an operation and later
// collect its result. This package bridges the two by driving the
// undocumented AFD_POLL IOCTL (the same mechanism wepoll and Rust's mio use)
// against each socket's underlying kernel device, and translating the
// AFD poll vocabulary into the Unix-style readiness bits declared in this
// package ([Readable], [Writable], [Hangup], and friends).
//
// # Architecture
//
// Four pieces, leaves first:
//
//   - Event vocabulary (composeKernelMask, decomposeKernelMask): pure
//     bitmask translation between the user alphabet and the AFD alphabet.
//   - Poll-group allocator (pollGroupAllocator): shares one AFD helper
//     handle across up to 32 sockets.
//   - Per-socket state machine (socketRegistration): tracks the lifecycle
//     of one in-flight AFD poll operation.
//   - [Selector]: owns the completion port, the allocator, the update queue,
//     and the table of live registrations (a deferred deletion stays there
//     until its completion arrives), and dispatches completions back into
//     registrations.
//
// # Usage
//
//	sel, err := afdpoll.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sel.Close()
//
//	if err := sel.Register(handle, token, afdpoll.Readable|afdpoll.Writable); err != nil {
//	    log.Fatal(err)
//	}
//
//	events := make([]afdpoll.Event, 64)
//	n, err := sel.Wait(events, 5*time.Second)
//
// # Platform support
//
// Windows only. Emulating completion-port readiness has no meaning on a
// platform that already exposes epoll or kqueue natively, so this package
// carries no portable build.
//
// # Thread safety
//
// [Selector.Wait] may be called concurrently from multiple goroutines.
// [Selector.Register], [Selector.Reregister], and [Selector.Deregister] are
// safe to call from any goroutine, including one currently blocked in Wait
// on another goroutine — see the package-level concurrency notes on
// [Selector] for the exact guarantees.
package afdpoll
