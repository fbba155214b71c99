//go:build windows

package afdpoll

import (
	"golang.org/x/sys/cpu"
	"golang.org/x/sys/windows"
)

// maxGroupSize is the maximum number of sockets sharing one AFD helper
// handle. Each helper handle can only usefully batch a bounded number of
// concurrent poll IOCTLs; 32 is the empirically chosen fanout this package
// inherits from wepoll.
const maxGroupSize = 32

// pollGroup is one AFD helper handle shared by up to maxGroupSize sockets.
type pollGroup struct {
	_          cpu.CacheLinePad
	handle     windows.Handle
	groupSize  int
	_          cpu.CacheLinePad
}

// pollGroupAllocator owns a growing, ordered list of poll groups. It is
// always called with the Selector's single mutex held, so its own fields
// need no independent synchronization; the cache-line padding on pollGroup
// itself only matters because groups are read on the hot on_completion
// path across goroutines pinned to different cores.
type pollGroupAllocator struct {
	port   *completionPort
	groups []*pollGroup
}

func newPollGroupAllocator(port *completionPort) *pollGroupAllocator {
	return &pollGroupAllocator{port: port}
}

// acquire returns a group with spare capacity, creating one if the tail
// group is absent or full.
func (a *pollGroupAllocator) acquire() (*pollGroup, error) {
	var tail *pollGroup
	if n := len(a.groups); n > 0 {
		tail = a.groups[n-1]
	}

	if tail == nil || tail.groupSize >= maxGroupSize {
		handle, err := createHelperHandle(a.port.handle)
		if err != nil {
			return nil, WrapError("create poll group", err)
		}
		tail = &pollGroup{handle: handle}
		a.groups = append(a.groups, tail)
	}

	tail.groupSize++
	return tail, nil
}

// release decrements the group's in-use count. The helper handle is never
// closed here; groups persist until the selector itself is closed, mirroring
// source behavior: empty groups are never reclaimed mid-lifetime.
func (a *pollGroupAllocator) release(g *pollGroup) {
	g.groupSize--
}

// close tears down every helper handle. Called once, from Selector.Close.
func (a *pollGroupAllocator) close() {
	for _, g := range a.groups {
		_ = windows.CloseHandle(g.handle)
	}
	a.groups = nil
}
