//go:build windows

package afdpoll

import (
	"testing"
	"time"

	"golang.org/x/sys/windows"
)

func newOverlappedTCPSocket(t *testing.T) windows.Handle {
	t.Helper()
	sock, err := windows.WSASocket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		t.Fatalf("WSASocket failed: %v", err)
	}
	return sock
}

func TestCompletionPortInitClose(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	if port.handle == 0 || port.handle == windows.InvalidHandle {
		t.Fatal("completion port handle not initialized")
	}
	if err := port.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCompletionPortWake(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	defer port.Close()

	if err := port.wake(); err != nil {
		t.Fatalf("wake failed: %v", err)
	}

	// get must return promptly on a wake rather than blocking for the full
	// timeout, even though a wake carries no completion of its own.
	buf := make([]rawCompletion, 4)
	start := time.Now()
	got, err := port.get(buf, 5000)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("get took %v to return after a wake, want well under the 5s timeout", elapsed)
	}
	if len(got) != 0 {
		t.Fatalf("expected no completions from a bare wake, got %d", len(got))
	}
}

func TestCompletionPortGet_timeout(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	defer port.Close()

	buf := make([]rawCompletion, 4)
	got, err := port.get(buf, 50)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no completions on an idle port, got %d", len(got))
	}
}

func TestCreateHelperHandle(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	defer port.Close()

	handle, err := createHelperHandle(port.handle)
	if err != nil {
		t.Fatalf("createHelperHandle failed: %v", err)
	}
	defer windows.CloseHandle(handle)

	if handle == 0 || handle == windows.InvalidHandle {
		t.Fatal("helper handle not initialized")
	}
}

func TestGetBaseSocket(t *testing.T) {
	sock := newOverlappedTCPSocket(t)
	defer windows.Closesocket(sock)

	base, err := getBaseSocket(sock)
	if err != nil {
		t.Fatalf("getBaseSocket failed: %v", err)
	}
	// An unlayered socket's base handle is itself.
	if base != sock {
		t.Errorf("base handle = %v, want %v", base, sock)
	}
}

func TestAFDPollListenerAcceptReadable(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	defer port.Close()

	helper, err := createHelperHandle(port.handle)
	if err != nil {
		t.Fatalf("createHelperHandle failed: %v", err)
	}
	defer windows.CloseHandle(helper)

	listener := newOverlappedTCPSocket(t)
	defer windows.Closesocket(listener)

	addr := windows.SockaddrInet4{Port: 0}
	copy(addr.Addr[:], []byte{127, 0, 0, 1})
	if err := windows.Bind(listener, &addr); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := windows.Listen(listener, 1); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	bound, err := windows.Getsockname(listener)
	if err != nil {
		t.Fatalf("Getsockname failed: %v", err)
	}
	boundAddr, ok := bound.(*windows.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockname type %T", bound)
	}

	client := newOverlappedTCPSocket(t)
	defer windows.Closesocket(client)
	connectAddr := *boundAddr
	if err := windows.Connect(client, &connectAddr); err != nil {
		t.Skipf("loopback connect unavailable in this environment: %v", err)
	}

	base, err := getBaseSocket(listener)
	if err != nil {
		t.Fatalf("getBaseSocket failed: %v", err)
	}

	var overlapped windows.Overlapped
	info := afdPollInfo{
		Timeout:         maxPollTimeout,
		NumberOfHandles: 1,
		Handles: [1]afdPollHandleInfo{{
			Handle: base,
			Events: composeKernelMask(Readable),
		}},
	}

	if err := afdPoll(helper, &info, &overlapped); err != nil && err != windows.ERROR_IO_PENDING {
		t.Fatalf("afdPoll failed: %v", err)
	}

	buf := make([]rawCompletion, 1)
	got, err := port.get(buf, 5000)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatal("expected the pending poll to complete once the client connects")
	}
	if info.Handles[0].Events&afdPollAccept == 0 {
		t.Errorf("expected AFD_POLL_ACCEPT in completed events, got %#x", info.Handles[0].Events)
	}
}

func TestCancelOverlapped_notFoundIsBenign(t *testing.T) {
	port, err := newCompletionPort()
	if err != nil {
		t.Fatalf("newCompletionPort failed: %v", err)
	}
	defer port.Close()

	helper, err := createHelperHandle(port.handle)
	if err != nil {
		t.Fatalf("createHelperHandle failed: %v", err)
	}
	defer windows.CloseHandle(helper)

	var overlapped windows.Overlapped
	if err := cancelOverlapped(helper, &overlapped); err != nil {
		t.Fatalf("cancelOverlapped on an idle overlapped should be benign, got: %v", err)
	}
}
