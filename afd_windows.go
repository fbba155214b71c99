//go:build windows

package afdpoll

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ioctlAFDPoll is the undocumented AFD poll control code. It is not part of
// the documented Winsock surface; wepoll and mio's Windows backend drive
// the same IOCTL against the same helper device.
const ioctlAFDPoll = 0x00012024

// sioBaseHandle unwraps a layered-service-provider socket down to the
// underlying kernel (AFD) socket via WSAIoctl.
const sioBaseHandle = 0x48000022

// afdHelperDeviceName is the private AFD device every poll IOCTL targets.
const afdHelperDeviceName = `\Device\Afd\Wepoll`

// afdPollHandleInfo mirrors AFD_POLL_HANDLE_INFO: one socket's requested
// events plus, on completion, the kernel status for that socket.
type afdPollHandleInfo struct {
	Handle windows.Handle
	Events uint32
	Status windows.NTStatus
}

// afdPollInfo mirrors AFD_POLL_INFO for the single-handle case this package
// always uses: one socket per poll operation.
type afdPollInfo struct {
	Timeout         int64
	NumberOfHandles uint32
	Exclusive       uint32
	Handles         [1]afdPollHandleInfo
}

// maxPollTimeout is the sentinel AFD_POLL_INFO.Timeout value meaning
// "never time out this poll on its own"; cancellation is how we end it.
const maxPollTimeout = int64(1<<63 - 1)

var (
	modntdll                  = windows.NewLazySystemDLL("ntdll.dll")
	procNtDeviceIoControlFile = modntdll.NewProc("NtDeviceIoControlFile")
)

// ntDeviceIoControlFile issues the raw NT IOCTL NtCreateFile's handle
// supports but CreateFile's surface does not expose. Only the AFD poll
// IOCTL is ever sent through here.
func ntDeviceIoControlFile(
	handle windows.Handle,
	event windows.Handle,
	overlapped *windows.Overlapped,
	iosb *windows.IO_STATUS_BLOCK,
	ioControlCode uint32,
	inBuffer unsafe.Pointer,
	inBufferLen uint32,
	outBuffer unsafe.Pointer,
	outBufferLen uint32,
) windows.NTStatus {
	r1, _, _ := procNtDeviceIoControlFile.Call(
		uintptr(handle),
		uintptr(event),
		0,
		uintptr(unsafe.Pointer(overlapped)),
		uintptr(unsafe.Pointer(iosb)),
		uintptr(ioControlCode),
		uintptr(inBuffer),
		uintptr(inBufferLen),
		uintptr(outBuffer),
		uintptr(outBufferLen),
	)
	return windows.NTStatus(r1)
}

// afdPoll issues one IOCTL_AFD_POLL against helperHandle, using overlapped
// as the completion context and info both as the request payload and, on
// synchronous completion, the response buffer. It returns the syscall-level
// error a caller should interpret: nil on synchronous success,
// windows.ERROR_IO_PENDING for the benign asynchronous case, or otherwise the
// windows.Errno translated from the NTSTATUS, unwrapped so callers can
// compare it directly.
func afdPoll(helperHandle windows.Handle, info *afdPollInfo, overlapped *windows.Overlapped) error {
	iosb := (*windows.IO_STATUS_BLOCK)(unsafe.Pointer(&overlapped.Internal))
	iosb.Status = windows.STATUS_PENDING

	status := ntDeviceIoControlFile(
		helperHandle,
		0,
		overlapped,
		iosb,
		ioctlAFDPoll,
		unsafe.Pointer(info),
		uint32(unsafe.Sizeof(*info)),
		unsafe.Pointer(info),
		uint32(unsafe.Sizeof(*info)),
	)

	switch status {
	case windows.STATUS_SUCCESS:
		return nil
	case windows.STATUS_PENDING:
		return windows.ERROR_IO_PENDING
	default:
		return status.Errno()
	}
}

// getBaseSocket unwraps a layered-service-provider socket handle down to
// its underlying kernel socket, via the SIO_BASE_HANDLE WSAIoctl.
func getBaseSocket(socket windows.Handle) (windows.Handle, error) {
	var base windows.Handle
	var bytes uint32
	err := windows.WSAIoctl(
		windows.Handle(socket),
		sioBaseHandle,
		nil,
		0,
		(*byte)(unsafe.Pointer(&base)),
		uint32(unsafe.Sizeof(base)),
		&bytes,
		nil,
		0,
	)
	if err != nil {
		return 0, err
	}
	return base, nil
}

// createHelperHandle opens a fresh handle to the AFD helper device and
// associates it with iocp. Each poll group owns exactly one of these.
func createHelperHandle(iocp windows.Handle) (windows.Handle, error) {
	name, err := windows.NewNTUnicodeString(afdHelperDeviceName)
	if err != nil {
		return 0, err
	}

	oa := &windows.OBJECT_ATTRIBUTES{
		Length:     uint32(unsafe.Sizeof(windows.OBJECT_ATTRIBUTES{})),
		ObjectName: name,
	}

	var handle windows.Handle
	var iosb windows.IO_STATUS_BLOCK

	err = windows.NtCreateFile(
		&handle,
		windows.SYNCHRONIZE,
		oa,
		&iosb,
		nil,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		windows.FILE_OPEN,
		0,
		0,
		0,
	)
	if err != nil {
		return 0, err
	}

	if _, err := windows.CreateIoCompletionPort(handle, iocp, 0, 0); err != nil {
		_ = windows.CloseHandle(handle)
		return 0, err
	}
	if err := windows.SetFileCompletionNotificationModes(handle, windows.FILE_SKIP_SET_EVENT_ON_HANDLE); err != nil {
		_ = windows.CloseHandle(handle)
		return 0, err
	}

	return handle, nil
}

// rawCompletion is one entry drained from the completion port: the raw
// overlapped pointer the kernel handed back, recovered into its owning
// socketRegistration via a container-of computation by the caller.
type rawCompletion struct {
	key        uintptr
	overlapped *windows.Overlapped
}

// completionPort wraps the Windows I/O completion port underlying a
// Selector: creation, batched retrieval, and the wake-up posted to unblock
// a concurrent Wait when a new registration needs it to observe an update
// sooner than its current timeout.
type completionPort struct {
	handle windows.Handle
}

func newCompletionPort() (*completionPort, error) {
	handle, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &completionPort{handle: handle}, nil
}

// associate binds handle to the port so its completions surface from get.
func (p *completionPort) associate(handle windows.Handle) error {
	_, err := windows.CreateIoCompletionPort(handle, p.handle, 0, 0)
	return err
}

// get blocks for at most timeoutMillis (windows.INFINITE if the caller
// wants to block indefinitely) collecting up to cap(out) completions,
// returning the entries filled. A timeout returns an empty slice and a nil
// error, matching spec: a timeout is not an error.
//
// Each subsequent completion already queued is drained without blocking
// again, up to cap(out), so one wait-many call can return a batch rather
// than exactly one event per call.
func (p *completionPort) get(out []rawCompletion, timeoutMillis uint32) ([]rawCompletion, error) {
	out = out[:0]

	for len(out) < cap(out) {
		wait := timeoutMillis
		if len(out) > 0 {
			wait = 0 // already have at least one; don't block for more
		}

		var bytes uint32
		var key uintptr
		var overlapped *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(p.handle, &bytes, &key, &overlapped, wait)
		if err != nil {
			if errno, ok := err.(syscall.Errno); ok && errno == windows.WAIT_TIMEOUT {
				break
			}
			if overlapped == nil {
				if len(out) > 0 {
					break
				}
				return nil, err
			}
			// A failed I/O operation still completes with a valid
			// overlapped pointer; the failure is surfaced through the
			// registration's on_completion, not here.
		}

		if overlapped == nil {
			// A deliberate wake-up posted via PostQueuedCompletionStatus:
			// return immediately so the caller can re-evaluate its state
			// rather than blocking again for the remainder of timeoutMillis.
			break
		}

		out = append(out, rawCompletion{key: key, overlapped: overlapped})
	}

	return out, nil
}

// wake posts an empty completion purely to unblock a concurrent get call.
func (p *completionPort) wake() error {
	return windows.PostQueuedCompletionStatus(p.handle, 0, 0, nil)
}

func (p *completionPort) Close() error {
	return windows.CloseHandle(p.handle)
}

// cancelOverlapped cancels a pending I/O operation targeted at handle,
// identified by overlapped. NotFound (the op already completed between the
// state machine's check and this call) is benign and swallowed.
func cancelOverlapped(handle windows.Handle, overlapped *windows.Overlapped) error {
	err := windows.CancelIoEx(handle, overlapped)
	if err == windows.ERROR_NOT_FOUND {
		return nil
	}
	return err
}

func wrapFatal(op string, err error) error {
	return fmt.Errorf("afdpoll: %s: %w", op, err)
}
