//go:build unix && !linux

package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TCP_USER_TIMEOUT is Linux-only; sharedListen rejects user_timeout
// requests on this platform before the socket is created.
const hasTCPUserTimeout = false

func applySocketOptions(raw syscall.RawConn, shared bool, _ time.Duration) error {
	var optErr error
	err := raw.Control(func(fd uintptr) {
		optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if optErr == nil && shared {
			optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return optErr
}
