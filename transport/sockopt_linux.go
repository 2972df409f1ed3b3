//go:build linux

package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const hasTCPUserTimeout = true

// applySocketOptions sets the shared-port socket options on the raw socket
// before bind: SO_REUSEADDR always, SO_REUSEPORT when shared,
// TCP_USER_TIMEOUT (milliseconds) when a user timeout is configured.
func applySocketOptions(raw syscall.RawConn, shared bool, userTimeout time.Duration) error {
	var optErr error
	err := raw.Control(func(fd uintptr) {
		optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if optErr == nil && shared {
			optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
		if optErr == nil && userTimeout > 0 {
			optErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT,
				int(userTimeout/time.Millisecond))
		}
	})
	if err != nil {
		return err
	}
	return optErr
}
