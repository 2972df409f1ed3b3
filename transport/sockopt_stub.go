//go:build !unix

package transport

import (
	"syscall"
	"time"
)

const hasTCPUserTimeout = false

func applySocketOptions(_ syscall.RawConn, shared bool, _ time.Duration) error {
	if shared {
		return &CapabilityError{
			Capability: "shared-port",
			Reason:     "SO_REUSEPORT socket option not available on this platform",
		}
	}
	return nil
}
