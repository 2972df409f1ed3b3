package transport

import (
	"errors"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// freeTCPPort asks the OS for any free TCP port on the given interface.
func freeTCPPort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, &NetworkError{Op: "allocate free port", Err: err}
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, &NetworkError{Op: "allocate free port", Err: err}
	}
	return port, nil
}

// firstFreeTCPPort scans the inclusive range for the first port that can be
// bound on the given interface. The probe listener is closed again; the
// port is only reserved, not held, so the caller binds it promptly.
func firstFreeTCPPort(host string, r *PortRange) (int, error) {
	for port := r.Low; port <= r.High; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		logrus.WithFields(logrus.Fields{
			"function": "firstFreeTCPPort",
			"port":     port,
			"low":      r.Low,
			"high":     r.High,
		}).Debug("Selected first free port in range")
		return port, nil
	}
	return 0, &NetworkError{
		Op:  "find free port in range [" + strconv.Itoa(r.Low) + ", " + strconv.Itoa(r.High) + "]",
		Err: errPortRangeExhausted,
	}
}

var errPortRangeExhausted = errors.New("no free port in configured range")
