package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// sharedListen binds a TCP listening socket directly with platform socket
// options: SO_REUSEADDR always, SO_REUSEPORT for multi-process port
// sharing when shared is requested, and TCP_USER_TIMEOUT for dead-peer
// detection when user_timeout is set. These options are not expressible
// through the generic endpoint path.
func (f *Factory) sharedListen(ctx context.Context, cfg *Config) (net.Listener, error) {
	version := cfg.ipVersion()
	if version != 4 && version != 6 {
		return nil, configErrorf("invalid TCP protocol version %d", version)
	}

	userTimeout := time.Duration(cfg.UserTimeout) * time.Second
	if userTimeout > 0 && !hasTCPUserTimeout {
		return nil, &CapabilityError{
			Capability: "tcp-user-timeout",
			Reason:     "TCP_USER_TIMEOUT socket option not available on this platform",
		}
	}

	var tlsConfig *tls.Config
	if cfg.TLS.enabled() {
		if err := f.checkTLS(); err != nil {
			return nil, err
		}
		if version == 6 {
			return nil, configErrorf("TLS on IPv6 not implemented")
		}
		var err error
		tlsConfig, err = buildServerTLSConfig(cfg.TLS, f.baseDir)
		if err != nil {
			return nil, err
		}
	}

	port, err := cfg.Port.Resolve(f.env)
	if err != nil {
		return nil, err
	}
	iface := strings.TrimSpace(cfg.Interface)
	address := net.JoinHostPort(iface, strconv.Itoa(port))
	network := "tcp4"
	if version == 6 {
		network = "tcp6"
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Factory.sharedListen",
		"address":      address,
		"shared":       cfg.Shared,
		"user_timeout": cfg.UserTimeout,
		"tls":          tlsConfig != nil,
	}).Debug("Creating shared-port TCP listener")

	lc := net.ListenConfig{
		Control: func(_, _ string, raw syscall.RawConn) error {
			return applySocketOptions(raw, cfg.Shared, userTimeout)
		},
	}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Factory.sharedListen",
			"address":  address,
			"error":    err.Error(),
		}).Error("Failed to create shared-port listener")
		return nil, &NetworkError{Op: "listen " + address, Err: err}
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Factory.sharedListen",
		"local_addr": ln.Addr().String(),
		"shared":     cfg.Shared,
	}).Info("Shared-port TCP listener created")
	return ln, nil
}
