package transport

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/meshroute/meshroute/torsvc"
)

// ListeningEndpoint resolves cfg into a listening endpoint, dispatching on
// the type tag. The returned endpoint has not bound anything yet; Listen
// does that.
func (f *Factory) ListeningEndpoint(cfg *Config) (ListeningEndpoint, error) {
	switch cfg.Type {
	case "tcp":
		return f.tcpListeningEndpoint(cfg)
	case "unix":
		return f.unixListeningEndpoint(cfg)
	case "described":
		return f.serverEndpointFromString(cfg.ServerString)
	case "onion":
		return f.onionListeningEndpoint(cfg)
	default:
		return nil, configErrorf("invalid endpoint type %q", cfg.Type)
	}
}

func (f *Factory) tcpListeningEndpoint(cfg *Config) (ListeningEndpoint, error) {
	version := cfg.ipVersion()
	if version != 4 && version != 6 {
		return nil, configErrorf("invalid TCP protocol version %d", version)
	}

	port, err := cfg.Port.Resolve(f.env)
	if err != nil {
		return nil, err
	}
	iface := strings.TrimSpace(cfg.Interface)

	endpoint := &tcpListener{
		network: "tcp4",
		address: net.JoinHostPort(iface, strconv.Itoa(port)),
	}
	if version == 6 {
		endpoint.network = "tcp6"
	}

	if cfg.TLS.enabled() {
		if err := f.checkTLS(); err != nil {
			return nil, err
		}
		if version == 6 {
			return nil, configErrorf("TLS on IPv6 not implemented")
		}
		tlsConfig, err := buildServerTLSConfig(cfg.TLS, f.baseDir)
		if err != nil {
			return nil, err
		}
		endpoint.tlsConfig = tlsConfig
	}
	return endpoint, nil
}

// tcpListener binds a plain or TLS-wrapped TCP listener.
type tcpListener struct {
	network   string
	address   string
	tlsConfig *tls.Config
}

func (e *tcpListener) Listen(ctx context.Context) (net.Listener, error) {
	logrus.WithFields(logrus.Fields{
		"function": "tcpListener.Listen",
		"network":  e.network,
		"address":  e.address,
		"tls":      e.tlsConfig != nil,
	}).Debug("Creating TCP listener")

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, e.network, e.address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tcpListener.Listen",
			"address":  e.address,
			"error":    err.Error(),
		}).Error("Failed to create TCP listener")
		return nil, &NetworkError{Op: "listen " + e.address, Err: err}
	}
	if e.tlsConfig != nil {
		ln = tls.NewListener(ln, e.tlsConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "tcpListener.Listen",
		"local_addr": ln.Addr().String(),
		"tls":        e.tlsConfig != nil,
	}).Info("TCP listener created")
	return ln, nil
}

func (f *Factory) unixListeningEndpoint(cfg *Config) (ListeningEndpoint, error) {
	if cfg.Path == "" {
		return nil, configErrorf("unix endpoint requires path")
	}
	// Environment variables in the socket path are expanded before the
	// path is anchored at the node directory.
	path := ensureAbsolute(os.ExpandEnv(cfg.Path), f.baseDir)
	return &unixListener{path: path}, nil
}

// unixListener binds a Unix domain socket, removing a stale socket file
// first so a previous uncleanly terminated run cannot block rebinding.
type unixListener struct {
	path string
}

func (e *unixListener) Listen(ctx context.Context) (net.Listener, error) {
	if _, err := os.Lstat(e.path); err == nil {
		logrus.WithFields(logrus.Fields{
			"function": "unixListener.Listen",
			"path":     e.path,
		}).Info("Socket path exists, removing before binding")
		if err := os.Remove(e.path); err != nil {
			return nil, &NetworkError{Op: "remove stale socket " + e.path, Err: err}
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", e.path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "unixListener.Listen",
			"path":     e.path,
			"error":    err.Error(),
		}).Error("Failed to create Unix socket listener")
		return nil, &NetworkError{Op: "listen " + e.path, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "unixListener.Listen",
		"local_addr": ln.Addr().String(),
	}).Info("Unix socket listener created")
	return ln, nil
}

func (f *Factory) onionListeningEndpoint(cfg *Config) (ListeningEndpoint, error) {
	port, err := cfg.Port.Resolve(f.env)
	if err != nil {
		return nil, err
	}
	if cfg.PrivateKeyFile == "" {
		return nil, configErrorf("onion endpoint requires private_key_file")
	}
	if cfg.TorControlEndpoint == nil {
		return nil, configErrorf("onion endpoint requires tor_control_endpoint")
	}
	if cfg.Version != 0 && cfg.Version != 3 {
		// v2 services are gone from the Tor network.
		return nil, configErrorf("onion service version %d not supported (only version 3)", cfg.Version)
	}
	keyFile := ensureAbsolute(cfg.PrivateKeyFile, f.baseDir)

	// The control endpoint is itself a connecting transport config, so it
	// may be tcp or unix.
	controlEndpoint, err := f.ConnectingEndpoint(cfg.TorControlEndpoint)
	if err != nil {
		return nil, err
	}

	manager, err := torsvc.NewManager(port, keyFile, cfg.Version, controlEndpoint.Connect)
	if err != nil {
		return nil, err
	}
	return &onionListener{manager: manager}, nil
}

// onionListener publishes a Tor onion service backed by a local loopback
// listener.
type onionListener struct {
	manager *torsvc.Manager
}

func (e *onionListener) Listen(ctx context.Context) (net.Listener, error) {
	return e.manager.Listen(ctx)
}
