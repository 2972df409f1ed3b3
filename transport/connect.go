package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshroute/meshroute/torsvc"
)

// ConnectingEndpoint resolves cfg into a connecting endpoint, dispatching
// on the type tag.
func (f *Factory) ConnectingEndpoint(cfg *Config) (ConnectingEndpoint, error) {
	switch cfg.Type {
	case "tcp":
		return f.tcpConnectingEndpoint(cfg)
	case "unix":
		return f.unixConnectingEndpoint(cfg)
	case "described":
		return f.clientEndpointFromString(cfg.ClientString)
	case "tor":
		return f.torConnectingEndpoint(cfg)
	default:
		return nil, configErrorf("invalid endpoint type %q", cfg.Type)
	}
}

func (f *Factory) tcpConnectingEndpoint(cfg *Config) (ConnectingEndpoint, error) {
	version := cfg.ipVersion()
	if version != 4 && version != 6 {
		return nil, configErrorf("invalid TCP protocol version %d", version)
	}
	if cfg.Host == "" {
		return nil, configErrorf("tcp connecting endpoint requires host")
	}
	port, err := cfg.Port.Resolve(f.env)
	if err != nil {
		return nil, err
	}

	endpoint := &tcpDialer{
		network: "tcp4",
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		timeout: cfg.connectTimeout(),
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
		tlsConfig, err := buildClientTLSConfig(cfg.TLS, f.baseDir)
		if err != nil {
			return nil, err
		}
		endpoint.tlsConfig = tlsConfig
	}
	return endpoint, nil
}

// tcpDialer dials a plain or TLS TCP connection with a connect timeout.
type tcpDialer struct {
	network   string
	address   string
	timeout   time.Duration
	tlsConfig *tls.Config
}

func (e *tcpDialer) Connect(ctx context.Context) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "tcpDialer.Connect",
		"network":  e.network,
		"address":  e.address,
		"tls":      e.tlsConfig != nil,
	}).Debug("Dialing TCP connection")

	dialer := &net.Dialer{Timeout: e.timeout}
	var conn net.Conn
	var err error
	if e.tlsConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: e.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, e.network, e.address)
	} else {
		conn, err = dialer.DialContext(ctx, e.network, e.address)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tcpDialer.Connect",
			"address":  e.address,
			"error":    err.Error(),
		}).Error("Failed to dial TCP connection")
		return nil, &NetworkError{Op: "connect " + e.address, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "tcpDialer.Connect",
		"local_addr":  conn.LocalAddr().String(),
		"remote_addr": conn.RemoteAddr().String(),
		"tls":         e.tlsConfig != nil,
	}).Info("TCP connection established")
	return conn, nil
}

func (f *Factory) unixConnectingEndpoint(cfg *Config) (ConnectingEndpoint, error) {
	if cfg.Path == "" {
		return nil, configErrorf("unix endpoint requires path")
	}
	return &unixDialer{
		path:    ensureAbsolute(cfg.Path, f.baseDir),
		timeout: cfg.connectTimeout(),
	}, nil
}

// unixDialer dials a Unix domain socket.
type unixDialer struct {
	path    string
	timeout time.Duration
}

func (e *unixDialer) Connect(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: e.timeout}
	conn, err := dialer.DialContext(ctx, "unix", e.path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "unixDialer.Connect",
			"path":     e.path,
			"error":    err.Error(),
		}).Error("Failed to dial Unix socket")
		return nil, &NetworkError{Op: "connect " + e.path, Err: err}
	}
	logrus.WithFields(logrus.Fields{
		"function": "unixDialer.Connect",
		"path":     e.path,
	}).Info("Unix socket connection established")
	return conn, nil
}

func (f *Factory) torConnectingEndpoint(cfg *Config) (ConnectingEndpoint, error) {
	if cfg.Host == "" {
		return nil, configErrorf("tor endpoint requires host")
	}
	port, err := cfg.Port.Resolve(f.env)
	if err != nil {
		return nil, err
	}
	if cfg.TorSocksPort == 0 {
		return nil, configErrorf("tor endpoint requires tor_socks_port")
	}

	useTLS := cfg.TLS.enabled()
	if !useTLS && !torsvc.IsOnionHost(cfg.Host) {
		// Tor encrypts only up to the exit node for non-onion targets.
		logrus.WithFields(logrus.Fields{
			"function": "Factory.torConnectingEndpoint",
			"host":     cfg.Host,
		}).Warn("Non-TLS connection traversing Tor network; end-to-end encryption advised")
	}

	var tlsConfig *tls.Config
	if useTLS {
		if err := f.checkTLS(); err != nil {
			return nil, err
		}
		if cfg.TLS.Hostname != "" || len(cfg.TLS.CACertificates) > 0 || cfg.TLS.Key != "" || cfg.TLS.Certificate != "" {
			hostCfg := *cfg.TLS
			if hostCfg.Hostname == "" {
				hostCfg.Hostname = cfg.Host
			}
			tlsConfig, err = buildClientTLSConfig(&hostCfg, f.baseDir)
			if err != nil {
				return nil, err
			}
		} else {
			tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
		}
	}

	socksDialer, err := torsvc.NewSOCKSDialer(cfg.TorSocksPort)
	if err != nil {
		return nil, err
	}
	return &torDialer{
		dialer:    socksDialer,
		address:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		tlsConfig: tlsConfig,
	}, nil
}

// torDialer dials through the local Tor SOCKS proxy, optionally wrapping
// the stream with TLS bound to the target hostname.
type torDialer struct {
	dialer    *torsvc.SOCKSDialer
	address   string
	tlsConfig *tls.Config
}

func (e *torDialer) Connect(ctx context.Context) (net.Conn, error) {
	conn, err := e.dialer.DialContext(ctx, "tcp", e.address)
	if err != nil {
		return nil, &NetworkError{Op: "tor socks connect " + e.address, Err: err}
	}
	if e.tlsConfig == nil {
		return conn, nil
	}
	tlsConn := tls.Client(conn, e.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &NetworkError{Op: "tor tls handshake " + e.address, Err: err}
	}
	return tlsConn, nil
}
