package transport

import (
	"context"
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

// ListeningEndpoint is a configured means of accepting connections. Listen
// binds the endpoint and returns the live listener; the caller owns it and
// closes it on shutdown.
type ListeningEndpoint interface {
	Listen(ctx context.Context) (net.Listener, error)
}

// ConnectingEndpoint is a configured means of initiating a connection.
type ConnectingEndpoint interface {
	Connect(ctx context.Context) (net.Conn, error)
}

// EnvLookup reads a named environment variable. Injected so tests and
// embedders can supply their own environment.
type EnvLookup func(name string) (string, bool)

// Factory resolves transport configurations into endpoints. It carries the
// node base directory for relative file paths and the process capabilities
// decided once at construction, so a missing capability surfaces when the
// endpoint is built rather than when it is used.
type Factory struct {
	baseDir       string
	env           EnvLookup
	tlsUnavailable string // non-empty: reason TLS support is absent
}

// Option configures a Factory.
type Option func(*Factory)

// WithEnvLookup replaces the environment used for "$ENVVAR" port
// references.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(f *Factory) { f.env = lookup }
}

// WithoutTLS marks TLS support as unavailable in this process. Any config
// requesting a tls section then fails with a CapabilityError carrying
// reason.
func WithoutTLS(reason string) Option {
	return func(f *Factory) { f.tlsUnavailable = reason }
}

// NewFactory creates an endpoint factory rooted at baseDir.
func NewFactory(baseDir string, opts ...Option) *Factory {
	f := &Factory{
		baseDir: baseDir,
		env:     os.LookupEnv,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// checkTLS returns the CapabilityError for TLS-requesting configs when TLS
// support was withheld at construction.
func (f *Factory) checkTLS() error {
	if f.tlsUnavailable != "" {
		return &CapabilityError{Capability: "tls", Reason: f.tlsUnavailable}
	}
	return nil
}

// Listen resolves cfg as a listening endpoint and binds it, applying the
// port-selection policy first: a configured portrange selects its first
// free port, an absent port asks the OS for any free port, and otherwise
// the configured port is used as-is. TCP configs requesting shared-port
// operation or a TCP user timeout bind through the shared-port path with
// the corresponding platform socket options.
func (f *Factory) Listen(ctx context.Context, cfg *Config) (net.Listener, error) {
	resolved := cfg.clone()

	if resolved.Type == "tcp" {
		if err := f.resolveListenPort(resolved); err != nil {
			return nil, err
		}
	}

	if resolved.Type == "tcp" && (resolved.Shared || resolved.UserTimeout > 0) {
		return f.sharedListen(ctx, resolved)
	}

	endpoint, err := f.ListeningEndpoint(resolved)
	if err != nil {
		return nil, err
	}
	return endpoint.Listen(ctx)
}

// resolveListenPort applies the TCP port-selection policy to cfg in place.
func (f *Factory) resolveListenPort(resolved *Config) error {
	if resolved.PortRange != nil {
		port, err := firstFreeTCPPort(resolved.Interface, resolved.PortRange)
		if err != nil {
			return err
		}
		resolved.Port = LiteralPort(port)
		resolved.PortRange = nil
	} else if !resolved.Port.IsSet() {
		port, err := freeTCPPort(resolved.Interface)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Factory.Listen",
			"port":     port,
		}).Debug("No port configured, using OS-assigned free port")
		resolved.Port = LiteralPort(port)
	}
	return nil
}

// Connect resolves cfg as a connecting endpoint and dials it.
func (f *Factory) Connect(ctx context.Context, cfg *Config) (net.Conn, error) {
	endpoint, err := f.ConnectingEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	return endpoint.Connect(ctx)
}
