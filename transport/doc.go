// Package transport turns declarative endpoint configuration into live
// network endpoints for the meshroute router: plain TCP, TLS-wrapped TCP,
// Unix domain sockets, descriptor-string endpoints, and Tor onion services
// (inbound hidden services and outbound SOCKS-proxied connections).
//
// # Architecture
//
// The entry point is the Factory, which carries the node base directory
// (all relative file paths in configuration resolve against it) plus the
// process-wide capabilities injected at construction. From a Config record
// the factory resolves either side of a transport:
//
//	f := transport.NewFactory("/var/lib/meshroute")
//	ln, err := f.Listen(ctx, cfg)    // net.Listener
//	conn, err := f.Connect(ctx, cfg) // net.Conn
//
// Endpoint variants follow Go's interface-based design: a ListeningEndpoint
// yields a net.Listener, a ConnectingEndpoint yields a net.Conn, and callers
// own and close both. Config is a tagged union discriminated by the "type"
// field:
//
//	tcp       - TCP v4/v6, optional "tls" section (server or client side)
//	unix      - Unix domain socket, stale socket files removed before bind
//	described - generic endpoint descriptor string, e.g. "tcp:8080"
//	onion     - Tor onion service published through a control connection
//	tor       - outbound connection through a local Tor SOCKS proxy
//
// # Listening ports
//
// Factory.Listen additionally resolves the port-selection policy before any
// socket is created: an explicit port (integer or "$ENVVAR" reference), the
// first free port of a configured "portrange", or an OS-assigned free port
// when no port is configured. TCP configurations requesting "shared"
// (multi-process port reuse via SO_REUSEPORT) or a "user_timeout"
// (TCP_USER_TIMEOUT dead-peer detection) are bound directly with the
// corresponding platform socket options, since those are not expressible
// through the generic endpoint path.
//
// # TLS
//
// Server and client TLS contexts are built fresh per resolve call from PEM
// key/certificate material. The server side applies a hardened, explicit
// cipher allow-list, a TLS 1.1 protocol floor, and disabled session
// resumption; the client side enforces hostname verification and supports
// an explicit trust root or the platform trust store.
//
// # Errors
//
// Failures carry one of the typed errors ConfigError, CryptoLoadError,
// CapabilityError or NetworkError (onion failures use torsvc.ServiceError).
// No component retries internally; every failure is reported upward for the
// caller's retry policy.
package transport
