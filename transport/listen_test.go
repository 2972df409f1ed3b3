package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestListenTCPPlain verifies that a plain tcp config binds on the
// requested interface and port with no TLS involved.
func TestListenTCPPlain(t *testing.T) {
	f := NewFactory(t.TempDir())
	port, err := freeTCPPort("127.0.0.1")
	require.NoError(t, err)

	ln, err := f.Listen(context.Background(), &Config{
		Type:      "tcp",
		Interface: "127.0.0.1",
		Port:      LiteralPort(port),
	})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	assert.Equal(t, port, addr.Port)
	assert.Equal(t, "127.0.0.1", addr.IP.String())

	// A plain net.Conn roundtrip, no cipher negotiation anywhere.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("ok"))
		conn.Close()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
	conn.Close()
	<-done
}

// TestListenTCPPortFromEnv verifies the "$ENVVAR" port form resolved
// through the injected environment.
func TestListenTCPPortFromEnv(t *testing.T) {
	port, err := freeTCPPort("127.0.0.1")
	require.NoError(t, err)

	f := NewFactory(t.TempDir(), WithEnvLookup(func(name string) (string, bool) {
		if name == "ROUTER_PORT" {
			return "  " + strconv.Itoa(port) + " ", true
		}
		return "", false
	}))

	ln, err := f.Listen(context.Background(), &Config{
		Type:      "tcp",
		Interface: "127.0.0.1",
		Port:      EnvPort("ROUTER_PORT"),
	})
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, port, ln.Addr().(*net.TCPAddr).Port)
}

// TestListenBacklogAccepted verifies that a configured backlog is accepted
// for compatibility and the endpoint binds normally; the accept queue
// depth itself comes from the system setting.
func TestListenBacklogAccepted(t *testing.T) {
	f := NewFactory(t.TempDir())

	ln, err := f.Listen(context.Background(), &Config{
		Type:      "tcp",
		Interface: "127.0.0.1",
		Backlog:   128,
	})
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

// TestListenOSAssignedPort verifies that an absent port asks the OS for a
// free one.
func TestListenOSAssignedPort(t *testing.T) {
	f := NewFactory(t.TempDir())

	ln, err := f.Listen(context.Background(), &Config{Type: "tcp", Interface: "127.0.0.1"})
	require.NoError(t, err)
	defer ln.Close()
	assert.NotZero(t, ln.Addr().(*net.TCPAddr).Port)
}

// TestListenPortRange verifies first-free-port selection and range
// exhaustion.
func TestListenPortRange(t *testing.T) {
	f := NewFactory(t.TempDir())

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	t.Run("exhausted range", func(t *testing.T) {
		_, err := f.Listen(context.Background(), &Config{
			Type:      "tcp",
			Interface: "127.0.0.1",
			PortRange: &PortRange{Low: busyPort, High: busyPort},
		})
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
	})

	t.Run("skips occupied ports", func(t *testing.T) {
		ln, err := f.Listen(context.Background(), &Config{
			Type:      "tcp",
			Interface: "127.0.0.1",
			PortRange: &PortRange{Low: busyPort, High: busyPort + 10},
		})
		require.NoError(t, err)
		defer ln.Close()

		port := ln.Addr().(*net.TCPAddr).Port
		assert.NotEqual(t, busyPort, port)
		assert.Greater(t, port, busyPort)
		assert.LessOrEqual(t, port, busyPort+10)
	})

	t.Run("free single-port range", func(t *testing.T) {
		free, err := freeTCPPort("127.0.0.1")
		require.NoError(t, err)

		ln, err := f.Listen(context.Background(), &Config{
			Type:      "tcp",
			Interface: "127.0.0.1",
			PortRange: &PortRange{Low: free, High: free},
		})
		require.NoError(t, err)
		defer ln.Close()
		assert.Equal(t, free, ln.Addr().(*net.TCPAddr).Port)
	})
}

// TestListenUnknownType verifies the unknown-tag error for both resolve
// directions, with no side effects.
func TestListenUnknownType(t *testing.T) {
	f := NewFactory(t.TempDir())
	cfg := &Config{Type: "quic", Port: LiteralPort(4433)}

	_, err := f.ListeningEndpoint(cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "quic")

	_, err = f.ConnectingEndpoint(cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "quic")
}

// TestListenTLSv6Unimplemented verifies that TLS combined with IPv6 is
// rejected as unimplemented on both sides.
func TestListenTLSv6Unimplemented(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath, _ := writeSelfSignedCert(t, dir)
	f := NewFactory(dir)

	_, err := f.ListeningEndpoint(&Config{
		Type:    "tcp",
		Version: 6,
		Port:    LiteralPort(4433),
		TLS:     &TLSConfig{Key: keyPath, Certificate: certPath},
	})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = f.ConnectingEndpoint(&Config{
		Type:    "tcp",
		Version: 6,
		Host:    "::1",
		Port:    LiteralPort(4433),
		TLS:     &TLSConfig{Hostname: "router.example.org"},
	})
	require.ErrorAs(t, err, &cfgErr)
}

func TestListenInvalidIPVersion(t *testing.T) {
	f := NewFactory(t.TempDir())

	_, err := f.ListeningEndpoint(&Config{Type: "tcp", Version: 5, Port: LiteralPort(4433)})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// TestListenTLSWithoutCapability verifies the injected-capability error.
func TestListenTLSWithoutCapability(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath, _ := writeSelfSignedCert(t, dir)
	f := NewFactory(dir, WithoutTLS("TLS disabled for test"))

	_, err := f.ListeningEndpoint(&Config{
		Type: "tcp",
		Port: LiteralPort(4433),
		TLS:  &TLSConfig{Key: keyPath, Certificate: certPath},
	})
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "tls", capErr.Capability)
	assert.Contains(t, capErr.Reason, "disabled for test")
}

// TestListenTLS runs a full handshake against a TLS listening endpoint
// and checks the negotiated suite comes from the hardened default list.
func TestListenTLS(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath, certPEM := writeSelfSignedCert(t, dir)
	f := NewFactory(dir)

	ln, err := f.Listen(context.Background(), &Config{
		Type:      "tcp",
		Interface: "127.0.0.1",
		TLS:       &TLSConfig{Key: keyPath, Certificate: certPath},
	})
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		serverDone <- conn.(*tls.Conn).Handshake()
	}()

	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(certPEM))
	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
		ServerName: "localhost",
		RootCAs:    roots,
	})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, <-serverDone)

	expected, _, err := parseCipherString(defaultCiphers)
	require.NoError(t, err)
	assert.Contains(t, expected, conn.ConnectionState().CipherSuite)
}

// TestUnixListenRemovesStaleSocket verifies the idempotent-bind behavior:
// an existing filesystem entry at the socket path is removed before
// binding, repeatedly.
func TestUnixListenRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)
	socketPath := filepath.Join(dir, "router.sock")
	cfg := &Config{Type: "unix", Path: "router.sock"}

	// A stale entry left by an uncleanly terminated previous run.
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	endpoint, err := f.ListeningEndpoint(cfg)
	require.NoError(t, err)
	ln, err := endpoint.Listen(context.Background())
	require.NoError(t, err)
	ln.Close()

	// Same again with a fresh stale file.
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))
	endpoint, err = f.ListeningEndpoint(cfg)
	require.NoError(t, err)
	ln, err = endpoint.Listen(context.Background())
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	conn.Close()
}

// TestUnixListenExpandsEnvVars verifies environment expansion inside the
// socket path.
func TestUnixListenExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MESHROUTE_SOCK_NAME", "expanded.sock")
	f := NewFactory(dir)

	ln, err := f.Listen(context.Background(), &Config{Type: "unix", Path: "$MESHROUTE_SOCK_NAME"})
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, filepath.Join(dir, "expanded.sock"), ln.Addr().String())
}

// TestListenDescribed verifies the descriptor-string escape hatch on the
// listening side.
func TestListenDescribed(t *testing.T) {
	f := NewFactory(t.TempDir())

	ln, err := f.Listen(context.Background(), &Config{
		Type:         "described",
		ServerString: "tcp:0:interface=127.0.0.1",
	})
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, "127.0.0.1", ln.Addr().(*net.TCPAddr).IP.String())
}

// TestOnionEndpointConfigValidation covers the configuration-level
// failures of onion listening endpoints.
func TestOnionEndpointConfigValidation(t *testing.T) {
	f := NewFactory(t.TempDir())
	controlEndpoint := &Config{Type: "tcp", Host: "127.0.0.1", Port: LiteralPort(9051)}

	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing private key file",
			cfg:  Config{Type: "onion", Port: LiteralPort(443), TorControlEndpoint: controlEndpoint},
		},
		{
			name: "missing control endpoint",
			cfg:  Config{Type: "onion", Port: LiteralPort(443), PrivateKeyFile: "onion.key"},
		},
		{
			name: "missing port",
			cfg:  Config{Type: "onion", PrivateKeyFile: "onion.key", TorControlEndpoint: controlEndpoint},
		},
		{
			name: "unsupported version",
			cfg: Config{
				Type: "onion", Port: LiteralPort(443), Version: 2,
				PrivateKeyFile: "onion.key", TorControlEndpoint: controlEndpoint,
			},
		},
		{
			name: "invalid control endpoint type",
			cfg: Config{
				Type: "onion", Port: LiteralPort(443),
				PrivateKeyFile:     "onion.key",
				TorControlEndpoint: &Config{Type: "carrier-pigeon"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ListeningEndpoint(&tt.cfg)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}
