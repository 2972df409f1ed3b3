package transport

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectTCP verifies a plain TCP connect roundtrip through the
// factory.
func TestConnectTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	f := NewFactory(t.TempDir())
	conn, err := f.Connect(context.Background(), &Config{
		Type: "tcp",
		Host: "127.0.0.1",
		Port: LiteralPort(ln.Addr().(*net.TCPAddr).Port),
	})
	require.NoError(t, err)
	defer conn.Close()

	server := <-accepted
	defer server.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

// TestConnectTCPRefused verifies connection failures surface as
// NetworkError.
func TestConnectTCPRefused(t *testing.T) {
	// Grab a port and release it so nothing is listening there.
	port, err := freeTCPPort("127.0.0.1")
	require.NoError(t, err)

	f := NewFactory(t.TempDir())
	_, err = f.Connect(context.Background(), &Config{
		Type:    "tcp",
		Host:    "127.0.0.1",
		Port:    LiteralPort(port),
		Timeout: 2,
	})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, netErr.Op, "connect")
}

func TestConnectTCPMissingHost(t *testing.T) {
	f := NewFactory(t.TempDir())
	_, err := f.ConnectingEndpoint(&Config{Type: "tcp", Port: LiteralPort(8080)})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// TestConnectUnix verifies a Unix socket connect, with the relative path
// resolved against the factory base directory.
func TestConnectUnix(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "node.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	f := NewFactory(dir)
	conn, err := f.Connect(context.Background(), &Config{Type: "unix", Path: "node.sock"})
	require.NoError(t, err)
	conn.Close()
}

// TestConnectDescribed verifies the descriptor-string escape hatch on the
// connecting side.
func TestConnectDescribed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	f := NewFactory(t.TempDir())
	conn, err := f.Connect(context.Background(), &Config{
		Type:         "described",
		ClientString: "tcp:127.0.0.1:" + portString(ln),
	})
	require.NoError(t, err)
	conn.Close()
}

func portString(ln net.Listener) string {
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	return port
}

// TestTorEndpointConfigValidation covers the configuration-level failures
// of tor connecting endpoints.
func TestTorEndpointConfigValidation(t *testing.T) {
	f := NewFactory(t.TempDir())

	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing host",
			cfg:  Config{Type: "tor", Port: LiteralPort(443), TorSocksPort: 9050},
		},
		{
			name: "missing socks port",
			cfg:  Config{Type: "tor", Host: "example.onion", Port: LiteralPort(443)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ConnectingEndpoint(&tt.cfg)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

// TestTorEndpointResolves verifies that a well-formed tor config resolves
// without contacting any proxy.
func TestTorEndpointResolves(t *testing.T) {
	f := NewFactory(t.TempDir())

	endpoint, err := f.ConnectingEndpoint(&Config{
		Type:         "tor",
		Host:         "2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid.onion",
		Port:         LiteralPort(443),
		TorSocksPort: 9050,
	})
	require.NoError(t, err)
	require.NotNil(t, endpoint)
}

// TestConnectTimeout verifies the configured connect timeout is honored
// rather than the ten second default.
func TestConnectTimeout(t *testing.T) {
	cfg := &Config{Type: "tcp", Host: "10.255.255.1", Port: LiteralPort(443), Timeout: 1}
	assert.Equal(t, time.Second, cfg.connectTimeout())

	cfg.Timeout = 0
	assert.Equal(t, 10*time.Second, cfg.connectTimeout())
}
