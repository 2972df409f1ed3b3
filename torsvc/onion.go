package torsvc

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cretz/bine/control"
	"github.com/sirupsen/logrus"
)

// ServiceError reports a failed onion-service publication step: control
// connection, key handling, local bind, or the publication itself.
type ServiceError struct {
	Step string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("onion service %s failed: %v", e.Step, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// State is the publication state of a Manager.
type State int

const (
	StateIdle State = iota
	StateLocalBound
	StateControlConnected
	StatePublished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalBound:
		return "local-bound"
	case StateControlConnected:
		return "control-connected"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ControlDialer opens a connection to the Tor control port. It is supplied
// by the caller, so the control endpoint can be TCP or a Unix socket.
type ControlDialer func(ctx context.Context) (net.Conn, error)

// Manager publishes one Tor onion service backed by a local loopback
// listener. The service identity lives in the key file: read and reused
// when present, requested from Tor and persisted after the first successful
// publication when absent. No step is retried; every failure surfaces as a
// *ServiceError and the caller decides.
type Manager struct {
	virtPort int
	keyFile  string
	dial     ControlDialer

	mu    sync.Mutex
	state State
}

// NewManager creates a manager for an onion service mapping the externally
// visible virtPort onto a loopback listener bound at publication time.
// version 0 means the default, version 3; it is the only supported key
// version.
func NewManager(virtPort int, keyFile string, version int, dial ControlDialer) (*Manager, error) {
	if version != 0 && version != 3 {
		return nil, fmt.Errorf("onion service version %d not supported (only version 3)", version)
	}
	if dial == nil {
		return nil, fmt.Errorf("onion service manager requires a control dialer")
	}
	return &Manager{virtPort: virtPort, keyFile: keyFile, dial: dial, state: StateIdle}, nil
}

// State returns the current publication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) fail(step string, err error) *ServiceError {
	m.setState(StateFailed)
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Listen",
		"step":     step,
		"error":    err.Error(),
	}).Error("Onion service publication failed")
	return &ServiceError{Step: step, Err: err}
}

// Listen publishes the onion service and returns its local listener. Every
// connection accepted from it is onion-service traffic forwarded by Tor.
// The sequence is strictly ordered: local bind, control connection, key
// resolution, publication, key persistence.
func (m *Manager) Listen(ctx context.Context) (*Listener, error) {
	// The local TCP port does not matter, but we need to know it to map
	// the onion port onto it.
	var lc net.ListenConfig
	local, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, m.fail("local bind", err)
	}
	m.setState(StateLocalBound)
	localPort := local.Addr().(*net.TCPAddr).Port

	conn, err := m.dial(ctx)
	if err != nil {
		local.Close()
		return nil, m.fail("control connection", err)
	}
	ctrl := control.NewConn(textproto.NewConn(conn))
	if err := ctrl.Authenticate(""); err != nil {
		ctrl.Close()
		local.Close()
		return nil, m.fail("control authentication", err)
	}
	m.setState(StateControlConnected)

	key, fresh, err := m.resolveKey()
	if err != nil {
		ctrl.Close()
		local.Close()
		return nil, m.fail("private key", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Listen",
		"virt_port":  m.virtPort,
		"local_port": localPort,
		"fresh_key":  fresh,
	}).Info("Creating onion service (descriptor upload can take 30s or more)")

	resp, err := ctrl.AddOnion(&control.AddOnionRequest{
		Key: key,
		Ports: []*control.KeyVal{
			{Key: strconv.Itoa(m.virtPort), Val: "127.0.0.1:" + strconv.Itoa(localPort)},
		},
	})
	if err != nil {
		ctrl.Close()
		local.Close()
		return nil, m.fail("publication", err)
	}

	// A fresh key comes back from Tor; persist it now so future runs
	// reuse the same address.
	if fresh && resp.Key != nil {
		if err := m.persistKey(resp.Key); err != nil {
			ctrl.DelOnion(resp.ServiceID)
			ctrl.Close()
			local.Close()
			return nil, m.fail("key persistence", err)
		}
	}

	onionAddr := &OnionAddr{ServiceID: resp.ServiceID, Port: m.virtPort}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Listen",
		"hostname": onionAddr.String(),
		"ports":    fmt.Sprintf("%d -> 127.0.0.1:%d", m.virtPort, localPort),
	}).Info("Listening on Tor onion service")
	m.setState(StatePublished)

	return &Listener{
		Listener:  local,
		ctrl:      ctrl,
		onionAddr: onionAddr,
	}, nil
}

// resolveKey loads the persisted service key, or returns a key-generation
// request when the file does not exist yet.
func (m *Manager) resolveKey() (control.Key, bool, error) {
	data, err := os.ReadFile(m.keyFile)
	if os.IsNotExist(err) {
		return control.GenKey(control.KeyAlgoED25519V3), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading onion private key: %w", err)
	}
	key, err := control.KeyFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, false, fmt.Errorf("parsing onion private key from %s: %w", m.keyFile, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.resolveKey",
		"key_file": m.keyFile,
	}).Info("Onion private key loaded")
	return key, false, nil
}

// persistKey writes the newly generated key with owner-only permissions.
func (m *Manager) persistKey(key control.Key) error {
	serialized := fmt.Sprintf("%s:%s", key.Type(), key.Blob())
	if err := os.WriteFile(m.keyFile, []byte(serialized), 0o600); err != nil {
		return fmt.Errorf("writing onion private key: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.persistKey",
		"key_file": m.keyFile,
	}).Info("Wrote onion private key")
	return nil
}

// Listener is the local loopback listener of a published onion service.
// Closing it removes the service and drops the control connection; an
// ephemeral onion service only lives as long as that connection.
type Listener struct {
	net.Listener
	ctrl      *control.Conn
	onionAddr *OnionAddr

	closeOnce sync.Once
	closeErr  error
}

// OnionAddr returns the published onion address.
func (l *Listener) OnionAddr() *OnionAddr { return l.onionAddr }

// Close removes the onion service and closes the local listener.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		if err := l.ctrl.DelOnion(l.onionAddr.ServiceID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Listener.Close",
				"hostname": l.onionAddr.String(),
				"error":    err.Error(),
			}).Warn("Failed to remove onion service on close")
		}
		ctrlErr := l.ctrl.Close()
		l.closeErr = l.Listener.Close()
		if l.closeErr == nil {
			l.closeErr = ctrlErr
		}
	})
	return l.closeErr
}
