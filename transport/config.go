package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is absent.
const (
	defaultIPVersion      = 4
	defaultConnectTimeout = 10 * time.Second
	defaultOnionVersion   = 3
)

// Config describes one transport endpoint. It is a tagged union
// discriminated by Type; which fields are meaningful depends on the type
// tag and on whether the config is resolved as a listening or a connecting
// endpoint. The zero value of unused fields is ignored.
//
// Config values are immutable input: the factory never modifies a caller's
// Config during a resolve call.
type Config struct {
	// Type is one of "tcp", "unix", "described", "onion", "tor".
	Type string `yaml:"type" json:"type"`

	// Version is the IP protocol version for tcp endpoints (4 or 6) and
	// the service version for onion endpoints (3 is the only one).
	Version int `yaml:"version,omitempty" json:"version,omitempty"`

	// Interface is the local bind interface for listening tcp endpoints.
	// Empty means all interfaces.
	Interface string `yaml:"interface,omitempty" json:"interface,omitempty"`

	// Host is the remote host for connecting tcp and tor endpoints.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is a literal port number or a "$ENVVAR" reference resolved
	// from the environment.
	Port PortSpec `yaml:"port,omitempty" json:"port,omitempty"`

	// PortRange, when set on a listening config, selects the first free
	// port of the inclusive range instead of Port.
	PortRange *PortRange `yaml:"portrange,omitempty" json:"portrange,omitempty"`

	// Backlog is the accept queue depth for listening endpoints. The Go
	// runtime sizes the listen backlog from the system setting
	// (net.core.somaxconn), so the value is accepted for config
	// compatibility but inert at bind time.
	Backlog int `yaml:"backlog,omitempty" json:"backlog,omitempty"`

	// Timeout is the connect timeout in seconds for connecting endpoints.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Shared requests multi-process port sharing (SO_REUSEPORT) on a
	// listening tcp endpoint.
	Shared bool `yaml:"shared,omitempty" json:"shared,omitempty"`

	// UserTimeout is the TCP user timeout (dead-peer detection) in
	// seconds on a listening tcp endpoint.
	UserTimeout int `yaml:"user_timeout,omitempty" json:"user_timeout,omitempty"`

	// TLS enables TLS on tcp endpoints (server fields on the listening
	// side, client fields on the connecting side). On tor endpoints a
	// bare boolean is accepted.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// Path is the socket file path for unix endpoints.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// ServerString and ClientString carry the descriptor for "described"
	// endpoints.
	ServerString string `yaml:"server_string,omitempty" json:"server_string,omitempty"`
	ClientString string `yaml:"client_string,omitempty" json:"client_string,omitempty"`

	// PrivateKeyFile is the persisted onion-service identity for onion
	// endpoints. Created on first publication, reused afterwards.
	PrivateKeyFile string `yaml:"private_key_file,omitempty" json:"private_key_file,omitempty"`

	// TorControlEndpoint is the connecting endpoint of the local Tor
	// control port for onion endpoints. Resolved recursively, so it may
	// itself be tcp or unix.
	TorControlEndpoint *Config `yaml:"tor_control_endpoint,omitempty" json:"tor_control_endpoint,omitempty"`

	// TorSocksPort is the local Tor SOCKS5 proxy port for tor endpoints.
	TorSocksPort int `yaml:"tor_socks_port,omitempty" json:"tor_socks_port,omitempty"`
}

func (c *Config) ipVersion() int {
	if c.Version == 0 {
		return defaultIPVersion
	}
	return c.Version
}

func (c *Config) connectTimeout() time.Duration {
	if c.Timeout == 0 {
		return defaultConnectTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// clone returns a shallow copy, used where the factory needs to fill in a
// resolved port without touching the caller's record.
func (c *Config) clone() *Config {
	dup := *c
	return &dup
}

// PortSpec is a port value that is either a literal integer or a "$ENVVAR"
// reference read from the environment as a pre-processing step before
// validation.
type PortSpec struct {
	literal int
	envVar  string
	present bool
}

// LiteralPort returns a PortSpec holding a literal port number.
func LiteralPort(port int) PortSpec {
	return PortSpec{literal: port, present: true}
}

// EnvPort returns a PortSpec that resolves from the named environment
// variable.
func EnvPort(name string) PortSpec {
	return PortSpec{envVar: name, present: true}
}

// IsSet reports whether any port value was configured.
func (p PortSpec) IsSet() bool { return p.present }

// Resolve returns the concrete port number, reading the environment through
// lookup for "$ENVVAR" references.
func (p PortSpec) Resolve(lookup EnvLookup) (int, error) {
	if !p.present {
		return 0, configErrorf("port missing")
	}
	if p.envVar == "" {
		return p.literal, nil
	}
	raw, ok := lookup(p.envVar)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "PortSpec.Resolve",
			"env_var":  p.envVar,
		}).Warn("Could not read listening port from env var: not set")
		return 0, configErrorf("port env var %q not set", p.envVar)
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PortSpec.Resolve",
			"env_var":  p.envVar,
			"value":    raw,
		}).Warn("Could not read listening port from env var: not an integer")
		return 0, configErrorf("port env var %q is not an integer: %q", p.envVar, raw)
	}
	return port, nil
}

// UnmarshalYAML accepts an integer or a "$ENVVAR" string.
func (p *PortSpec) UnmarshalYAML(value *yaml.Node) error {
	var port int
	if err := value.Decode(&port); err == nil {
		*p = LiteralPort(port)
		return nil
	}
	var ref string
	if err := value.Decode(&ref); err != nil {
		return fmt.Errorf("port: expected integer or \"$ENVVAR\" string: %w", err)
	}
	if !strings.HasPrefix(ref, "$") || len(ref) < 2 {
		return fmt.Errorf("port: string value must name an env var as \"$NAME\", got %q", ref)
	}
	*p = EnvPort(ref[1:])
	return nil
}

// PortRange is an inclusive [Low, High] TCP port range.
type PortRange struct {
	Low  int
	High int
}

// UnmarshalYAML accepts a two-element sequence [low, high].
func (r *PortRange) UnmarshalYAML(value *yaml.Node) error {
	var bounds []int
	if err := value.Decode(&bounds); err != nil {
		return fmt.Errorf("portrange: expected [low, high]: %w", err)
	}
	if len(bounds) != 2 {
		return fmt.Errorf("portrange: expected exactly 2 elements, got %d", len(bounds))
	}
	if bounds[0] > bounds[1] || bounds[0] < 1 || bounds[1] > 65535 {
		return fmt.Errorf("portrange: invalid range [%d, %d]", bounds[0], bounds[1])
	}
	r.Low, r.High = bounds[0], bounds[1]
	return nil
}

// TLSConfig carries the TLS sub-configuration of a tcp endpoint. On the
// listening side the server fields apply (Key/Certificate required
// together); on the connecting side the client fields apply (Hostname
// required). For tor endpoints a bare "tls: true" boolean is accepted and
// yields an empty config.
type TLSConfig struct {
	// Server side.
	Key               string   `yaml:"key,omitempty" json:"key,omitempty"`
	Certificate       string   `yaml:"certificate,omitempty" json:"certificate,omitempty"`
	ChainCertificates []string `yaml:"chain_certificates,omitempty" json:"chain_certificates,omitempty"`
	Ciphers           string   `yaml:"ciphers,omitempty" json:"ciphers,omitempty"`
	DHParam           string   `yaml:"dhparam,omitempty" json:"dhparam,omitempty"`

	// Both sides. On the server side the presence of CA certificates
	// enables peer-certificate verification.
	CACertificates []string `yaml:"ca_certificates,omitempty" json:"ca_certificates,omitempty"`

	// Client side.
	Hostname string `yaml:"hostname,omitempty" json:"hostname,omitempty"`

	// set when the config decoded from a literal "tls: false"
	explicitlyDisabled bool
}

// enabled reports whether this TLS section requests TLS at all.
func (c *TLSConfig) enabled() bool {
	return c != nil && !c.explicitlyDisabled
}

// UnmarshalYAML accepts a mapping of TLS fields or a bare boolean.
func (c *TLSConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var on bool
		if err := value.Decode(&on); err != nil {
			return fmt.Errorf("tls: expected mapping or boolean: %w", err)
		}
		*c = TLSConfig{explicitlyDisabled: !on}
		return nil
	}
	type plain TLSConfig
	return value.Decode((*plain)(c))
}

// LoadConfig reads a single transport configuration from a YAML or
// JSON/JSONC file.
func LoadConfig(path string) (*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("parsing %s: %v", path, err)
	}
	return &cfg, nil
}

// LoadTransports reads a node configuration file holding named transports
// under a top-level "transports" mapping.
func LoadTransports(path string) (map[string]*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	var node struct {
		Transports map[string]*Config `yaml:"transports" json:"transports"`
	}
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, configErrorf("parsing %s: %v", path, err)
	}
	if len(node.Transports) == 0 {
		return nil, configErrorf("%s: no transports configured", path)
	}
	return node.Transports, nil
}

// readConfigFile loads the raw bytes, stripping comments and trailing
// commas from .json/.jsonc files first. YAML is a JSON superset, so the
// result always decodes through the YAML parser.
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return data, nil
}

// ensureAbsolute resolves fname against baseDir unless it is already
// absolute.
func ensureAbsolute(fname, baseDir string) string {
	if filepath.IsAbs(fname) {
		return fname
	}
	abs, err := filepath.Abs(filepath.Join(baseDir, fname))
	if err != nil {
		return filepath.Join(baseDir, fname)
	}
	return abs
}
