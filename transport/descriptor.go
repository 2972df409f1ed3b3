package transport

import (
	"strconv"
	"strings"
)

// Descriptor strings are the escape hatch for endpoint kinds not otherwise
// modeled: a colon-separated string handed through to this generic parser.
//
// Server side:
//
//	tcp:<port>[:interface=<ip>][:backlog=<n>]
//	unix:<path>
//
// Client side:
//
//	tcp:<host>:<port>[:timeout=<seconds>]
//	unix:<path>[:timeout=<seconds>]

func (f *Factory) serverEndpointFromString(desc string) (ListeningEndpoint, error) {
	scheme, rest, ok := strings.Cut(desc, ":")
	if !ok {
		return nil, configErrorf("malformed server descriptor %q", desc)
	}
	switch scheme {
	case "tcp":
		parts := strings.Split(rest, ":")
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, configErrorf("server descriptor %q: invalid port %q", desc, parts[0])
		}
		cfg := &Config{Type: "tcp", Port: LiteralPort(port)}
		for _, opt := range parts[1:] {
			key, val, ok := strings.Cut(opt, "=")
			if !ok {
				return nil, configErrorf("server descriptor %q: malformed option %q", desc, opt)
			}
			switch key {
			case "interface":
				cfg.Interface = val
			case "backlog":
				backlog, err := strconv.Atoi(val)
				if err != nil {
					return nil, configErrorf("server descriptor %q: invalid backlog %q", desc, val)
				}
				cfg.Backlog = backlog
			default:
				return nil, configErrorf("server descriptor %q: unknown option %q", desc, key)
			}
		}
		return f.tcpListeningEndpoint(cfg)
	case "unix":
		if rest == "" {
			return nil, configErrorf("server descriptor %q: missing socket path", desc)
		}
		return f.unixListeningEndpoint(&Config{Type: "unix", Path: rest})
	default:
		return nil, configErrorf("unknown server descriptor scheme %q", scheme)
	}
}

func (f *Factory) clientEndpointFromString(desc string) (ConnectingEndpoint, error) {
	scheme, rest, ok := strings.Cut(desc, ":")
	if !ok {
		return nil, configErrorf("malformed client descriptor %q", desc)
	}
	switch scheme {
	case "tcp":
		parts := strings.Split(rest, ":")
		if len(parts) < 2 {
			return nil, configErrorf("client descriptor %q: expected tcp:<host>:<port>", desc)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, configErrorf("client descriptor %q: invalid port %q", desc, parts[1])
		}
		cfg := &Config{Type: "tcp", Host: parts[0], Port: LiteralPort(port)}
		for _, opt := range parts[2:] {
			key, val, ok := strings.Cut(opt, "=")
			if !ok {
				return nil, configErrorf("client descriptor %q: malformed option %q", desc, opt)
			}
			switch key {
			case "timeout":
				timeout, err := strconv.Atoi(val)
				if err != nil {
					return nil, configErrorf("client descriptor %q: invalid timeout %q", desc, val)
				}
				cfg.Timeout = timeout
			default:
				return nil, configErrorf("client descriptor %q: unknown option %q", desc, key)
			}
		}
		return f.tcpConnectingEndpoint(cfg)
	case "unix":
		parts := strings.Split(rest, ":")
		if parts[0] == "" {
			return nil, configErrorf("client descriptor %q: missing socket path", desc)
		}
		cfg := &Config{Type: "unix", Path: parts[0]}
		for _, opt := range parts[1:] {
			key, val, ok := strings.Cut(opt, "=")
			if !ok {
				return nil, configErrorf("client descriptor %q: malformed option %q", desc, opt)
			}
			if key != "timeout" {
				return nil, configErrorf("client descriptor %q: unknown option %q", desc, key)
			}
			timeout, err := strconv.Atoi(val)
			if err != nil {
				return nil, configErrorf("client descriptor %q: invalid timeout %q", desc, val)
			}
			cfg.Timeout = timeout
		}
		return f.unixConnectingEndpoint(cfg)
	default:
		return nil, configErrorf("unknown client descriptor scheme %q", scheme)
	}
}
