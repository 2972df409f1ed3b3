package transport

import "fmt"

// ConfigError reports an invalid, missing or contradictory configuration
// field, an unknown endpoint type tag, or an unsupported combination such
// as TLS on IPv6. It is always fatal to the resolve call that produced it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid endpoint configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// CryptoLoadError reports an unreadable or malformed key, certificate, CA,
// chain or DH parameter file, a mismatched key/certificate pair, or an
// unsupported cipher token.
type CryptoLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CryptoLoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("crypto material load failed (%s): %s", e.Path, e.Reason)
	}
	return "crypto material load failed: " + e.Reason
}

func (e *CryptoLoadError) Unwrap() error { return e.Err }

// CapabilityError reports that a required runtime capability (TLS support,
// a platform socket option) is not present. The Reason carries the
// underlying explanation injected at factory construction.
type CapabilityError struct {
	Capability string
	Reason     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q unavailable: %s", e.Capability, e.Reason)
}

// NetworkError reports a bind or connect failure, including connect
// timeouts. It is fatal to the attempt; the caller may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
