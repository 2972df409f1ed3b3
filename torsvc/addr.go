package torsvc

import (
	"encoding/base32"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// OnionAddr is the address of a Tor onion service.
type OnionAddr struct {
	// ServiceID is the onion address without the ".onion" suffix.
	ServiceID string
	// Port is the externally visible onion port.
	Port int
}

var _ net.Addr = (*OnionAddr)(nil)

// Network returns "tcp"; Tor onion services only carry TCP.
func (a *OnionAddr) Network() string { return "tcp" }

func (a *OnionAddr) String() string {
	return net.JoinHostPort(a.ServiceID+".onion", strconv.Itoa(a.Port))
}

// IsOnionHost reports whether host names an onion service.
func IsOnionHost(host string) bool {
	return strings.HasSuffix(host, ".onion")
}

// v3 onion address layout: base32(pubkey[32] || checksum[2] || version[1])
// with checksum = SHA3-256(".onion checksum" || pubkey || version)[:2] and
// version byte 0x03.
const (
	onionChecksumPrefix = ".onion checksum"
	onionV3Version      = 0x03
	onionV3IDLen        = 56
)

var onionBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func onionChecksum(pubKey []byte) []byte {
	h := sha3.New256()
	h.Write([]byte(onionChecksumPrefix))
	h.Write(pubKey)
	h.Write([]byte{onionV3Version})
	return h.Sum(nil)[:2]
}

// AddressFromPublicKey derives the v3 onion service ID (without ".onion")
// from a 32-byte ed25519 public key.
func AddressFromPublicKey(pubKey []byte) (string, error) {
	if len(pubKey) != 32 {
		return "", fmt.Errorf("onion public key must be 32 bytes, got %d", len(pubKey))
	}
	payload := make([]byte, 0, 35)
	payload = append(payload, pubKey...)
	payload = append(payload, onionChecksum(pubKey)...)
	payload = append(payload, onionV3Version)
	return strings.ToLower(onionBase32.EncodeToString(payload)), nil
}

// ValidateAddress checks a v3 onion service ID (with or without the
// ".onion" suffix) for length, version and checksum.
func ValidateAddress(addr string) error {
	id := strings.TrimSuffix(strings.ToLower(addr), ".onion")
	if len(id) != onionV3IDLen {
		return fmt.Errorf("onion address %q: expected %d base32 characters, got %d", addr, onionV3IDLen, len(id))
	}
	payload, err := onionBase32.DecodeString(strings.ToUpper(id))
	if err != nil {
		return fmt.Errorf("onion address %q: invalid base32: %w", addr, err)
	}
	if len(payload) != 35 {
		return fmt.Errorf("onion address %q: decoded to %d bytes, expected 35", addr, len(payload))
	}
	if payload[34] != onionV3Version {
		return fmt.Errorf("onion address %q: unsupported version %d", addr, payload[34])
	}
	pubKey, checksum := payload[:32], payload[32:34]
	expected := onionChecksum(pubKey)
	if checksum[0] != expected[0] || checksum[1] != expected[1] {
		return fmt.Errorf("onion address %q: checksum mismatch", addr)
	}
	return nil
}
