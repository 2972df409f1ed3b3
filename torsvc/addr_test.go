package torsvc

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The torproject.org v3 onion address, a known-good vector.
const torProjectOnion = "2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid"

func TestValidateAddressKnownGood(t *testing.T) {
	assert.NoError(t, ValidateAddress(torProjectOnion))
	assert.NoError(t, ValidateAddress(torProjectOnion+".onion"))
	assert.NoError(t, ValidateAddress(strings.ToUpper(torProjectOnion)))
}

func TestAddressRoundtrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id, err := AddressFromPublicKey(pub)
	require.NoError(t, err)
	assert.Len(t, id, 56)
	assert.NoError(t, ValidateAddress(id))
	assert.NoError(t, ValidateAddress(id+".onion"))
}

func TestAddressFromPublicKeyRejectsBadLength(t *testing.T) {
	_, err := AddressFromPublicKey(make([]byte, 31))
	assert.Error(t, err)
}

func TestValidateAddressRejections(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	id, err := AddressFromPublicKey(pub)
	require.NoError(t, err)

	tests := []struct {
		name string
		addr string
	}{
		{name: "too short", addr: id[:55]},
		{name: "invalid base32", addr: "1" + id[1:]},
		{name: "corrupted checksum", addr: flipChar(id, 53)},
		{name: "corrupted key byte", addr: flipChar(id, 10)},
		{name: "empty", addr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateAddress(tt.addr))
		})
	}
}

// flipChar swaps one base32 character at index i for a different one.
func flipChar(s string, i int) string {
	replacement := byte('a')
	if s[i] == 'a' {
		replacement = 'b'
	}
	return s[:i] + string(replacement) + s[i+1:]
}

func TestIsOnionHost(t *testing.T) {
	assert.True(t, IsOnionHost(torProjectOnion+".onion"))
	assert.False(t, IsOnionHost("router.example.org"))
	assert.False(t, IsOnionHost("192.0.2.10"))
}

func TestOnionAddr(t *testing.T) {
	addr := &OnionAddr{ServiceID: torProjectOnion, Port: 443}
	assert.Equal(t, "tcp", addr.Network())
	assert.Equal(t, torProjectOnion+".onion:443", addr.String())
}
