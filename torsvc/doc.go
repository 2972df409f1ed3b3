// Package torsvc publishes and reaches Tor onion services for the
// meshroute router.
//
// The Manager drives the asynchronous publication protocol for an inbound
// onion service: it binds a local loopback listener, connects to the Tor
// control port, reuses or requests an ED25519-V3 service key, and asks Tor
// to map the externally visible onion port onto the local listener. The
// service identity is a single persisted key file, created with owner-only
// permissions on the first successful publication and read back verbatim
// afterwards; that file is what keeps the .onion address stable across
// restarts.
//
// Outbound, SOCKSDialer routes connections through a local Tor SOCKS5
// proxy, and OnionAddr/ValidateAddress handle the v3 onion address format
// including its SHA3-256 checksum.
//
// A running Tor daemon is required for real use: the control port for
// publishing (ControlPort in torrc) and the SOCKS port for dialing.
package torsvc
