package torsvc

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SOCKSDialer routes outbound connections through a local Tor SOCKS5
// proxy.
type SOCKSDialer struct {
	proxyAddr string
	dialer    proxy.Dialer
}

// NewSOCKSDialer creates a dialer for the Tor SOCKS5 proxy listening on
// the given local port.
func NewSOCKSDialer(socksPort int) (*SOCKSDialer, error) {
	proxyAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(socksPort))

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewSOCKSDialer",
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("tor SOCKS5 dialer creation failed: %w", err)
	}

	return &SOCKSDialer{proxyAddr: proxyAddr, dialer: dialer}, nil
}

// ProxyAddr returns the local proxy address this dialer routes through.
func (d *SOCKSDialer) ProxyAddr() string { return d.proxyAddr }

// DialContext connects to addr through the SOCKS proxy.
func (d *SOCKSDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "SOCKSDialer.DialContext",
		"address":    addr,
		"proxy_addr": d.proxyAddr,
	}).Debug("Dialing through Tor SOCKS proxy")

	var conn net.Conn
	var err error
	if contextDialer, ok := d.dialer.(proxy.ContextDialer); ok {
		conn, err = contextDialer.DialContext(ctx, network, addr)
	} else {
		conn, err = d.dialer.Dial(network, addr)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "SOCKSDialer.DialContext",
			"address":    addr,
			"proxy_addr": d.proxyAddr,
			"error":      err.Error(),
		}).Error("Failed to dial through Tor SOCKS proxy")
		return nil, fmt.Errorf("tor SOCKS dial failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SOCKSDialer.DialContext",
		"address":     addr,
		"local_addr":  conn.LocalAddr().String(),
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Tor SOCKS connection established")
	return conn, nil
}
