package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Cipher-suite allow-list, keyed by OpenSSL token. Every accepted cipher is
// explicit so that neither we nor a pattern-matching cipher-string language
// can slip in RSA key exchange without forward secrecy, 3DES, export or
// anonymous suites.
var cipherTokens = map[string]uint16{
	// AEAD modes (GCM)
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,

	// CBC modes
	"ECDHE-RSA-AES128-SHA256": tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
	"ECDHE-RSA-AES128-SHA":    tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"ECDHE-RSA-AES256-SHA":    tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
}

// Finite-field DHE tokens are recognized but inert: this TLS runtime
// implements no DHE suites, so they activate nothing regardless of a DH
// parameter file. Listing them keeps cipher strings written for the
// OpenSSL-based deployment valid.
var dheCipherTokens = map[string]struct{}{
	"DHE-RSA-AES128-GCM-SHA256": {},
	"DHE-RSA-AES256-GCM-SHA384": {},
	"DHE-RSA-AES128-SHA256":     {},
	"DHE-RSA-AES256-SHA256":     {},
	"DHE-RSA-AES128-SHA":        {},
	"DHE-RSA-AES256-SHA":        {},
}

// defaultCiphers is the hardened default allow-list: forward-secret suites
// only, and intentionally no AES256/SHA-384 and no ECDSA variants, keeping
// the audited surface small. The DHE members are inert (see above) and
// stay listed for parity with the dhparam handling.
const defaultCiphers = "ECDHE-RSA-AES128-GCM-SHA256:" +
	"DHE-RSA-AES128-GCM-SHA256:" +
	"ECDHE-RSA-AES128-SHA256:" +
	"DHE-RSA-AES128-SHA256:" +
	"ECDHE-RSA-AES128-SHA:" +
	"DHE-RSA-AES128-SHA"

// parseCipherString maps a colon-separated OpenSSL cipher string onto Go
// cipher-suite IDs. It returns the number of inert DHE tokens that were
// skipped; any other unknown token is a CryptoLoadError.
func parseCipherString(ciphers string) ([]uint16, int, error) {
	var suites []uint16
	skippedDHE := 0
	for _, token := range strings.Split(ciphers, ":") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if id, ok := cipherTokens[token]; ok {
			suites = append(suites, id)
			continue
		}
		if _, ok := dheCipherTokens[token]; ok {
			skippedDHE++
			continue
		}
		return nil, 0, &CryptoLoadError{Reason: fmt.Sprintf("unsupported cipher token %q", token)}
	}
	if len(suites) == 0 {
		return nil, 0, &CryptoLoadError{Reason: "cipher string selects no usable cipher suites"}
	}
	return suites, skippedDHE, nil
}

// buildServerTLSConfig creates the TLS context for a listening endpoint
// from the tls section of a tcp config. Relative paths resolve against
// baseDir.
func buildServerTLSConfig(cfg *TLSConfig, baseDir string) (*tls.Config, error) {
	if cfg.Key == "" || cfg.Certificate == "" {
		return nil, configErrorf("tls server config requires both key and certificate")
	}

	keyPath := ensureAbsolute(cfg.Key, baseDir)
	certPath := ensureAbsolute(cfg.Certificate, baseDir)
	logrus.WithFields(logrus.Fields{
		"function":  "buildServerTLSConfig",
		"key_file":  keyPath,
		"cert_file": certPath,
	}).Info("Loading server TLS key and certificate")

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &CryptoLoadError{Path: keyPath, Reason: "reading private key", Err: err}
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, &CryptoLoadError{Path: certPath, Reason: "reading certificate", Err: err}
	}
	certificate, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &CryptoLoadError{Path: certPath, Reason: "pairing key and certificate", Err: err}
	}

	// Chain certificates complete the verification chain sent to peers,
	// excluding the leaf which is already loaded above.
	for _, fname := range cfg.ChainCertificates {
		chainPath := ensureAbsolute(fname, baseDir)
		der, err := loadPEMCertificate(chainPath)
		if err != nil {
			return nil, err
		}
		certificate.Certificate = append(certificate.Certificate, der)
		logrus.WithFields(logrus.Fields{
			"function":   "buildServerTLSConfig",
			"chain_file": chainPath,
		}).Info("Loaded server TLS chain certificate")
	}

	// Peer-certificate verification is on if and only if at least one CA
	// certificate is configured.
	var clientCAs *x509.CertPool
	clientAuth := tls.NoClientCert
	if len(cfg.CACertificates) > 0 {
		clientCAs = x509.NewCertPool()
		for _, fname := range cfg.CACertificates {
			caPath := ensureAbsolute(fname, baseDir)
			caPEM, err := os.ReadFile(caPath)
			if err != nil {
				return nil, &CryptoLoadError{Path: caPath, Reason: "reading CA certificate", Err: err}
			}
			if !clientCAs.AppendCertsFromPEM(caPEM) {
				return nil, &CryptoLoadError{Path: caPath, Reason: "no CA certificates found in file"}
			}
			logrus.WithFields(logrus.Fields{
				"function": "buildServerTLSConfig",
				"ca_file":  caPath,
			}).Info("Loaded server TLS CA certificate")
		}
		clientAuth = tls.RequireAndVerifyClientCert
	}

	ciphers := cfg.Ciphers
	if ciphers != "" {
		logrus.WithField("function", "buildServerTLSConfig").Info("Using explicit TLS ciphers from config")
	} else {
		logrus.WithField("function", "buildServerTLSConfig").Info("Using secure default TLS ciphers")
		ciphers = defaultCiphers
	}
	suites, skippedDHE, err := parseCipherString(ciphers)
	if err != nil {
		return nil, err
	}

	// DH modes would require a parameter file; this runtime has no DHE
	// suites at all, so the file is validated but cannot activate them.
	if cfg.DHParam != "" {
		dhPath := ensureAbsolute(cfg.DHParam, baseDir)
		if err := validateDHParamFile(dhPath); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function":     "buildServerTLSConfig",
			"dhparam_file": dhPath,
		}).Warn("DH parameter file loaded, but this TLS runtime has no DHE cipher modes - file is inert")
	} else {
		logrus.WithField("function", "buildServerTLSConfig").
			Warn("No DH parameter file set - DH cipher modes will be deactive!")
	}
	if skippedDHE > 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "buildServerTLSConfig",
			"dhe_ciphers": skippedDHE,
		}).Warn("Skipped DHE cipher tokens - no DHE support in this TLS runtime")
	}

	// Protocol floor TLS 1.1, resumption disabled (session tickets weaken
	// forward secrecy if the ticket key is compromised), ECDHE pinned to
	// P-256. Key shares are ephemeral per handshake.
	return &tls.Config{
		Certificates:           []tls.Certificate{certificate},
		ClientCAs:              clientCAs,
		ClientAuth:             clientAuth,
		CipherSuites:           suites,
		MinVersion:             tls.VersionTLS11,
		SessionTicketsDisabled: true,
		CurvePreferences:       []tls.CurveID{tls.CurveP256},
	}, nil
}

// buildClientTLSConfig creates the TLS context for a connecting endpoint.
// The configured hostname is used for server-name indication and
// certificate verification.
func buildClientTLSConfig(cfg *TLSConfig, baseDir string) (*tls.Config, error) {
	if cfg.Hostname == "" {
		return nil, configErrorf("tls client config requires hostname")
	}

	// Explicit trust root if CA certificates are configured, platform
	// trust store otherwise.
	var roots *x509.CertPool
	if len(cfg.CACertificates) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "buildClientTLSConfig",
			"cnt_certs": len(cfg.CACertificates),
		}).Info("TLS client using explicit trust")
		roots = x509.NewCertPool()
		for _, fname := range cfg.CACertificates {
			caPath := ensureAbsolute(fname, baseDir)
			caPEM, err := os.ReadFile(caPath)
			if err != nil {
				return nil, &CryptoLoadError{Path: caPath, Reason: "reading CA certificate", Err: err}
			}
			if !roots.AppendCertsFromPEM(caPEM) {
				return nil, &CryptoLoadError{Path: caPath, Reason: "no CA certificates found in file"}
			}
			logrus.WithFields(logrus.Fields{
				"function": "buildClientTLSConfig",
				"ca_file":  caPath,
			}).Info("TLS client trust root CA certificate loaded")
		}
	} else {
		logrus.WithField("function", "buildClientTLSConfig").Info("TLS client using platform trust")
	}

	tlsConfig := &tls.Config{
		ServerName: cfg.Hostname,
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}

	// Optional client certificate: key without certificate is a fatal
	// configuration error, certificate without key only warns and no
	// client certificate is used.
	if cfg.Key != "" {
		if cfg.Certificate == "" {
			return nil, configErrorf("tls client key present, but certificate missing")
		}
		keyPath := ensureAbsolute(cfg.Key, baseDir)
		certPath := ensureAbsolute(cfg.Certificate, baseDir)
		keyPEM, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, &CryptoLoadError{Path: keyPath, Reason: "reading client key", Err: err}
		}
		certPEM, err := os.ReadFile(certPath)
		if err != nil {
			return nil, &CryptoLoadError{Path: certPath, Reason: "reading client certificate", Err: err}
		}
		certificate, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, &CryptoLoadError{Path: certPath, Reason: "pairing client key and certificate", Err: err}
		}
		if leaf, err := x509.ParseCertificate(certificate.Certificate[0]); err == nil {
			digest := sha256.Sum256(certificate.Certificate[0])
			logrus.WithFields(logrus.Fields{
				"function":    "buildClientTLSConfig",
				"cert_file":   certPath,
				"cert_cn":     leaf.Subject.CommonName,
				"cert_sha256": hex.EncodeToString(digest[:])[:12],
			}).Info("Loaded client TLS certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{certificate}
	} else if cfg.Certificate != "" {
		logrus.WithField("function", "buildClientTLSConfig").
			Warn("TLS client certificate present, but key is missing - no client certificate will be used")
	}

	return tlsConfig, nil
}

// loadPEMCertificate reads one PEM certificate file and returns its DER
// bytes after a parse check.
func loadPEMCertificate(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CryptoLoadError{Path: path, Reason: "reading certificate", Err: err}
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, &CryptoLoadError{Path: path, Reason: "no PEM CERTIFICATE block found"}
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return nil, &CryptoLoadError{Path: path, Reason: "parsing certificate", Err: err}
	}
	return block.Bytes, nil
}

// validateDHParamFile checks that the file exists and holds a PEM DH
// PARAMETERS block.
func validateDHParamFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CryptoLoadError{Path: path, Reason: "reading DH parameters", Err: err}
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "DH PARAMETERS" {
		return &CryptoLoadError{Path: path, Reason: "no PEM DH PARAMETERS block found"}
	}
	return nil
}
