package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
)

// tlsMinVersion is the minimum TLS version for broker connections.
const tlsMinVersion = tls.VersionTLS12

// NewTLSConfig builds the client TLS context from file-based material.
//
// Behaviour by setting:
//   - CAFile empty: the system root pool is used
//   - CertFile/KeyFile set: presented as the client certificate
//   - Verify false: no certificate checks at all
//   - VerifyHostname false: the chain is verified against the roots but the
//     broker name is not compared with the certificate
//
// All errors wrap ErrTLSConfig. The files are re-read on every call so that
// rotated certificates are picked up on the next connect attempt.
func NewTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	switch {
	case !cfg.Verify:
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-out in config
	case !cfg.VerifyHostname:
		// Disables the built-in check (chain and name) and re-runs the chain
		// part only.
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // chain verified below
		tlsConfig.VerifyConnection = verifyChain(tlsConfig.RootCAs)
	}

	return tlsConfig, nil
}

// verifyChain returns a VerifyConnection callback that validates the peer
// chain against roots without a DNS name. A nil pool means system roots.
func verifyChain(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("%w: broker presented no certificate", ErrTLSConfig)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}

		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		return err
	}
}
