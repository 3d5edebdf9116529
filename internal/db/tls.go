package db

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"newsletter/internal/logging"
)

const pemEndCertificate = "-----END CERTIFICATE-----"

func buildTLSConfig(serverName, bundle string, log *logging.Logger) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("load system certificate pool: %w", err)
	}
	if strings.TrimSpace(bundle) != "" {
		loaded := appendCertificates(roots, bundle, log)
		log.Info("loaded additional CA certificates", "count", loaded)
	}
	return &tls.Config{
		RootCAs:    roots,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// splitCertificateBundle cuts a PEM bundle after every end marker. Trailing
// text without a marker is kept as its own block so it can be reported.
func splitCertificateBundle(bundle string) []string {
	var blocks []string
	rest := bundle
	for {
		idx := strings.Index(rest, pemEndCertificate)
		if idx < 0 {
			break
		}
		end := idx + len(pemEndCertificate)
		blocks = append(blocks, rest[:end])
		rest = rest[end:]
	}
	if strings.TrimSpace(rest) != "" {
		blocks = append(blocks, rest)
	}
	return blocks
}

// appendCertificates adds every parseable certificate of bundle to pool and
// returns how many were added. Unparseable blocks are skipped with a warning.
func appendCertificates(pool *x509.CertPool, bundle string, log *logging.Logger) int {
	loaded := 0
	for i, block := range splitCertificateBundle(bundle) {
		cert, err := parseCertificate(block)
		if err != nil {
			log.Warn("skipping unparseable CA certificate", "index", i, "error", err)
			continue
		}
		pool.AddCert(cert)
		loaded++
	}
	return loaded
}

func parseCertificate(block string) (*x509.Certificate, error) {
	p, _ := pem.Decode([]byte(block))
	if p == nil {
		return nil, errors.New("no PEM data found")
	}
	if p.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block %q", p.Type)
	}
	return x509.ParseCertificate(p.Bytes)
}
