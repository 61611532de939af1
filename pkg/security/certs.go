package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetconsole/pkg/log"
)

const (
	// Warn when the client certificate has less than 30 days left
	certExpiryWarning = 30 * 24 * time.Hour

	// Default certificate directory, relative to the home directory
	defaultCertDir = ".fleetconsole/certs"

	// File names looked up in a certificate directory
	CACertFile     = "ca.crt"
	ClientCertFile = "client.crt"
	ClientKeyFile  = "client.key"
)

// ErrIncompleteKeyPair is returned when only one of certificate and key is set
var ErrIncompleteKeyPair = errors.New("client certificate and key must be given together")

// TLSOptions locates the TLS material for the console connection
type TLSOptions struct {
	// CAFile is a PEM bundle of roots trusted for the server. Empty means the
	// system pool.
	CAFile string

	// CertFile and KeyFile hold the client certificate presented to the
	// server. Both or neither must be set.
	CertFile string
	KeyFile  string

	// Insecure skips server certificate verification
	Insecure bool
}

// DefaultCertDir returns ~/.fleetconsole/certs
func DefaultCertDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultCertDir), nil
}

// OptionsFromDir fills in any unset file in opts from certDir, for files that
// exist there
func OptionsFromDir(opts TLSOptions, certDir string) TLSOptions {
	fill := func(current *string, name string) {
		if *current != "" {
			return
		}
		path := filepath.Join(certDir, name)
		if _, err := os.Stat(path); err == nil {
			*current = path
		}
	}

	fill(&opts.CAFile, CACertFile)
	if opts.CertFile == "" && opts.KeyFile == "" {
		fill(&opts.CertFile, ClientCertFile)
		fill(&opts.KeyFile, ClientKeyFile)
		if opts.CertFile == "" || opts.KeyFile == "" {
			opts.CertFile, opts.KeyFile = "", ""
		}
	}
	return opts
}

// LoadClientTLSConfig builds the TLS configuration used for both the
// WebSocket channel and manifest fetches
func LoadClientTLSConfig(opts TLSOptions) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.Insecure, // --insecure, testing only
	}

	if opts.CAFile != "" {
		pool, err := LoadCAPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if opts.CertFile != "" {
		cert, err := LoadCertFromFile(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{*cert}

		if remaining := GetCertTimeRemaining(cert.Leaf); remaining < certExpiryWarning {
			log.Logger.Warn().
				Str("subject", cert.Leaf.Subject.CommonName).
				Time("not_after", cert.Leaf.NotAfter).
				Msg("Client certificate expires soon")
		}
	}

	return tlsConfig, nil
}

// LoadCertFromFile loads a TLS certificate from files
func LoadCertFromFile(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	// Parse certificate to populate Leaf field
	if cert.Leaf == nil {
		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = x509Cert
	}

	return &cert, nil
}

// LoadCAPool reads a PEM bundle into a certificate pool
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to decode CA certificate PEM: %s", caFile)
	}
	return pool, nil
}

// GetCertTimeRemaining returns the time remaining until certificate expiry
func GetCertTimeRemaining(cert *x509.Certificate) time.Duration {
	if cert == nil {
		return 0
	}
	return time.Until(cert.NotAfter)
}

// GetCertInfo returns human-readable information about a certificate
func GetCertInfo(cert *x509.Certificate) map[string]interface{} {
	if cert == nil {
		return map[string]interface{}{"error": "certificate is nil"}
	}

	return map[string]interface{}{
		"subject":       cert.Subject.CommonName,
		"issuer":        cert.Issuer.CommonName,
		"serial_number": cert.SerialNumber.String(),
		"not_before":    cert.NotBefore.Format(time.RFC3339),
		"not_after":     cert.NotAfter.Format(time.RFC3339),
		"ext_key_usage": describeExtKeyUsage(cert.ExtKeyUsage),
	}
}

// describeExtKeyUsage converts []x509.ExtKeyUsage to human-readable strings
func describeExtKeyUsage(usages []x509.ExtKeyUsage) []string {
	var result []string
	for _, usage := range usages {
		switch usage {
		case x509.ExtKeyUsageClientAuth:
			result = append(result, "ClientAuth")
		case x509.ExtKeyUsageServerAuth:
			result = append(result, "ServerAuth")
		}
	}
	return result
}
