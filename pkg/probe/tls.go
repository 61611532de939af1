package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

// TLSChecker performs a TLS handshake with the server using the console's
// TLS configuration, so a bad CA bundle or rejected client certificate shows
// up before the WebSocket dial does
type TLSChecker struct {
	Address string
	Config  *tls.Config
}

// NewTLSChecker creates a TLS checker. cfg may be nil for system defaults.
func NewTLSChecker(address string, cfg *tls.Config) *TLSChecker {
	return &TLSChecker{Address: address, Config: cfg}
}

// Check performs the handshake and reports the server certificate expiry
func (c *TLSChecker) Check(ctx context.Context) Result {
	start := time.Now()

	cfg := c.Config
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := &tls.Dialer{Config: cfg}

	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return result(CheckTypeTLS, c.Address, start, false, fmt.Sprintf("handshake failed: %v", err))
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	message := fmt.Sprintf("%s handshake successful", tls.VersionName(state.Version))
	if len(state.PeerCertificates) > 0 {
		leaf := state.PeerCertificates[0]
		message += fmt.Sprintf(", server certificate %q expires %s",
			leaf.Subject.CommonName, leaf.NotAfter.Format(time.RFC3339))
	}
	return result(CheckTypeTLS, c.Address, start, true, message)
}

// Type returns the check type
func (c *TLSChecker) Type() CheckType {
	return CheckTypeTLS
}
