package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/protocol"
)

// WebSocketChecker opens the operator channel once and closes it again
type WebSocketChecker struct {
	URL       string
	TLSConfig *tls.Config
}

// NewWebSocketChecker creates a checker for the master endpoint at url
func NewWebSocketChecker(url string, tlsConfig *tls.Config) *WebSocketChecker {
	return &WebSocketChecker{URL: url, TLSConfig: tlsConfig}
}

// Check dials the channel and verifies the sub-protocol
func (w *WebSocketChecker) Check(ctx context.Context) Result {
	start := time.Now()

	err := client.Probe(ctx, client.Config{URL: w.URL, TLSConfig: w.TLSConfig})
	if err != nil {
		return result(CheckTypeWebSocket, w.URL, start, false, err.Error())
	}
	return result(CheckTypeWebSocket, w.URL, start, true,
		fmt.Sprintf("channel opened with sub-protocol %q", protocol.Subprotocol))
}

// Type returns the check type
func (w *WebSocketChecker) Type() CheckType {
	return CheckTypeWebSocket
}
