package probe

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/manifest"
)

// ForServer builds the check list for a fleet server base URL: TCP, then TLS
// for https servers, then the operator channel. With imageType set, the
// manifest of that image type has to be fetchable too.
func ForServer(server string, tlsConfig *tls.Config, imageType string) ([]Checker, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("server URL %q has no host", server)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	wsURL, err := client.MasterURL(server)
	if err != nil {
		return nil, err
	}

	checkers := []Checker{NewTCPChecker(addr)}
	if u.Scheme == "https" || u.Scheme == "wss" {
		checkers = append(checkers, NewTLSChecker(addr, tlsConfig))
	}
	checkers = append(checkers, NewWebSocketChecker(wsURL, tlsConfig))

	if imageType != "" {
		manifestURL := manifest.NewFetcher(server, tlsConfig).URL(imageType)
		checkers = append(checkers, NewHTTPChecker(manifestURL, tlsConfig).WithStatusRange(200, 299))
	}
	return checkers, nil
}
