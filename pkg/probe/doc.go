/*
Package probe runs one-shot connectivity checks against a fleet server.

The console itself never gives up on a server: a failed dial is simply
retried after the reconnect delay. That makes a misconfigured CA bundle or a
wrong port look exactly like a server that is down. The checks here answer
"why am I not connected" by testing each layer once:

	TCP        the host and port accept connections
	TLS        the handshake succeeds with the configured CA and client certificate
	WebSocket  the operator channel opens and the sub-protocol is accepted
	HTTP       the manifest of a given image type can be fetched (optional)

ForServer builds the list for a server base URL and RunAll runs the checks
concurrently, returning results in list order:

	checkers, err := probe.ForServer("https://images.example.com", tlsConfig, "ubuntu")
	if err != nil {
		return err
	}
	for _, r := range probe.RunAll(ctx, probe.DefaultTimeout, checkers...) {
		fmt.Printf("%-9s %-5v %s\n", r.Type, r.Healthy, r.Message)
	}
*/
package probe
