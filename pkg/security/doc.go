/*
Package security loads the TLS material the console presents to the fleet
server.

The server requires a client certificate on both the WebSocket channel and
manifest downloads, so a single *tls.Config built by LoadClientTLSConfig is
shared by pkg/client and pkg/manifest.

# Certificate Directory

Files can be named explicitly (--ca-cert, --client-cert, --client-key) or
picked up from ~/.fleetconsole/certs:

	~/.fleetconsole/certs/
	├── ca.crt       roots trusted for the server (optional, system pool otherwise)
	├── client.crt   operator certificate
	└── client.key   operator private key

OptionsFromDir only fills what was not given explicitly, and ignores a
certificate without its key.

# Expiry

A client certificate with less than 30 days left is loaded anyway, with a
warning in the log.
*/
package security
