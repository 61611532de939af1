/*
Package api serves the console's HTTP surface.

The server is a thin layer over a running console: reads come from the
latest immutable fleet snapshot, and every write is forwarded as an operator
request to the console loop, so the HTTP handlers never touch the model
directly.

# Endpoints

	GET    /health                                   overall health (503 when the channel is down)
	GET    /ready                                    readiness (503 until the channel is open)
	GET    /live                                     liveness
	GET    /metrics                                  Prometheus metrics
	GET    /v1/fleet                                 full fleet snapshot
	GET    /v1/image-types/{name}                    one image type with instances and manifest
	GET    /v1/instances/{hostname}                  one instance
	GET    /v1/events                                server-sent event stream
	POST   /v1/instances/{hostname}/reboot           {"timestamp": 1700000000} optional
	POST   /v1/image-types/{name}/manifest/refresh   fetch the manifest again
	POST   /v1/image-types/{name}/selector           {"hostname": "h1"}
	DELETE /v1/image-types/{name}/selector           close the selector
	POST   /v1/image-types/{name}/selector/select    {"timestamp": 1700000000}

Commands are fire-and-forget. A 202 means the reboot was written to the
channel, not that the host acted on it. While the channel is closed commands
are dropped and answered with 503.

# Read-only mode

With Options.ReadOnly set, every method other than GET, HEAD and OPTIONS is
refused with 403 before it reaches the console. Use it when the API listens
on an address reachable by people who should see the fleet but not reboot it.

# Access control

Options.AllowedCIDRs limits the whole API to the listed client addresses and
networks (403 otherwise). Options.CommandRate and CommandBurst bound how many
commands each client address may send; excess commands get 429 with a
Retry-After header. Reads are never rate limited. The client address is taken
from X-Forwarded-For, then X-Real-IP, then the peer address, so only trust
forwarded headers behind a proxy you control.

# Usage

	srv := api.NewServer(c, api.Options{ReadOnly: cfg.ReadOnly})
	go func() {
		if err := srv.Start(":9090"); err != nil {
			log.Error(err.Error())
		}
	}()
	defer srv.Shutdown(context.Background())
*/
package api
