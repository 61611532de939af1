/*
Package client maintains the console's WebSocket channel to the fleet server.

A Conn dials the master endpoint (/ws/master) requesting the
"iconograph-master" sub-protocol and hands every inbound text frame to a
Handler. It does not interpret frames; decoding and routing belong to the
console.

	          Start(ctx)
	              │
	              ▼
	   ┌──────► connect ──dial error──┐
	   │          │                   │
	   │          ▼ HandleOpen        │
	   │       readLoop ──► HandleMessage (per frame)
	   │          │                   │
	   │          ▼ read error        │
	   │       HandleClose            │
	   │          │                   │
	   └── AfterFunc(5s) ◄────────────┘

# Reconnection

Every close and every failed dial schedules exactly one reconnect after a
fixed delay (5s by default). There is no backoff growth and no retry cap; the
loop ends only when the Start context is cancelled or Close is called. Timers
are never cancelled, so a timer can fire while a channel is already open. That
attempt is logged as a duplicate and skipped.

Nothing is buffered across reconnects. The server resends its full state
after a new channel opens.

# Sending

Send encodes a value as JSON and writes one frame. While no channel is open
it returns ErrNotConnected and the message is dropped.

	if err := conn.Send(protocol.NewReboot("h1", nil)); errors.Is(err, client.ErrNotConnected) {
		// dropped, the operator sees the channel is down
	}

# Observability

Channel state is exported as fleetconsole_connected and every scheduled
retry increments fleetconsole_reconnects_total. The "connection" health
component follows the channel, which drives /ready.
*/
package client
