/*
Package console is the fleet state sync core.

A Console owns the fleet model (pkg/reconciler) and keeps it in step with the
server's push stream. Everything that can change the model is an event on one
queue, consumed by a single goroutine:

	client.Conn ──HandleOpen/HandleMessage/HandleClose──┐
	ticker (250ms) ──tickEvent───────────────────────────┤
	fetch goroutines ──fetchEvent────────────────────────┼──► events ──► Run loop
	Reboot/SelectBuild/OpenSelector ──requestEvent───────┘                │
	                                                                        ▼
	                                            reconciler ──► atomic snapshot
	                                                       └─► events.Broker

Because exactly one goroutine touches the model there are no locks around
it. Readers call Snapshot, which returns the immutable copy published after
the most recent event.

# Message Routing

	image_types   set reconciliation; a manifest fetch starts for every new type
	report        instance upsert stamped with the local receipt time
	targets       IsTarget overwritten on every instance
	new_manifest  manifest fetch for a declared type
	other         ignored

A frame that fails to decode, and a report or new_manifest naming a type
outside the current image_types set, are logged, counted in
fleetconsole_messages_dropped_total and published as protocol.violation.
The channel is never torn down for them.

# Manifest Fetches

Fetches run in their own goroutines and may finish in any order. Each fetch
is tagged with a per type sequence number; a completion is applied only if
it is the newest fetch issued for a type that still exists. A failed fetch
leaves the previous manifest in place and records the error on the type.

# Commands

Reboot and SelectBuild run on the loop so they see a consistent selector
state. While the channel is down they fail with client.ErrNotConnected and
nothing is queued.

# Example

	c, err := console.New(console.Config{
		Server:    "https://images.example.com",
		TLSConfig: tlsConfig,
	})
	if err != nil {
		return err
	}

	go c.Run(ctx)

	for ev := range c.Subscribe() {
		fmt.Println(ev.Type, ev.Message)
	}
*/
package console
