/*
Package events provides an in-process publish/subscribe broker for fleet
changes.

The console publishes an Event whenever its view of the fleet changes in a
way an operator would want to see: an image type appearing, an instance
going quiet, a manifest failing to load, the channel dropping. Subscribers
such as the watch command print them as they arrive.

	console actor ──Publish──► eventCh (256) ──► run() ──► sub 1 (64)
	                                                  └──► sub 2 (64)

# Delivery

Delivery is best effort at both hops. Publish never blocks the caller: if
the broker queue is full the event is dropped and Publish returns false.
Broadcast skips any subscriber whose buffer is full. Events are a
notification stream, not the source of truth; the fleet snapshot is.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

Stop closes every subscription, which ends range loops like the one above.
*/
package events
