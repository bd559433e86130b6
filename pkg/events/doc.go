/*
Package events implements the in-process pub/sub broker used to fan out
live machine and app lifecycle notifications to SSE subscribers, without
those subscribers polling the store.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for evt := range sub {
		// evt.Type, evt.MachineID, evt.AppName, evt.Message
	}

	broker.Publish(&events.Event{Type: events.EventMachineStarted, MachineID: id})

# Delivery semantics

Broadcast never blocks the broker: it sends to each subscriber's
buffered channel and drops the event for any subscriber whose buffer is
full rather than stalling the whole broker on one slow reader. Publish
itself only waits while the broker's publish channel is full. A
subscriber that needs a gap-free history should read pkg/storage's
durable per-machine event log first and only switch to the broker for
events after the point it last read, exactly as pkg/api's SSE handlers
do.

Start must be called once for Publish to have any effect: it launches
the broker's internal run loop that drains the (100-deep buffered)
publish channel onto every current subscriber. A broker that is never
started holds up to 100 published events without delivering them; a
further Publish then blocks until Stop is called.
*/
package events
