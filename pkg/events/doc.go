/*
Package events provides an in-memory, per-tenant event broker for live
EventsSubscribe listeners.

The events package implements storage.EventStream: a non-durable fan-out
of a tenant's accepted messages to whatever RecordsSubscribe/EventsSubscribe
handlers are currently registered for that tenant. It is deliberately
separate from the durable EventLog a tenant's storage controller also
appends to — a subscriber that is not listening when Emit fires simply
misses the event, the same way it would miss a live broadcast; catching
up on what it missed is what EventsQuery against the durable log is for.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                 Broker                       │          │
	│  │  - one tenantBroker per tenant, created      │          │
	│  │    lazily on first Subscribe or Emit         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             tenantBroker                     │          │
	│  │  Emit → eventCh (buffer: 100)                │          │
	│  │       ↓                                       │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                       │          │
	│  │  Subscriber Channels (buffer: 50 each)       │          │
	│  │       ↓                                       │          │
	│  │  per-subscription goroutine calls handler    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

Per-tenant brokers keep one tenant's slow subscriber from backing up
delivery to another tenant; within a tenant, a full subscriber buffer
drops the event rather than blocking the broadcast loop, the same
fire-and-forget trade-off a cluster-wide broker would make.

# Usage

	broker := events.NewBroker()
	defer broker.Close()

	broker.Subscribe(tenant, subscriptionID, func(e dwntypes.Event) {
		// forward e to the RecordsSubscribe/EventsSubscribe caller
	})
	defer broker.Unsubscribe(tenant, subscriptionID)

	broker.Emit(tenant, dwntypes.Event{Tenant: tenant, MessageCID: cid})

# See Also

  - pkg/storage for the EventStream interface this Broker implements
  - pkg/dwntypes for the Event shape fanned out here
*/
package events
