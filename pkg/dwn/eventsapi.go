package dwn

import (
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/storage"
)

// QueryEvents implements the EventsQuery handler: a durable, paginated
// replay of the tenant's event log from an optional cursor. Unlike
// RecordsQuery, every entry on file is visible to the
// tenant itself — the event log is not a per-record read-authorization
// surface, it is the tenant's own change feed.
func (n *Node) QueryEvents(tenantDID string, filters []dwntypes.Filter, cursor string) ([]storage.EventLogEntry, string, *Reply, error) {
	entries, next, err := n.control.Events.QueryEvents(tenantDID, filters, cursor)
	if err != nil {
		return nil, "", toReply(err), err
	}
	return entries, next, OK(), nil
}

// SubscribeEvents implements the EventsSubscribe handler: live fan-out of
// every message accepted for tenantDID from the moment of subscription
// onward, sharing the same per-tenant broker RecordsSubscribe uses.
func (n *Node) SubscribeEvents(tenantDID, subscriptionID string, handler func(dwntypes.Event)) (*Reply, error) {
	return n.subscribe(tenantDID, subscriptionID, handler)
}
