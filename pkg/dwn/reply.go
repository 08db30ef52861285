package dwn

import (
	"errors"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/metrics"
)

// Reply is the dispatch-boundary status every handler returns: success
// is 200 for reads/queries/subscribes or 202 for writes/deletes/
// configures; caller-fault failures surface their error Kind; engine
// faults collapse to a bare 500.
type Reply struct {
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Accepted builds a 202 reply for a successful write/delete/configure.
func Accepted() *Reply { return &Reply{Code: 202} }

// OK builds a 200 reply for a successful read/query/subscribe.
func OK() *Reply { return &Reply{Code: 200} }

// toReply converts err into its dispatch-boundary Reply. A *dwnerr.Error
// surfaces its own Kind and Class; any other error is an engine fault and
// collapses to a 500 with no caller-facing detail — internal errors stay
// untyped until caught here at the dispatch boundary.
func toReply(err error) *Reply {
	if err == nil {
		return nil
	}
	var de *dwnerr.Error
	if errors.As(err, &de) {
		metrics.MessagesRejectedTotal.WithLabelValues(string(de.Kind)).Inc()
		return &Reply{Code: int(de.Class()), Detail: de.Message, Kind: string(de.Kind)}
	}
	metrics.MessagesRejectedTotal.WithLabelValues("Internal").Inc()
	return &Reply{Code: 500, Detail: "internal error"}
}
