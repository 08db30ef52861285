package protocol

import "github.com/ryftlabs/dwn/pkg/dwntypes"

// ReadEvalContext is the invocation context a read/query/subscribe
// visibility check is evaluated against for one candidate record.
type ReadEvalContext struct {
	Tenant       string
	Requester    string // empty for an anonymous/unauthenticated request
	Author       string
	Recipient    string
	ContextID    string
	ProtocolRole string
	Published    bool
}

// CanRead decides read/query/subscribe visibility: the owner sees
// everything; anonymous requesters
// see only published records; authenticated non-owners additionally see
// published records plus any record admitted by treating the read as if
// it were the action being performed (recipient/author/role rules).
func CanRead(node *dwntypes.ProtocolRuleSet, ctx ReadEvalContext, deps Dependencies) bool {
	if ctx.Requester != "" && ctx.Tenant == ctx.Requester {
		return true
	}
	if ctx.Published {
		return true
	}
	if ctx.Requester == "" {
		return false
	}
	if ctx.Requester == ctx.Recipient {
		return true
	}
	evalCtx := EvalContext{
		Tenant:       ctx.Tenant,
		Author:       ctx.Requester,
		Recipient:    ctx.Recipient,
		ContextID:    ctx.ContextID,
		ProtocolRole: ctx.ProtocolRole,
	}
	return Authorize(node, dwntypes.ActionRead, evalCtx, deps) == nil
}
