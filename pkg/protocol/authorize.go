package protocol

import (
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// EvalContext is the invocation context an action rule's predicates are
// evaluated against.
type EvalContext struct {
	Tenant       string
	Author       string // A
	Recipient    string // R
	ContextID    string // C
	ProtocolRole string // M.protocolRole claim, if any
}

// Dependencies supplies the ancestor and role lookups rule predicates
// need; the storage controller backs these with message-store queries.
type Dependencies interface {
	// AncestorAuthor returns the author of the ancestor write at ofPath
	// within contextID's chain.
	AncestorAuthor(tenant, contextID, ofPath string) (author string, found bool, err error)
	// AncestorRecipient returns the recipient of the ancestor write at
	// ofPath within contextID's chain.
	AncestorRecipient(tenant, contextID, ofPath string) (recipient string, found bool, err error)
	// RoleRecordExists reports whether a role record at rolePath grants
	// recipient the role, honoring flat vs. contextual anchoring.
	RoleRecordExists(tenant, rolePath, recipient, contextID string, contextual bool) (bool, error)
}

// Authorize evaluates node's ordered action rules against action in
// ctx. The owner fallback (tenant == author) is checked first. Otherwise
// the rules are walked in order: a role rule naming ctx.ProtocolRole
// decides the outcome on its own (MatchingRoleRecordNotFound,
// ActionNotAllowed, or allowed), while an anyone/author/recipient rule
// allows the action only when its predicate holds and it lists the
// action, and evaluation moves on otherwise. If no rule allows the
// action, the result is ActionNotAllowed.
func Authorize(node *dwntypes.ProtocolRuleSet, action dwntypes.Action, ctx EvalContext, deps Dependencies) error {
	if ctx.Tenant == ctx.Author {
		return nil
	}
	for _, rule := range node.Actions {
		switch {
		case rule.Role != "":
			if ctx.ProtocolRole != rule.Role {
				continue
			}
			contextual := IsContextualRole(rule.Role)
			found, err := deps.RoleRecordExists(ctx.Tenant, rule.Role, ctx.Author, ctx.ContextID, contextual)
			if err != nil {
				return err
			}
			if !found {
				return dwnerr.New(dwnerr.KindMatchingRoleRecordNotFound, "no role record at %s grants %s the role", rule.Role, ctx.Author)
			}
			if !rule.Allows(action) {
				return dwnerr.New(dwnerr.KindActionNotAllowed, "role %s does not permit %s", rule.Role, action)
			}
			return nil

		case rule.Who == dwntypes.WhoAnyone:
			if rule.Allows(action) {
				return nil
			}

		case rule.Who == dwntypes.WhoAuthor:
			author, found, err := deps.AncestorAuthor(ctx.Tenant, ctx.ContextID, rule.Of)
			if err != nil {
				return err
			}
			if found && author == ctx.Author && rule.Allows(action) {
				return nil
			}

		case rule.Who == dwntypes.WhoRecipient:
			recipient, found, err := deps.AncestorRecipient(ctx.Tenant, ctx.ContextID, rule.Of)
			if err != nil {
				return err
			}
			if found && recipient == ctx.Author && rule.Allows(action) {
				return nil
			}
		}
	}
	return dwnerr.New(dwnerr.KindActionNotAllowed, "no action rule at this path permits %s", action)
}
