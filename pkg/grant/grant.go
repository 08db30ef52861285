// Package grant implements the permission-grant engine: grant lookup and
// the ordered invocation checks a non-owner message's permissionGrantId
// must satisfy.
package grant

import (
	"strings"
	"time"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// Lookup resolves a grant id to its data and reports whether it has been
// revoked as of a given time. The storage controller backs this with a
// lookup of the grant record (and any revocation record) under the
// grantedFor tenant.
type Lookup interface {
	Grant(tenant, grantID string) (*dwntypes.GrantData, bool, error)
	RevokedAt(tenant, grantID string) (revokedAt time.Time, revoked bool, err error)
}

// Invocation is the context one non-owner message's grant check is
// evaluated against.
type Invocation struct {
	Tenant           string
	GrantID          string
	Author           string
	Interface        dwntypes.Interface
	Method           dwntypes.Method
	Protocol         string
	ContextID        string
	ProtocolPath     string
	Schema           string
	MessageTimestamp time.Time
	Published        bool
}

// CheckInvocation runs the ordered grant-invocation checks.
func CheckInvocation(lookup Lookup, inv Invocation) error {
	g, ok, err := lookup.Grant(inv.Tenant, inv.GrantID)
	if err != nil {
		return err
	}
	if !ok {
		return dwnerr.New(dwnerr.KindGrantMissing, "grant %s not found", inv.GrantID)
	}
	if g.GrantedFor != inv.Tenant {
		return dwnerr.New(dwnerr.KindGrantNotGrantedForTenant, "grant %s was not granted for tenant %s", inv.GrantID, inv.Tenant)
	}
	if g.GrantedTo != inv.Author {
		return dwnerr.New(dwnerr.KindGrantNotGrantedToAuthor, "grant %s was not granted to %s", inv.GrantID, inv.Author)
	}
	if inv.MessageTimestamp.Before(g.DateGranted) {
		return dwnerr.New(dwnerr.KindGrantNotYetActive, "grant %s is not active until %s", inv.GrantID, g.DateGranted)
	}
	if !inv.MessageTimestamp.Before(g.DateExpires) {
		return dwnerr.New(dwnerr.KindGrantExpired, "grant %s expired at %s", inv.GrantID, g.DateExpires)
	}
	if revokedAt, revoked, err := lookup.RevokedAt(inv.Tenant, inv.GrantID); err != nil {
		return err
	} else if revoked && !revokedAt.After(inv.MessageTimestamp) {
		return dwnerr.New(dwnerr.KindGrantRevoked, "grant %s was revoked at %s", inv.GrantID, revokedAt)
	}
	if g.Scope.Interface != inv.Interface {
		return dwnerr.New(dwnerr.KindGrantInterfaceMismatch, "grant %s scopes interface %s, got %s", inv.GrantID, g.Scope.Interface, inv.Interface)
	}
	if g.Scope.Method != inv.Method {
		return dwnerr.New(dwnerr.KindGrantMethodMismatch, "grant %s scopes method %s, got %s", inv.GrantID, g.Scope.Method, inv.Method)
	}
	if err := checkRecordScope(g, inv); err != nil {
		return err
	}
	if g.Conditions != nil && g.Conditions.Publication == "required" && !inv.Published {
		return dwnerr.New(dwnerr.KindGrantConditionPublicationRequired, "grant %s requires the covered write to be published", inv.GrantID)
	}
	return nil
}

func checkRecordScope(g *dwntypes.GrantData, inv Invocation) error {
	s := g.Scope
	if s.Protocol != "" && s.Protocol != inv.Protocol {
		return dwnerr.New(dwnerr.KindGrantScopeMismatch, "grant %s scopes protocol %s, got %s", inv.GrantID, s.Protocol, inv.Protocol)
	}
	if s.ContextID != "" && !contextIDWithinScope(s.ContextID, inv.ContextID) {
		return dwnerr.New(dwnerr.KindGrantScopeMismatch, "grant %s scopes contextId %s, got %s", inv.GrantID, s.ContextID, inv.ContextID)
	}
	if s.ProtocolPath != "" && s.ProtocolPath != inv.ProtocolPath {
		return dwnerr.New(dwnerr.KindGrantScopeMismatch, "grant %s scopes protocolPath %s, got %s", inv.GrantID, s.ProtocolPath, inv.ProtocolPath)
	}
	if s.Schema != "" && s.Schema != inv.Schema {
		return dwnerr.New(dwnerr.KindGrantScopeMismatch, "grant %s scopes schema %s, got %s", inv.GrantID, s.Schema, inv.Schema)
	}
	return nil
}

// contextIDWithinScope reports whether candidate is scoped's subtree:
// equal, or scoped followed by "/".
func contextIDWithinScope(scoped, candidate string) bool {
	if scoped == candidate {
		return true
	}
	return strings.HasPrefix(candidate, scoped+"/")
}

// ValidateScopeOnIssuance rejects scope combinations with no
// well-defined semantics at grant-creation time.
func ValidateScopeOnIssuance(s dwntypes.GrantScope) error {
	if s.Schema != "" && (s.Protocol != "" || s.ContextID != "" || s.ProtocolPath != "") {
		return dwnerr.New(dwnerr.KindGrantScopeSchemaProhibitedFields, "schema scope cannot be combined with protocol, contextId, or protocolPath")
	}
	if s.ContextID != "" && s.ProtocolPath != "" {
		return dwnerr.New(dwnerr.KindGrantScopeContextIdAndProtocolPath, "contextId and protocolPath scope cannot both be set")
	}
	return nil
}
