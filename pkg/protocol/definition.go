// Package protocol implements the protocol authorization engine:
// protocol definition lookup, structural placement, type
// conformance, semantic action determination, and rule/role-based
// authorization, including the owner fallback and read/query/subscribe
// visibility rules.
package protocol

import (
	"strings"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// DefinitionProvider resolves the latest configured protocol definition
// for a (tenant, protocol URI) pair. The storage controller backs this
// with the newest-ProtocolsConfigure-wins selection rule.
type DefinitionProvider interface {
	LatestDefinition(tenant, protocolURI string) (*dwntypes.ProtocolDefinition, bool, error)
}

// ResolveNode performs the definition lookup and structural placement
// steps: the protocol must be configured, and the
// message's protocolPath must exist in its structure tree.
func ResolveNode(provider DefinitionProvider, tenant, protocolURI, protocolPath string) (*dwntypes.ProtocolDefinition, *dwntypes.ProtocolRuleSet, error) {
	def, ok, err := provider.LatestDefinition(tenant, protocolURI)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, dwnerr.New(dwnerr.KindProtocolNotFound, "no protocol configured for %s", protocolURI)
	}
	node, ok := def.Lookup(protocolPath)
	if !ok {
		return nil, nil, dwnerr.New(dwnerr.KindInvalidParent, "protocolPath %s is not defined by protocol %s", protocolPath, protocolURI)
	}
	return def, node, nil
}

// ValidateParentPlacement checks that a non-root write's declared
// parentId actually resolves to an existing ancestor write of the type
// the tree shape expects; parentExists is supplied by the caller (backed
// by a message-store lookup keyed on parentContextId).
func ValidateParentPlacement(protocolPath string, parentExists bool) error {
	isRoot := !strings.Contains(protocolPath, "/")
	if isRoot {
		return nil
	}
	if !parentExists {
		return dwnerr.New(dwnerr.KindInvalidParent, "no ancestor write found for protocolPath %s", protocolPath)
	}
	return nil
}

// IsContextualRole reports whether a role path is anchored at a context
// subtree (nested) rather than the protocol root (flat).
func IsContextualRole(rolePath string) bool {
	return strings.Contains(rolePath, "/")
}
