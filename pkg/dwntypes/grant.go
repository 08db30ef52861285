package dwntypes

import "time"

// GrantScope is the additive set of constraints a grant's invocation must
// satisfy; every declared field must match (see the grant engine).
type GrantScope struct {
	Interface    Interface `json:"interface"`
	Method       Method    `json:"method"`
	Protocol     string    `json:"protocol,omitempty"`
	ContextID    string    `json:"contextId,omitempty"`
	ProtocolPath string    `json:"protocolPath,omitempty"`
	Schema       string    `json:"schema,omitempty"`
}

// GrantConditions are additional acceptance conditions a grant imposes on
// the writes it covers.
type GrantConditions struct {
	Publication string `json:"publication,omitempty"`
}

// GrantData is the data payload of a permission-grant record. The record's
// recordId is the grant id.
type GrantData struct {
	GrantedTo   string           `json:"grantedTo"`
	GrantedBy   string           `json:"grantedBy"`
	GrantedFor  string           `json:"grantedFor"`
	DateGranted time.Time        `json:"dateGranted"`
	DateExpires time.Time        `json:"dateExpires"`
	Scope       GrantScope       `json:"scope"`
	Conditions  *GrantConditions `json:"conditions,omitempty"`
	Delegated   bool             `json:"delegated,omitempty"`
}

// RevocationData is the data payload of a grant-revocation record, stored
// under the same grant id as the grant it revokes.
type RevocationData struct {
	DateRevoked time.Time `json:"dateRevoked"`
}
