package dwntypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionRule is one entry in a protocol path's ordered rule list.
type ActionRule struct {
	Who  Who      `json:"who,omitempty"`
	Of   string   `json:"of,omitempty"`
	Role string   `json:"role,omitempty"`
	Can  []Action `json:"can"`
}

// Allows reports whether the rule's can-set includes action.
func (r ActionRule) Allows(action Action) bool {
	for _, a := range r.Can {
		if a == action {
			return true
		}
	}
	return false
}

// TagProperty is a single tag's structural constraint.
type TagProperty struct {
	Type string `json:"type,omitempty"`
	Enum []any  `json:"enum,omitempty"`
}

// TagsSchema is the minimal structural schema the protocol engine checks
// a record-write's tags against.
type TagsSchema struct {
	Required   []string               `json:"required,omitempty"`
	Properties map[string]TagProperty `json:"properties,omitempty"`
}

// TypeDef is a protocol's type-catalog entry: the schema URI and data
// constraints a path's writes must conform to.
type TypeDef struct {
	Schema      string   `json:"schema,omitempty"`
	DataFormats []string `json:"dataFormats,omitempty"`
}

// ProtocolRuleSet is one node of a protocol definition's structure tree,
// keyed by protocolPath segment. Children are nested under plain (non-$)
// JSON keys; control fields use a $ prefix, mirroring the wire convention
// protocol authors already use.
type ProtocolRuleSet struct {
	Type        string                      `json:"$type,omitempty"`
	Role        bool                        `json:"$role,omitempty"`
	Tags        *TagsSchema                 `json:"$tags,omitempty"`
	MaxDataSize int64                       `json:"$maxDataSize,omitempty"`
	Actions     []ActionRule                `json:"$actions,omitempty"`
	Children    map[string]*ProtocolRuleSet `json:"-"`
}

// UnmarshalJSON splits $-prefixed control keys from plain child keys.
func (p *ProtocolRuleSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("dwntypes: decode protocol rule set: %w", err)
	}
	p.Children = make(map[string]*ProtocolRuleSet)
	for key, val := range raw {
		switch key {
		case "$type":
			if err := json.Unmarshal(val, &p.Type); err != nil {
				return fmt.Errorf("dwntypes: decode $type: %w", err)
			}
		case "$role":
			if err := json.Unmarshal(val, &p.Role); err != nil {
				return fmt.Errorf("dwntypes: decode $role: %w", err)
			}
		case "$tags":
			var t TagsSchema
			if err := json.Unmarshal(val, &t); err != nil {
				return fmt.Errorf("dwntypes: decode $tags: %w", err)
			}
			p.Tags = &t
		case "$maxDataSize":
			if err := json.Unmarshal(val, &p.MaxDataSize); err != nil {
				return fmt.Errorf("dwntypes: decode $maxDataSize: %w", err)
			}
		case "$actions":
			if err := json.Unmarshal(val, &p.Actions); err != nil {
				return fmt.Errorf("dwntypes: decode $actions: %w", err)
			}
		default:
			if strings.HasPrefix(key, "$") {
				continue
			}
			var child ProtocolRuleSet
			if err := json.Unmarshal(val, &child); err != nil {
				return fmt.Errorf("dwntypes: decode child %q: %w", key, err)
			}
			p.Children[key] = &child
		}
	}
	return nil
}

// MarshalJSON re-merges control fields and children into one object.
func (p ProtocolRuleSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Children)+4)
	if p.Type != "" {
		out["$type"] = p.Type
	}
	if p.Role {
		out["$role"] = p.Role
	}
	if p.Tags != nil {
		out["$tags"] = p.Tags
	}
	if p.MaxDataSize != 0 {
		out["$maxDataSize"] = p.MaxDataSize
	}
	if len(p.Actions) > 0 {
		out["$actions"] = p.Actions
	}
	for name, child := range p.Children {
		out[name] = child
	}
	return json.Marshal(out)
}

// ProtocolDefinition is the full configured rule set for one protocol URI.
type ProtocolDefinition struct {
	Protocol  string                      `json:"protocol"`
	Published bool                        `json:"published"`
	Types     map[string]TypeDef          `json:"types"`
	Structure map[string]*ProtocolRuleSet `json:"structure"`
}

// Lookup resolves a slash-separated protocolPath to its rule set, walking
// the structure tree segment by segment.
func (d *ProtocolDefinition) Lookup(protocolPath string) (*ProtocolRuleSet, bool) {
	segments := strings.Split(protocolPath, "/")
	if len(segments) == 0 {
		return nil, false
	}
	node, ok := d.Structure[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		node, ok = node.Children[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
