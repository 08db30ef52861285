// Package schema implements the message schema validator, run as the
// first parse step on every incoming message, and a supplemental
// tag-schema evaluator the protocol engine uses to check a
// record-write's tags against a protocol node's declared tag
// constraints. Both are pure, static, and rely on no external
// JSON-Schema library — a full JSON-Schema validator is an external
// collaborator; these check only the closed, small shapes the engine
// itself defines.
package schema

import (
	"encoding/json"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

var topLevelFields = map[string]bool{
	"recordId":      true,
	"contextId":     true,
	"descriptor":    true,
	"authorization": true,
	"attestation":   true,
	"encryption":    true,
	"encodedData":   true,
}

var descriptorFields = map[string]map[string]bool{
	key(dwntypes.InterfaceRecords, dwntypes.MethodWrite): {
		"interface": true, "method": true, "protocol": true, "protocolPath": true,
		"recipient": true, "schema": true, "parentId": true, "dataCid": true,
		"dataSize": true, "dataFormat": true, "dateCreated": true,
		"messageTimestamp": true, "published": true, "datePublished": true, "tags": true,
	},
	key(dwntypes.InterfaceRecords, dwntypes.MethodDelete): {
		"interface": true, "method": true, "recordId": true,
		"messageTimestamp": true, "prune": true,
	},
	key(dwntypes.InterfaceProtocols, dwntypes.MethodConfigure): {
		"interface": true, "method": true, "definition": true, "messageTimestamp": true,
	},
}

func key(i dwntypes.Interface, m dwntypes.Method) string { return string(i) + "/" + string(m) }

// ValidateMessageShape rejects unknown top-level and descriptor properties
// in a raw JSON-encoded message, per the first step of the parse contract.
func ValidateMessageShape(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return dwnerr.Wrap(dwnerr.KindSchemaInvalid, err, "message is not a JSON object")
	}
	for field := range top {
		if !topLevelFields[field] {
			return dwnerr.New(dwnerr.KindUnknownProperty, "unknown top-level property %q", field)
		}
	}
	descRaw, ok := top["descriptor"]
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "message has no descriptor")
	}
	var env struct {
		Interface dwntypes.Interface `json:"interface"`
		Method    dwntypes.Method    `json:"method"`
	}
	if err := json.Unmarshal(descRaw, &env); err != nil {
		return dwnerr.Wrap(dwnerr.KindSchemaInvalid, err, "descriptor is not a JSON object")
	}
	allowed, ok := descriptorFields[key(env.Interface, env.Method)]
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "no schema for %s/%s", env.Interface, env.Method)
	}
	var descMap map[string]json.RawMessage
	if err := json.Unmarshal(descRaw, &descMap); err != nil {
		return dwnerr.Wrap(dwnerr.KindSchemaInvalid, err, "descriptor is not a JSON object")
	}
	for field := range descMap {
		if !allowed[field] {
			return dwnerr.New(dwnerr.KindUnknownProperty, "unknown descriptor property %q for %s/%s", field, env.Interface, env.Method)
		}
	}
	return nil
}

// ValidateAttestationShape enforces that an attestation has exactly one
// signer and its payload contains only descriptorCid (no multi-attester
// support, no extra properties).
func ValidateAttestationShape(payloadRaw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &fields); err != nil {
		return dwnerr.Wrap(dwnerr.KindSchemaInvalid, err, "attestation payload is not a JSON object")
	}
	if _, ok := fields["descriptorCid"]; !ok {
		return dwnerr.New(dwnerr.KindAttestationExtraProperties, "attestation payload missing descriptorCid")
	}
	if len(fields) != 1 {
		return dwnerr.New(dwnerr.KindAttestationExtraProperties, "attestation payload must contain only descriptorCid, got %d fields", len(fields))
	}
	return nil
}
