package protocol

import (
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/schema"
)

// TypeConformance is the input a write's type-conformance check needs.
type TypeConformance struct {
	Schema     string
	DataFormat string
	DataSize   int64
	Tags       map[string]any
}

// CheckTypeConformance verifies a write's schema, dataFormat, dataSize,
// and tags against the node's type declaration.
func CheckTypeConformance(def *dwntypes.ProtocolDefinition, node *dwntypes.ProtocolRuleSet, w TypeConformance) error {
	if node.Type != "" {
		typeDef, ok := def.Types[node.Type]
		if !ok {
			return dwnerr.New(dwnerr.KindSchemaMismatch, "protocol declares unknown type %q", node.Type)
		}
		if typeDef.Schema != "" && typeDef.Schema != w.Schema {
			return dwnerr.New(dwnerr.KindSchemaMismatch, "schema %q does not match declared schema %q", w.Schema, typeDef.Schema)
		}
		if len(typeDef.DataFormats) > 0 && !contains(typeDef.DataFormats, w.DataFormat) {
			return dwnerr.New(dwnerr.KindDataFormatMismatch, "dataFormat %q not in declared formats %v", w.DataFormat, typeDef.DataFormats)
		}
	}
	if node.MaxDataSize > 0 && w.DataSize > node.MaxDataSize {
		return dwnerr.New(dwnerr.KindDataSizeExceeded, "dataSize %d exceeds maximum %d", w.DataSize, node.MaxDataSize)
	}
	if node.Tags != nil {
		if err := schema.ValidateTags(w.Tags, node.Tags); err != nil {
			return err
		}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
