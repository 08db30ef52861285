package schema

import (
	"fmt"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// ValidateTags checks tags against a protocol node's declared tag schema:
// required keys are present, and each present key's value matches its
// declared type and (if given) enum.
func ValidateTags(tags map[string]any, ts *dwntypes.TagsSchema) error {
	if ts == nil {
		return nil
	}
	for _, req := range ts.Required {
		if _, ok := tags[req]; !ok {
			return dwnerr.New(dwnerr.KindTagsSchemaViolation, "missing required tag %q", req)
		}
	}
	for name, val := range tags {
		prop, ok := ts.Properties[name]
		if !ok {
			continue
		}
		if err := validateTagValue(name, val, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateTagValue(name string, val any, prop dwntypes.TagProperty) error {
	if prop.Type != "" {
		if !typeMatches(val, prop.Type) {
			return dwnerr.New(dwnerr.KindTagsSchemaViolation, "tag %q expected type %s", name, prop.Type)
		}
	}
	if len(prop.Enum) > 0 {
		for _, allowed := range prop.Enum {
			if fmt.Sprint(allowed) == fmt.Sprint(val) {
				return nil
			}
		}
		return dwnerr.New(dwnerr.KindTagsSchemaViolation, "tag %q value not in enum", name)
	}
	return nil
}

func typeMatches(val any, want string) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}
