package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ryftlabs/dwn/pkg/cidutil"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// DescriptorCID computes descriptorCid = structuredCid(descriptor).
func DescriptorCID(desc dwntypes.Descriptor) (string, error) {
	c, err := cidutil.Structured(desc)
	if err != nil {
		return "", fmt.Errorf("record: compute descriptorCid: %w", err)
	}
	return c.String(), nil
}

// EntryID computes entryId = structuredCid({...descriptor, author}).
// For an initial write, recordId == entryId.
func EntryID(desc *dwntypes.RecordsWriteDescriptor, author string) (string, error) {
	descJSON, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("record: marshal descriptor: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(descJSON, &merged); err != nil {
		return "", fmt.Errorf("record: unmarshal descriptor: %w", err)
	}
	merged["author"] = author
	c, err := cidutil.Structured(merged)
	if err != nil {
		return "", fmt.Errorf("record: compute entryId: %w", err)
	}
	return c.String(), nil
}

// MessageCID computes messageCid = structuredCid(message). encodedData is
// a query-reply convenience, not part of the message's identity, so it is
// excluded before hashing; the CID is stable whether or not the payload
// rides inline.
func MessageCID(msg *dwntypes.Message) (string, error) {
	stripped := *msg
	stripped.EncodedData = ""
	c, err := cidutil.Structured(stripped)
	if err != nil {
		return "", fmt.Errorf("record: compute messageCid: %w", err)
	}
	return c.String(), nil
}

// ContextID computes a write's contextId: absent for flat-space
// writes, recordId for a protocol-scope root write, and
// parentContextId + "/" + recordId for a non-root write.
func ContextID(protocol, recordID, parentContextID string) string {
	if protocol == "" {
		return ""
	}
	if parentContextID == "" {
		return recordID
	}
	return parentContextID + "/" + recordID
}

// ParentID returns the last segment of a parent contextId, or "" for a
// root or flat-space write.
func ParentID(parentContextID string) string {
	if parentContextID == "" {
		return ""
	}
	segments := strings.Split(parentContextID, "/")
	return segments[len(segments)-1]
}
