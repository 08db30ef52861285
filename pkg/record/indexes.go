package record

import (
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// Indexes computes the searchable keys a stored write contributes:
// the descriptor fields, plus author, recordId, entryId, isLatestBaseState,
// attester, and tag.<name> keys — the tag keys only when the write is the
// latest base state.
func Indexes(msg *dwntypes.Message, author, attester, entryID string, isLatestBaseState bool) (map[string]any, error) {
	desc, ok := msg.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return nil, dwnerr.New(dwnerr.KindSchemaInvalid, "Indexes called on a non-RecordsWrite message")
	}
	idx := map[string]any{
		"interface":         string(desc.Interface),
		"method":            string(desc.Method),
		"protocol":          desc.Protocol,
		"protocolPath":      desc.ProtocolPath,
		"recipient":         desc.Recipient,
		"schema":            desc.Schema,
		"parentId":          desc.ParentID,
		"dataCid":           desc.DataCID,
		"dataSize":          desc.DataSize,
		"dataFormat":        desc.DataFormat,
		"dateCreated":       desc.DateCreated,
		"messageTimestamp":  desc.MessageTimestamp,
		"published":         desc.Published,
		"author":            author,
		"recordId":          msg.RecordID,
		"contextId":         msg.ContextID,
		"entryId":           entryID,
		"isLatestBaseState": isLatestBaseState,
	}
	if desc.DatePublished != nil {
		idx["datePublished"] = *desc.DatePublished
	}
	if attester != "" {
		idx["attester"] = attester
	}
	if isLatestBaseState {
		for name, val := range desc.Tags {
			idx["tag."+name] = val
		}
	}
	return idx, nil
}
