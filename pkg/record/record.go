// Package record implements the record lifecycle state machine:
// create-time rules, entry/context id computation, signing, post-parse
// integrity checks, newest-message selection, immutability enforcement,
// delete/tombstone semantics, and index computation. It operates on
// in-memory values; the storage controller (pkg/storage) supplies the
// "existing messages" a caller must consult and persists the outcome.
package record

import (
	"strings"
	"time"

	"github.com/ryftlabs/dwn/pkg/cidutil"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// WriteOptions describes the caller-supplied inputs to a record write. The
// engine derives every other descriptor field.
type WriteOptions struct {
	Data             []byte
	DataCID          string
	DataSize         int64
	DataFormat       string
	Protocol         string
	ProtocolPath     string
	Recipient        string
	Schema           string
	RecordID         string // empty => initial write
	ParentContextID  string // parent write's contextId, "" for root/flat
	Tags             map[string]any
	Published        bool
	DateCreated      time.Time
	MessageTimestamp time.Time
	DatePublished    *time.Time
}

// NormalizeURL applies the engine's URL normalization rule: trailing
// slashes are stripped so equivalent protocol/schema references compare
// equal.
func NormalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

// resolveData applies the create-time data rule: exactly one of
// raw data bytes or a pre-stored (dataCid, dataSize) pair must be supplied;
// raw bytes are hashed into a dataCid here.
func resolveData(opts *WriteOptions) error {
	hasBytes := opts.Data != nil
	hasRef := opts.DataCID != ""
	if hasBytes == hasRef {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "exactly one of data bytes or (dataCid, dataSize) must be supplied")
	}
	if hasBytes {
		c, err := cidutil.RawBytes(opts.Data)
		if err != nil {
			return dwnerr.Wrap(dwnerr.KindSchemaInvalid, err, "compute dataCid")
		}
		opts.DataCID = c.String()
		opts.DataSize = int64(len(opts.Data))
	}
	return nil
}

// BuildDescriptor applies the full set of create-time rules and returns a
// populated descriptor, ready for entry-id computation and signing.
func BuildDescriptor(opts WriteOptions) (*dwntypes.RecordsWriteDescriptor, error) {
	if (opts.Protocol == "") != (opts.ProtocolPath == "") {
		return nil, dwnerr.New(dwnerr.KindSchemaInvalid, "protocol and protocolPath must both be present or both absent")
	}
	if err := resolveData(&opts); err != nil {
		return nil, err
	}
	if opts.Protocol != "" {
		norm := NormalizeURL(opts.Protocol)
		if norm != opts.Protocol {
			return nil, dwnerr.New(dwnerr.KindUrlNotNormalized, "protocol URL %q is not normalized", opts.Protocol)
		}
	}
	if opts.Schema != "" {
		norm := NormalizeURL(opts.Schema)
		if norm != opts.Schema {
			return nil, dwnerr.New(dwnerr.KindUrlNotNormalized, "schema URL %q is not normalized", opts.Schema)
		}
	}

	now := time.Now().UTC()
	dateCreated := opts.DateCreated
	if dateCreated.IsZero() {
		dateCreated = now
	}
	messageTimestamp := opts.MessageTimestamp
	if messageTimestamp.IsZero() {
		messageTimestamp = now
	}
	var datePublished *time.Time
	if opts.Published && opts.DatePublished == nil {
		datePublished = &now
	} else {
		datePublished = opts.DatePublished
	}

	desc := dwntypes.NewRecordsWriteDescriptor()
	desc.Protocol = opts.Protocol
	desc.ProtocolPath = opts.ProtocolPath
	desc.Recipient = opts.Recipient
	desc.Schema = opts.Schema
	desc.ParentID = ParentID(opts.ParentContextID)
	desc.DataCID = opts.DataCID
	desc.DataSize = opts.DataSize
	desc.DataFormat = opts.DataFormat
	desc.DateCreated = dateCreated
	desc.MessageTimestamp = messageTimestamp
	desc.Published = opts.Published
	desc.DatePublished = datePublished
	desc.Tags = opts.Tags
	return desc, nil
}
