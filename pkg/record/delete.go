package record

import (
	"time"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// NewDelete builds a record-delete message for recordID.
func NewDelete(recordID string, prune bool, messageTimestamp time.Time) *dwntypes.Message {
	if messageTimestamp.IsZero() {
		messageTimestamp = time.Now().UTC()
	}
	desc := dwntypes.NewRecordsDeleteDescriptor()
	desc.RecordID = recordID
	desc.MessageTimestamp = messageTimestamp
	desc.Prune = prune
	return &dwntypes.Message{RecordID: recordID, Descriptor: desc}
}

// DeleteDecision is the outcome of evaluating a delete against the
// existing writes on file for a record.
type DeleteDecision struct {
	NoOp         bool // newest existing message is already a delete
	InitialWrite *ExistingWrite
	Prune        bool
}

// EvaluateDelete applies the delete acceptance rules: a prior write
// must exist, and deleting an already-deleted record is a no-op.
func EvaluateDelete(recordID string, initialWrite *ExistingWrite, newestIsDelete bool, prune bool) (*DeleteDecision, error) {
	if initialWrite == nil {
		return nil, dwnerr.New(dwnerr.KindInitialWriteNotFound, "no prior write on file for recordId %s", recordID)
	}
	if newestIsDelete {
		return &DeleteDecision{NoOp: true, InitialWrite: initialWrite}, nil
	}
	return &DeleteDecision{InitialWrite: initialWrite, Prune: prune}, nil
}
