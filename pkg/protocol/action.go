package protocol

import "github.com/ryftlabs/dwn/pkg/dwntypes"

// DetermineAction computes the semantic action of an incoming message.
//
//   - isWrite, isInitialWrite=true            -> create
//   - isWrite, authorIsRecordAuthor=true       -> update
//   - isWrite, authorIsRecordAuthor=false      -> co-update
//   - delete,  authorIsRecordAuthor=true       -> delete (even with prune)
//   - delete,  authorIsRecordAuthor=false, !prune -> co-delete
//   - delete,  authorIsRecordAuthor=false, prune  -> co-prune
func DetermineAction(isWrite, isInitialWrite, authorIsRecordAuthor, prune bool) dwntypes.Action {
	if isWrite {
		if isInitialWrite {
			return dwntypes.ActionCreate
		}
		if authorIsRecordAuthor {
			return dwntypes.ActionUpdate
		}
		return dwntypes.ActionCoUpdate
	}
	if authorIsRecordAuthor {
		return dwntypes.ActionDelete
	}
	if prune {
		return dwntypes.ActionCoPrune
	}
	return dwntypes.ActionCoDelete
}
