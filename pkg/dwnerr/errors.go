// Package dwnerr defines the typed error kinds produced by the engine and
// their mapping to reply status classes.
package dwnerr

import "fmt"

// Class is the reply status class an Error is surfaced under.
type Class int

const (
	// ClassBadRequest covers structural, integrity, and parse failures (400).
	ClassBadRequest Class = 400
	// ClassUnauthorized covers authentication and authorization failures (401).
	ClassUnauthorized Class = 401
	// ClassConflict covers state-machine conflicts such as a newer message
	// already on file (409).
	ClassConflict Class = 409
	// ClassInternal covers engine faults that are not caller-correctable (500).
	ClassInternal Class = 500
)

// Kind names one of the engine's typed error kinds.
type Kind string

const (
	// Structural
	KindSchemaInvalid                Kind = "SchemaInvalid"
	KindUnknownProperty               Kind = "UnknownProperty"
	KindUrlNotNormalized              Kind = "UrlNotNormalized"
	KindDescriptorCidMismatch         Kind = "DescriptorCidMismatch"
	KindAttestationMultipleSigners    Kind = "AttestationMultipleSigners"
	KindAttestationExtraProperties    Kind = "AttestationExtraProperties"

	// Integrity
	KindRecordIdUnauthorized   Kind = "RecordIdUnauthorized"
	KindContextIdMismatch      Kind = "ContextIdMismatch"
	KindDateCreatedMismatch    Kind = "DateCreatedMismatch"
	KindImmutablePropertyChanged Kind = "ImmutablePropertyChanged"
	KindAttestationCidMismatch Kind = "AttestationCidMismatch"
	KindEncryptionCidMismatch  Kind = "EncryptionCidMismatch"

	// Authentication
	KindInvalidDid       Kind = "InvalidDid"
	KindInvalidSignature Kind = "InvalidSignature"

	// Authorization (protocol)
	KindProtocolNotFound        Kind = "ProtocolNotFound"
	KindInvalidParent           Kind = "InvalidParent"
	KindSchemaMismatch          Kind = "SchemaMismatch"
	KindDataFormatMismatch      Kind = "DataFormatMismatch"
	KindDataSizeExceeded        Kind = "DataSizeExceeded"
	KindTagsSchemaViolation     Kind = "TagsSchemaViolation"
	KindActionNotAllowed        Kind = "ActionNotAllowed"
	KindMatchingRoleRecordNotFound Kind = "MatchingRoleRecordNotFound"

	// Authorization (grant)
	KindGrantMissing                     Kind = "GrantMissing"
	KindGrantNotGrantedToAuthor          Kind = "GrantNotGrantedToAuthor"
	KindGrantNotGrantedForTenant         Kind = "GrantNotGrantedForTenant"
	KindGrantNotYetActive                Kind = "GrantNotYetActive"
	KindGrantExpired                     Kind = "GrantExpired"
	KindGrantRevoked                     Kind = "GrantRevoked"
	KindGrantInterfaceMismatch           Kind = "GrantInterfaceMismatch"
	KindGrantMethodMismatch              Kind = "GrantMethodMismatch"
	KindGrantScopeMismatch               Kind = "GrantScopeMismatch"
	KindGrantScopeSchemaProhibitedFields Kind = "GrantScopeSchemaProhibitedFields"
	KindGrantScopeContextIdAndProtocolPath Kind = "GrantScopeContextIdAndProtocolPath"
	KindGrantConditionPublicationRequired Kind = "GrantConditionPublicationRequired"

	// Storage
	KindDataNotFound     Kind = "DataNotFound"
	KindDataCidMismatch  Kind = "DataCidMismatch"
	KindDataSizeMismatch Kind = "DataSizeMismatch"

	// State machine
	KindInitialWriteNotFound Kind = "InitialWriteNotFound"
	KindNewerMessageExists   Kind = "NewerMessageExists"
	KindGrantedByMismatch    Kind = "GrantedByMismatch"
)

var classByKind = map[Kind]Class{
	KindSchemaInvalid:             ClassBadRequest,
	KindUnknownProperty:           ClassBadRequest,
	KindUrlNotNormalized:          ClassBadRequest,
	KindDescriptorCidMismatch:     ClassBadRequest,
	KindAttestationMultipleSigners: ClassBadRequest,
	KindAttestationExtraProperties: ClassBadRequest,

	KindRecordIdUnauthorized:     ClassBadRequest,
	KindContextIdMismatch:        ClassBadRequest,
	KindDateCreatedMismatch:      ClassBadRequest,
	KindImmutablePropertyChanged: ClassBadRequest,
	KindAttestationCidMismatch:   ClassBadRequest,
	KindEncryptionCidMismatch:    ClassBadRequest,

	KindInvalidDid:       ClassUnauthorized,
	KindInvalidSignature: ClassUnauthorized,

	KindProtocolNotFound:           ClassUnauthorized,
	KindInvalidParent:              ClassUnauthorized,
	KindSchemaMismatch:             ClassUnauthorized,
	KindDataFormatMismatch:         ClassUnauthorized,
	KindDataSizeExceeded:           ClassUnauthorized,
	KindTagsSchemaViolation:        ClassUnauthorized,
	KindActionNotAllowed:           ClassUnauthorized,
	KindMatchingRoleRecordNotFound: ClassUnauthorized,

	KindGrantMissing:                       ClassUnauthorized,
	KindGrantNotGrantedToAuthor:            ClassUnauthorized,
	KindGrantNotGrantedForTenant:           ClassUnauthorized,
	KindGrantNotYetActive:                  ClassUnauthorized,
	KindGrantExpired:                       ClassUnauthorized,
	KindGrantRevoked:                       ClassUnauthorized,
	KindGrantInterfaceMismatch:             ClassUnauthorized,
	KindGrantMethodMismatch:                ClassUnauthorized,
	KindGrantScopeMismatch:                 ClassUnauthorized,
	KindGrantScopeSchemaProhibitedFields:   ClassBadRequest,
	KindGrantScopeContextIdAndProtocolPath: ClassBadRequest,
	KindGrantConditionPublicationRequired:  ClassUnauthorized,

	KindDataNotFound:     ClassConflict,
	KindDataCidMismatch:  ClassConflict,
	KindDataSizeMismatch: ClassConflict,

	KindInitialWriteNotFound: ClassConflict,
	KindNewerMessageExists:   ClassConflict,
	KindGrantedByMismatch:    ClassBadRequest,
}

// Error is the typed failure value every fallible engine operation returns
// for an expected, caller-correctable failure. Any other failure a
// handler returns is not an Error and is replied as ClassInternal by the
// dispatch boundary's toReply; panics are not recovered there.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Class returns the reply status class for e's kind.
func (e *Error) Class() Class {
	if c, ok := classByKind[e.Kind]; ok {
		return c
	}
	return ClassInternal
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
