// Package syncerr defines the error taxonomy of the sync engine.
//
// Errors are split by blast radius:
//   - record-level (Translation, Validation, Storage): recorded against one
//     buffered record, the session continues
//   - session-level (Transport, FatalConfiguration): abort the session and
//     surface on the session row
package syncerr

import (
	"errors"
	"fmt"
)

// Kind categorises a sync error.
type Kind string

const (
	// KindTransport is a network or authentication failure talking to a peer.
	KindTransport Kind = "TRANSPORT"

	// KindTranslation is a payload that could not be decoded or encoded.
	KindTranslation Kind = "TRANSLATION"

	// KindValidation is a referential or scope rejection during integration.
	KindValidation Kind = "VALIDATION"

	// KindStorage is a failed write against the local repository.
	KindStorage Kind = "STORAGE"

	// KindFatalConfiguration is a cyclic translator graph or a table nobody claims.
	KindFatalConfiguration Kind = "FATAL_CONFIGURATION"
)

// Error is a classified sync error.
type Error struct {
	Kind Kind

	// Table is the wire or local table the error concerns, if any.
	Table string

	// RecordID identifies the record for record-level errors.
	RecordID string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var msg string
	switch {
	case e.Table != "" && e.RecordID != "":
		msg = fmt.Sprintf("%s: %s (table=%s, record=%s)", e.Kind, e.Message, e.Table, e.RecordID)
	case e.Table != "":
		msg = fmt.Sprintf("%s: %s (table=%s)", e.Kind, e.Message, e.Table)
	default:
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transport builds a TransportError.
func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// Translation builds a TranslationError for one record.
func Translation(table, recordID, message string, err error) *Error {
	return &Error{Kind: KindTranslation, Table: table, RecordID: recordID, Message: message, Err: err}
}

// Validation builds a ValidationError for one record.
func Validation(table, recordID, message string) *Error {
	return &Error{Kind: KindValidation, Table: table, RecordID: recordID, Message: message}
}

// Storage builds a StorageError for one record.
func Storage(table, recordID string, err error) *Error {
	return &Error{Kind: KindStorage, Table: table, RecordID: recordID, Message: "repository write failed", Err: err}
}

// FatalConfiguration builds a FatalConfigurationError.
func FatalConfiguration(table, message string) *Error {
	return &Error{Kind: KindFatalConfiguration, Table: table, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRecordLevel reports whether err only concerns a single buffered record.
func IsRecordLevel(err error) bool {
	switch KindOf(err) {
	case KindTranslation, KindValidation, KindStorage:
		return true
	}
	return false
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsFatal reports whether err is a FatalConfigurationError.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatalConfiguration
}
