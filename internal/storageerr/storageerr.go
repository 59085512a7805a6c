// Package storageerr implements the error taxonomy shared by every stage of
// the storage event pipeline (broker, router, worker, repository), so a
// single switch at the broker boundary can decide whether to ack or nak a
// message.
package storageerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it.
type Kind int

const (
	// KindParse: the message or payload was structurally invalid. Nak for
	// redelivery; the consumer's max-deliver bounds the attempts.
	KindParse Kind = iota
	// KindNotFound: a referenced entity (blob, tenant, row) does not exist.
	// Ack; redelivery will not create it.
	KindNotFound
	// KindTransient: a dependency (network, database, broker) is
	// temporarily unavailable. Nak for redelivery.
	KindTransient
	// KindConflict: a concurrent write lost a race (e.g. optimistic lock).
	// Nak for redelivery; the next attempt should see the new state.
	KindConflict
	// KindValidation: the payload parsed but failed a domain invariant
	// (e.g. an unknown query hint, no embedder for a provider). Ack;
	// redelivery will not fix it.
	KindValidation
	// KindIndexing: the primary write succeeded but a best-effort side
	// index (embeddings, KV mapping) failed. Already logged and absorbed
	// by the caller; never surfaces as a reason to nak.
	KindIndexing
	// KindFatal: an unrecoverable programmer or configuration error.
	// Ack to avoid a redelivery storm and surface loudly via logs/metrics.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindIndexing:
		return "indexing"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind so handlers can branch on classification
// without string-matching messages.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, otherwise returns KindFatal since an unclassified error is
// treated conservatively as non-retryable.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}

// Retryable reports whether a handler should nak (redeliver) rather than ack.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindParse, KindTransient, KindConflict:
		return true
	default:
		return false
	}
}
