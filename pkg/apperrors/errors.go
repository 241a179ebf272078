package apperrors

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the record does not exist in the store. For
	// lifecycle purposes absence is the Purged state.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is a programming error: an illegal lifecycle
	// transition was requested (e.g. purging an Active record).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrGraceNotElapsed rejects a purge whose root has not waited out its
	// grace period.
	ErrGraceNotElapsed = errors.New("grace period has not elapsed")
	// ErrAncestorDeleted rejects a restore whose ancestor chain is not
	// fully Active.
	ErrAncestorDeleted = errors.New("ancestor is tombstoned or purged")
	// ErrArchiveFailure aborts a purge whose archive write failed; the
	// record stays Tombstoned and is retried on the next sweep.
	ErrArchiveFailure = errors.New("archive write failed")
	// ErrConstraintViolation marks unexpected data shape (e.g. a child row
	// missing its ownership reference).
	ErrConstraintViolation = errors.New("constraint violation")
)

// Kind buckets an error for sweep accounting and retry decisions.
type Kind string

const (
	// KindTransient errors (connection loss, timeouts) are not retried
	// within the call; the next scheduled sweep re-selects the record.
	KindTransient Kind = "transient"
	// KindConstraint errors skip the record and are reported in the sweep
	// result.
	KindConstraint        Kind = "constraint"
	KindInvalidTransition Kind = "invalid_transition"
	KindAncestorDeleted   Kind = "ancestor_deleted"
	KindArchiveFailure    Kind = "archive_failure"
	KindNotFound          Kind = "not_found"
)

// timeouter matches net.Error and friends without importing net.
type timeouter interface {
	Timeout() bool
}

// Classify maps an error to its taxonomy kind. Unknown errors are treated
// as transient: the engine never retries in-call, so the safe default is
// to leave the record eligible for the next sweep.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGraceNotElapsed):
		return KindInvalidTransition
	case errors.Is(err, ErrAncestorDeleted):
		return KindAncestorDeleted
	case errors.Is(err, ErrArchiveFailure):
		return KindArchiveFailure
	case errors.Is(err, ErrConstraintViolation):
		return KindConstraint
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	}
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return KindTransient
	}
	return KindTransient
}
