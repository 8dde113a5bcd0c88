package billing

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores, catalogs and the engine.
var (
	// ErrConcurrencyConflict signals that an optimistic claim was lost to a
	// concurrent or earlier run. It is not a failure: the cycle in question
	// has already been handled by someone else.
	ErrConcurrencyConflict = errors.New("billing cycle already claimed")

	ErrAssignmentNotFound    = errors.New("subscription assignment not found")
	ErrPaymentRecordNotFound = errors.New("payment record not found")
	ErrPlanNotFound          = errors.New("plan not found")
	ErrUserNotFound          = errors.New("user not found")
)

// ConfigurationError reports a missing or invalid configuration value, such
// as an unrecognized cycle type or an unresolvable plan reference. The
// affected entity is skipped and reported while the batch continues.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Detail)
}

// TransientStoreError wraps a datastore failure during a single entity's
// processing. The entity is left untouched so the next scheduled run can
// pick it up again.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// DataIntegrityViolation flags an entity whose persisted state is internally
// inconsistent, such as an active assignment with no anchor date. Flagged
// entities are surfaced for manual review and never abort the batch.
type DataIntegrityViolation struct {
	Entity   string
	EntityID int64
	Field    string
	Detail   string
}

func (e *DataIntegrityViolation) Error() string {
	return fmt.Sprintf("data integrity violation on %s %d: field %s %s", e.Entity, e.EntityID, e.Field, e.Detail)
}

// InvalidStateTransition reports an attempt to move a payment record along
// an edge its state machine does not define, such as paying a cancelled
// record.
type InvalidStateTransition struct {
	Entity   string
	EntityID int64
	From     string
	To       string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition for %s %d: %s -> %s", e.Entity, e.EntityID, e.From, e.To)
}

// ErrorKind buckets an error into the run report taxonomy.
type ErrorKind string

const (
	ErrorKindConfiguration     ErrorKind = "configuration_error"
	ErrorKindConcurrency       ErrorKind = "concurrency_conflict"
	ErrorKindTransientStore    ErrorKind = "transient_store_error"
	ErrorKindDataIntegrity     ErrorKind = "data_integrity_violation"
	ErrorKindInvalidTransition ErrorKind = "invalid_state_transition"
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// ClassifyError maps an error to its reporting bucket.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var (
		confErr  *ConfigurationError
		integErr *DataIntegrityViolation
		transErr *InvalidStateTransition
		storeErr *TransientStoreError
	)
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		return ErrorKindConcurrency
	case errors.As(err, &confErr):
		return ErrorKindConfiguration
	case errors.As(err, &integErr):
		return ErrorKindDataIntegrity
	case errors.As(err, &transErr):
		return ErrorKindInvalidTransition
	case errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, ErrPaymentRecordNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrUserNotFound):
		return ErrorKindNotFound
	case errors.As(err, &storeErr):
		return ErrorKindTransientStore
	default:
		return ErrorKindUnknown
	}
}
