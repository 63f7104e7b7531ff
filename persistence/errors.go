package persistence

import (
	"errors"
	"fmt"
)

// Kind classifies a translated engine failure.
type Kind int

const (
	// KindEngine covers generic engine failures: constraint violations,
	// connectivity, anything without a more specific category.
	KindEngine Kind = iota

	// KindMapping covers object-relational mapping failures.
	KindMapping

	// KindLockConflict covers optimistic lock conflicts.
	KindLockConflict

	// KindTransaction covers transaction-requirement violations.
	KindTransaction

	// KindMetadata covers metadata-resolution failures.
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindLockConflict:
		return "lock_conflict"
	case KindTransaction:
		return "transaction"
	case KindMetadata:
		return "metadata"
	default:
		return "engine"
	}
}

// Error is the single failure type the manager surfaces for every delegated
// operation. It carries the operation, a category, the engine-native code
// when one exists, and the original failure as its cause.
type Error struct {
	Op      string
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("persistence: %s: %s [%s] %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("persistence: %s: %s %s", e.Op, e.Kind, e.Message)
}

// Unwrap exposes the original engine failure. The cause is never discarded.
func (e *Error) Unwrap() error { return e.cause }

// InvalidArgumentError reports a caller mistake detected before any engine
// delegation: an unresolvable type name passed to Find or Reference.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("persistence: invalid argument %s: %s", e.Argument, e.Reason)
}

// Translate maps any engine failure into exactly one *Error. Translation is
// total: every engine category has one façade kind, and everything else
// falls into KindEngine. Already translated errors and invalid-argument
// errors pass through unchanged.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var translated *Error
	if errors.As(err, &translated) {
		return err
	}
	var invalid *InvalidArgumentError
	if errors.As(err, &invalid) {
		return err
	}

	kind := KindEngine
	code := ""

	var lock *OptimisticLockError
	var mapping *MappingError
	var metadata *MetadataError

	switch {
	case errors.Is(err, ErrTransactionRequired):
		kind = KindTransaction
	case errors.As(err, &lock):
		kind = KindLockConflict
	case errors.As(err, &mapping):
		kind = KindMapping
		code = mapping.Code
	case errors.As(err, &metadata):
		kind = KindMetadata
		code = metadata.Code
	}

	return &Error{
		Op:      op,
		Kind:    kind,
		Code:    code,
		Message: err.Error(),
		cause:   err,
	}
}
