package domain

import (
	"errors"
	"fmt"
)

// NormalizationErrorKind classifies malformed input.
type NormalizationErrorKind string

const (
	MissingField      NormalizationErrorKind = "missing_field"
	InvalidField      NormalizationErrorKind = "invalid_field"
	InvalidAmount     NormalizationErrorKind = "invalid_amount"
	InvalidDate       NormalizationErrorKind = "invalid_date"
	LineItemMismatch  NormalizationErrorKind = "line_item_mismatch"
	UnknownDepartment NormalizationErrorKind = "unknown_department"
)

// NormalizationError means the raw fields could not be turned into a record.
// Retrying will not help: the source document is unchanged.
type NormalizationError struct {
	Kind   NormalizationErrorKind
	Field  string
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalization failed (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("normalization failed (%s) on field %q: %s", e.Kind, e.Field, e.Detail)
}

// AllocationNotFoundError means no budget is configured for the pair.
type AllocationNotFoundError struct {
	Department string
	Period     string
}

func (e *AllocationNotFoundError) Error() string {
	return fmt.Sprintf("no budget allocation for department %q in period %q", e.Department, e.Period)
}

// PersistenceError wraps a failure of a durable store. It is the only
// error class the pipeline retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is, or wraps, a PersistenceError.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
