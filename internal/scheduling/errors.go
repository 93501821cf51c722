package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the referenced appointment does not exist
	// within the caller's tenant.
	ErrNotFound = errors.New("appointment not found")

	// ErrRuleViolation is the base error for business-rule rejections. No
	// mutation happened and retrying the identical request will fail again.
	ErrRuleViolation = errors.New("business rule violated")

	// ErrConflict is returned when a concurrent mutation won the race: an
	// optimistic version mismatch, a serialization failure, or a storage
	// constraint violation that slipped past the in-transaction checks.
	// The caller may safely retry the same request.
	ErrConflict = errors.New("appointment modified concurrently")

	// ErrValidation is returned for malformed input before any lookup.
	ErrValidation = errors.New("invalid request")
)

func ruleViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRuleViolation, fmt.Sprintf(format, args...))
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
