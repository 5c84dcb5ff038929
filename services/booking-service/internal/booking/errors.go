package booking

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrCapacityConflict  = errors.New("capacity conflict")
	ErrFeatureRestricted = errors.New("feature restricted")
	// ErrStorage is transient; the whole operation may be retried.
	ErrStorage = errors.New("storage unavailable")
	// ErrIdempotencyKeyUsed is returned by Store.Create when another booking already
	// holds the tenant's idempotency key.
	ErrIdempotencyKeyUsed = errors.New("idempotency key already used")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
