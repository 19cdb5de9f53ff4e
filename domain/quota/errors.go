package quota

import (
	"errors"
	"fmt"

	"github.com/artpar/tutorquota/domain/usage"
)

// Sentinel errors.
//
// Running out of quota is not an error: it is a CheckResult with
// Allowed=false.
var (
	ErrInvalidArgument    = errors.New("quota: invalid argument")
	ErrStorageUnavailable = errors.New("quota: storage unavailable")
)

// StorageError wraps a failed event store call with ledger context.
// It matches ErrStorageUnavailable under errors.Is.
type StorageError struct {
	Op  string // "count", "append" or "consume"
	Key usage.Key
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("quota: storage unavailable: op=%s action=%s user=%s: %v",
		e.Op, e.Key.Action, e.Key.UserID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorageUnavailable) hold for every StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// IsRetryable returns true if the caller may retry the whole operation.
// The ledger itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
