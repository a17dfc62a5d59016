package store

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrGuestNotFound     = errors.New("guest not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrStorage           = errors.New("storage failure")
)

// StorageError marks a failure of the persistence backend itself. It matches
// ErrStorage with errors.Is and unwraps to the driver error.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Wrap annotates a backend error with the failed operation. Nil stays nil and
// errors that already carry a domain meaning pass through untouched.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &StorageError{Err: pkgerrors.Wrap(err, op)}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrQueueNotFound) ||
		errors.Is(err, ErrGuestNotFound) ||
		errors.Is(err, ErrChallengeNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}
