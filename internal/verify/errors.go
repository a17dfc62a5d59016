package verify

import (
	"errors"

	"qme/internal/store"
)

var (
	ErrGuestNotFound = store.ErrGuestNotFound
	ErrInvalidInput  = errors.New("invalid input")
)
