package queue

import (
	"errors"

	"qme/internal/store"
)

var (
	ErrQueueNotFound   = store.ErrQueueNotFound
	ErrQueueClosed     = errors.New("queue closed")
	ErrAlreadyEnqueued = errors.New("guest already enqueued")
	ErrAlreadyServing  = errors.New("queue already serving a guest")
	ErrQueueEmpty      = errors.New("queue empty")
	ErrNothingServing  = errors.New("no ticket being served")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrInvalidInput    = errors.New("invalid input")
)
