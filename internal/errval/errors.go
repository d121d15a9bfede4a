package errval

import (
	"errors"
)

var (
	ErrInternal         = errors.New("internal server error")
	ErrNotFound         = errors.New("not found")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrQueueExists      = errors.New("queue already registered")
	ErrNoTaskID         = errors.New("task has no durable id")
	ErrConcurrentUpdate = errors.New("row was modified concurrently")
	ErrRejected         = errors.New("task rejected by queue group")
	ErrStoreUnavailable = errors.New("task store unavailable")
)
