package engine

import "errors"

var (
	ErrStopped     = errors.New("worker pool stopped")
	ErrQueueFull   = errors.New("worker pool queue full")
	ErrOverlapSkip = errors.New("job skipped: previous run still active")
	ErrInvalidTask = errors.New("invalid task")
)
