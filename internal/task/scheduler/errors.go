package scheduler

import (
	"errors"

	"pifan/internal/task/cronexpr"
)

var (
	// ErrInit reports that the scheduler or its worker pool could not start.
	ErrInit = errors.New("scheduler init failed")
	// ErrInvalidExpression is returned by RegisterCron for a malformed expression.
	ErrInvalidExpression = cronexpr.ErrInvalidExpression
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrStopped           = errors.New("scheduler stopped")

	// errRetired ends a registration after its last fire.
	errRetired = errors.New("schedule retired")
)
