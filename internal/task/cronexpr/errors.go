package cronexpr

import "errors"

var (
	ErrInvalidExpression  = errors.New("invalid cron expression")
	ErrNoUpcomingFireTime = errors.New("cron expression has no upcoming fire time")
)
