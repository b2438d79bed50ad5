package scheduler

import (
	"fmt"
	"time"

	"pifan/internal/task/cronexpr"
)

type Kind int

const (
	KindCron Kind = iota
	KindFixedRate
	KindOnce
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindFixedRate:
		return "fixed_rate"
	case KindOnce:
		return "once"
	default:
		return "unknown"
	}
}

// Schedule is one of Cron, FixedRate or Once.
type Schedule interface {
	Kind() Kind
	String() string

	validate() error
	// first returns the initial fire time for a registration made at now.
	first(now time.Time) (time.Time, error)
	// after returns the fire time following the one at fired, strictly after now.
	after(fired, now time.Time) (time.Time, error)
}

// Cron fires whenever the expression matches, in the scheduler's location.
type Cron struct{ Expr *cronexpr.Expression }

func (Cron) Kind() Kind { return KindCron }

func (c Cron) String() string {
	if c.Expr == nil {
		return ""
	}
	return c.Expr.String()
}

func (c Cron) validate() error {
	if c.Expr == nil {
		return fmt.Errorf("%w: cron expression is nil", ErrInvalidSchedule)
	}
	return nil
}

func (c Cron) first(now time.Time) (time.Time, error) { return c.Expr.Next(now) }

func (c Cron) after(fired, now time.Time) (time.Time, error) {
	if fired.After(now) {
		now = fired
	}
	return c.Expr.Next(now)
}

// FixedRate fires every Interval, the first time InitialDelay after
// registration. Slots missed while the process lagged are skipped.
type FixedRate struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

func (FixedRate) Kind() Kind { return KindFixedRate }

func (f FixedRate) String() string {
	if f.InitialDelay > 0 {
		return fmt.Sprintf("every %s (initial delay %s)", f.Interval, f.InitialDelay)
	}
	return fmt.Sprintf("every %s", f.Interval)
}

func (f FixedRate) validate() error {
	if f.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrInvalidSchedule, f.Interval)
	}
	if f.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay must be >= 0, got %s", ErrInvalidSchedule, f.InitialDelay)
	}
	return nil
}

func (f FixedRate) first(now time.Time) (time.Time, error) { return now.Add(f.InitialDelay), nil }

func (f FixedRate) after(fired, now time.Time) (time.Time, error) {
	next := fired.Add(f.Interval)
	if !next.After(now) {
		missed := now.Sub(fired) / f.Interval
		next = fired.Add((missed + 1) * f.Interval)
	}
	return next, nil
}

// Once fires a single time, Delay after registration.
type Once struct{ Delay time.Duration }

func (Once) Kind() Kind { return KindOnce }

func (o Once) String() string { return fmt.Sprintf("once after %s", o.Delay) }

func (o Once) validate() error {
	if o.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0, got %s", ErrInvalidSchedule, o.Delay)
	}
	return nil
}

func (o Once) first(now time.Time) (time.Time, error) { return now.Add(o.Delay), nil }

func (Once) after(time.Time, time.Time) (time.Time, error) { return time.Time{}, errRetired }

// Upcoming returns up to n fire times of s after now, as the dispatcher would
// compute them. A retired Once or an exhausted cron yields fewer.
func Upcoming(s Schedule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t, err := s.first(now)
	for err == nil && len(out) < n {
		out = append(out, t)
		t, err = s.after(t, t)
	}
	return out
}
