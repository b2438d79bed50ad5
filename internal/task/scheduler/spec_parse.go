package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pifan/internal/task/cronexpr"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses the textual schedule forms accepted by the CLI:
//   - "0 10,40 * * * ?" or "cron:<expr>": six-field cron
//   - "every:30m", "every:00:30", "every:30m+5s": fixed rate (optional initial delay after '+')
//   - "once:500ms": one shot
//   - "30m", "02:30": fixed rate
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: schedule required", ErrInvalidSchedule)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseFixedRate(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "once:"):
		d, err := ParseInterval(strings.TrimSpace(s[len("once:"):]), true)
		if err != nil {
			return nil, err
		}
		return Once{Delay: d}, nil
	case strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	return parseFixedRate(s)
}

func parseCron(expr string) (Schedule, error) {
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, err
	}
	return Cron{Expr: e}, nil
}

func parseFixedRate(v string) (Schedule, error) {
	every, delay, hasDelay := strings.Cut(v, "+")
	interval, err := ParseInterval(every, false)
	if err != nil {
		return nil, err
	}
	f := FixedRate{Interval: interval}
	if hasDelay {
		if f.InitialDelay, err = ParseInterval(delay, true); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ParseInterval accepts a Go duration ("55m", "1500ms") or HH:MM ("02:30").
// Zero is only accepted when allowZero is set.
func ParseInterval(v string, allowZero bool) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: interval required", ErrInvalidSchedule)
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("%w: invalid minutes in %q", ErrInvalidSchedule, v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("%w: invalid interval %q (use HH:MM or a duration like '55m')", ErrInvalidSchedule, v)
		}
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: interval %q out of range", ErrInvalidSchedule, v)
	}
	return d, nil
}
