package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"pifan/internal/task/cronexpr"
	"pifan/internal/task/job"
	logx "pifan/pkg/logx"
)

// RegisterCron parses expr and registers work under name, replacing any
// registration with the same name. A malformed expression returns an error
// wrapping ErrInvalidExpression and leaves the registry untouched.
func (s *Service) RegisterCron(work job.Func, expr, name string) error {
	e, err := cronexpr.Parse(expr)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", expr), logx.Err(err))
		return err
	}
	return s.Register(name, Cron{Expr: e}, work)
}

func (s *Service) RegisterFixedRate(work job.Func, interval, initialDelay time.Duration, name string) error {
	return s.Register(name, FixedRate{Interval: interval, InitialDelay: initialDelay}, work)
}

// RegisterFixedRateMillis is RegisterFixedRate with millisecond arguments.
func (s *Service) RegisterFixedRateMillis(work job.Func, intervalMs, initialDelayMs int64, name string) error {
	interval, err := millis("interval", intervalMs)
	if err != nil {
		return err
	}
	delay, err := millis("initial delay", initialDelayMs)
	if err != nil {
		return err
	}
	return s.RegisterFixedRate(work, interval, delay, name)
}

func (s *Service) RegisterOnce(work job.Func, delay time.Duration, name string) error {
	return s.Register(name, Once{Delay: delay}, work)
}

// RegisterOnceMillis is RegisterOnce with a millisecond delay.
func (s *Service) RegisterOnceMillis(work job.Func, delayMs int64, name string) error {
	delay, err := millis("delay", delayMs)
	if err != nil {
		return err
	}
	return s.RegisterOnce(work, delay, name)
}

const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// millis converts ms to a Duration, rejecting values that would overflow.
func millis(field string, ms int64) (time.Duration, error) {
	if ms > maxMillis || ms < -maxMillis {
		return 0, fmt.Errorf("%w: %s of %dms out of range", ErrInvalidSchedule, field, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Register installs sched under name. The previous registration with that
// name, if any, is removed in the same critical section. Its in-flight run
// keeps going unless InterruptOnUnregistration is set; the name keeps
// skip-if-running semantics across the replacement.
func (s *Service) Register(name string, sched Schedule, work job.Func) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name required", ErrInvalidSchedule)
	case sched == nil:
		return fmt.Errorf("%w: schedule required", ErrInvalidSchedule)
	case work == nil:
		return fmt.Errorf("%w: work required", ErrInvalidSchedule)
	}
	if err := sched.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	now := s.now()
	first, err := sched.first(now)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", sched.String()), logx.Err(err))
		return err
	}

	r := &registration{
		name:       name,
		sched:      sched,
		work:       work,
		registered: now,
		next:       first,
		index:      -1,
	}
	replaced := false
	if old, ok := s.regs[name]; ok {
		s.unregisterLocked(old)
		r.runner = old.runner
		replaced = true
	}
	if r.runner == nil {
		r.runner = job.New(name, s.log)
	}
	s.seq++
	r.seq = s.seq
	s.regs[name] = r
	heap.Push(&s.queue, r)
	s.mu.Unlock()

	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("kind", sched.Kind().String()),
		logx.String("spec", sched.String()),
		logx.Bool("replaced", replaced),
		logx.String("next", formatPreview(Upcoming(sched, now, 4))),
	)
	s.poke()
	return nil
}

// Unregister removes name. A missing name is a no-op and returns false.
func (s *Service) Unregister(name string) bool {
	s.mu.Lock()
	r, ok := s.regs[strings.TrimSpace(name)]
	if ok {
		s.unregisterLocked(r)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("unregister: no such schedule", logx.String("name", name))
		return false
	}
	s.log.Debug("schedule unregistered", logx.String("name", name))
	s.poke()
	return true
}

func (s *Service) unregisterLocked(r *registration) {
	s.removeLocked(r)
	if s.cfg.InterruptOnUnregistration {
		r.runner.RequestInterrupt()
	}
}

// Interrupt asks the in-flight run of name to stop, regardless of
// InterruptOnUnregistration. It reports whether a queued or executing run was
// signalled.
func (s *Service) Interrupt(name string) bool {
	s.mu.Lock()
	r, ok := s.regs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return r.runner.RequestInterrupt()
}

// Next returns the next fire time of name.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[strings.TrimSpace(name)]
	if !ok {
		return time.Time{}, false
	}
	return r.next, true
}

// Running reports whether name has a run queued or executing.
func (s *Service) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[strings.TrimSpace(name)]
	return ok && r.runner.InFlight()
}

// Names returns the registered names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.regs))
	for n := range s.regs {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// IsInvalidExpression reports whether err came from a malformed cron expression.
func IsInvalidExpression(err error) bool { return errors.Is(err, ErrInvalidExpression) }

func formatPreview(ts []time.Time) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, t.Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}
