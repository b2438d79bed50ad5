package scheduler

import (
	"sort"
	"time"

	"pifan/internal/task/engine"
)

type Entry struct {
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	Spec         string    `json:"spec"`
	Registered   time.Time `json:"registered"`
	Next         time.Time `json:"next"`
	Prev         time.Time `json:"prev,omitempty"`
	Running      bool      `json:"running"`
	RunningSince time.Time `json:"running_since,omitempty"` // wall clock, zero unless the body executes
	Fired        uint64    `json:"fired"`
	Skipped      uint64    `json:"skipped"`
	Dropped      uint64    `json:"dropped"`
	Runs         uint64    `json:"runs"`
	Failures     uint64    `json:"failures"`
}

type Snapshot struct {
	Name     string          `json:"name"`
	Timezone string          `json:"timezone"`
	Now      time.Time       `json:"now"`
	Entries  []Entry         `json:"entries"`
	Pool     engine.Snapshot `json:"pool"`
}

// Snapshot returns the registry ordered by next fire time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.regs))
	for _, r := range s.regs {
		runs, fails := r.runner.Counters()
		entries = append(entries, Entry{
			Name:         r.name,
			Kind:         r.sched.Kind().String(),
			Spec:         r.sched.String(),
			Registered:   r.registered,
			Next:         r.next,
			Prev:         r.prev,
			Running:      r.runner.InFlight(),
			RunningSince: r.runner.Started(),
			Fired:        r.fired,
			Skipped:      r.skipped,
			Dropped:      r.dropped,
			Runs:         runs,
			Failures:     fails,
		})
	}
	now := s.now()
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Next.Equal(entries[j].Next) {
			return entries[i].Next.Before(entries[j].Next)
		}
		return entries[i].Name < entries[j].Name
	})
	return Snapshot{
		Name:     s.name,
		Timezone: s.loc.String(),
		Now:      now,
		Entries:  entries,
		Pool:     s.pool.Snapshot(),
	}
}
