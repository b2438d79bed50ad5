package engine

import (
	"time"

	"pifan/internal/task/job"
)

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of pool goroutines (numThreads).
	Workers   int
	QueueSize int

	// MaxQueueDelay drops tasks that waited longer than this in the queue.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

const (
	defaultWorkers     = 5
	defaultQueueSize   = 64
	defaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// Task is one execution request. Runner gates overlap (skip-if-running) and
// owns the cancel handle of the run.
type Task struct {
	ID     string
	Name   string
	Runner *job.Runner
	Work   job.Func
	// Scheduled is the fire time that produced the task, if any.
	Scheduled time.Time
}

type HistoryItem struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Scheduled   time.Time     `json:"scheduled,omitempty"`
	Started     time.Time     `json:"started"`
	QueueDelay  time.Duration `json:"queue_delay"`
	Duration    time.Duration `json:"duration"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// JobEvent is the payload of the job.* bus events.
type JobEvent struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Started     time.Time     `json:"started"`
	QueueDelay  time.Duration `json:"queue_delay"`
	Duration    time.Duration `json:"duration"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running   bool          `json:"running"`
	Workers   int           `json:"workers"`
	QueueLen  int           `json:"queue_len"`
	QueueCap  int           `json:"queue_cap"`
	InFlight  int           `json:"in_flight"`
	Completed uint64        `json:"completed"`
	Failed    uint64        `json:"failed"`
	Skipped   uint64        `json:"skipped"`
	Dropped   uint64        `json:"dropped"`
	History   []HistoryItem `json:"history"`
}
