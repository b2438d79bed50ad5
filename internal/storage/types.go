package storage

import (
	"context"
	"errors"
	"time"

	"pifan/internal/eventbus"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
type Config struct {
	Driver string
	Path   string
	// Retain bounds the number of records kept; 0 means DefaultRetain.
	Retain int
	// BusyTimeout applies to sqlite only; 0 leaves the driver default.
	BusyTimeout time.Duration
}

const (
	DefaultRetain     = 10000
	defaultFilePath   = "./pifan-history.jsonl"
	defaultSQLitePath = "./pifan.db"
)

// Record kinds mirror the eventbus event types they are built from.
const (
	KindRunFinished     = eventbus.JobFinished
	KindRunFailed       = eventbus.JobFailed
	KindRunSkipped      = eventbus.JobSkipped
	KindRunDropped      = eventbus.JobDropped
	KindActuatorChanged = eventbus.ActuatorChanged
)

// Record is one persisted history line. Name is the job name for run
// records and the actuator description for actuator records.
type Record struct {
	At       time.Time     `json:"at"`
	Kind     string        `json:"kind"`
	Name     string        `json:"name"`
	RunID    string        `json:"run_id,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	// Detail is "interrupted" for cancelled runs and the new state
	// ("on"/"off") for actuator records.
	Detail string `json:"detail,omitempty"`
}

// Store is the persistence API used by the recorder and the status API.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	Close() error
}
