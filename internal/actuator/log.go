package actuator

import (
	"context"
	"sync"

	logx "pifan/pkg/logx"
)

// LogDriver only logs. It backs dry runs and tests.
type LogDriver struct {
	log logx.Logger

	mu          sync.Mutex
	transitions []State
	closed      bool
}

func NewLog(log logx.Logger) *LogDriver { return &LogDriver{log: log} }

func (d *LogDriver) Activate(ctx context.Context) error   { return d.set(StateOn) }
func (d *LogDriver) Deactivate(ctx context.Context) error { return d.set(StateOff) }

func (d *LogDriver) set(s State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.transitions = append(d.transitions, s)
	d.log.Info("output switched (dry run)", logx.String("state", s.String()))
	return nil
}

// Transitions returns every state written so far.
func (d *LogDriver) Transitions() []State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]State(nil), d.transitions...)
}

func (d *LogDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
