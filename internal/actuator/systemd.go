package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	logx "pifan/pkg/logx"
)

type SystemdConfig struct {
	// Unit is started on Activate and stopped on Deactivate ("fan.service").
	Unit string
}

// unitConn is the part of the systemd D-Bus connection the driver uses.
type unitConn interface {
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd switches a systemd unit, for outputs driven by another service.
type Systemd struct {
	unit string
	log  logx.Logger

	mu   sync.Mutex
	conn unitConn
}

func newSystemd(cfg SystemdConfig, conn unitConn, log logx.Logger) (*Systemd, error) {
	unit := strings.TrimSpace(cfg.Unit)
	if unit == "" {
		return nil, fmt.Errorf("systemd: unit required")
	}
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return &Systemd{unit: unit, conn: conn, log: log.With(logx.String("unit", unit))}, nil
}

func (s *Systemd) Activate(ctx context.Context) error {
	return s.run(ctx, "start", func(c unitConn, ch chan<- string) (int, error) {
		return c.StartUnitContext(ctx, s.unit, "replace", ch)
	})
}

func (s *Systemd) Deactivate(ctx context.Context) error {
	return s.run(ctx, "stop", func(c unitConn, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, s.unit, "replace", ch)
	})
}

// run issues the job and waits for systemd to report its result.
func (s *Systemd) run(ctx context.Context, op string, call func(unitConn, chan<- string) (int, error)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	ch := make(chan string, 1)
	if _, err := call(conn, ch); err != nil {
		return fmt.Errorf("systemd: %s %s: %w", op, s.unit, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd: %s %s: job %s", op, s.unit, result)
		}
		s.log.Debug("unit job done", logx.String("op", op))
		return nil
	}
}

func (s *Systemd) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}
