// Package actuator drives the physical output the schedules switch: a GPIO
// pin wired to a relay, a systemd unit, or a log-only dry run.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pifan/pkg/logx"
)

var (
	ErrUnknownDriver = errors.New("unknown actuator driver")
	ErrUnknownAction = errors.New("unknown actuator action")
	ErrClosed        = errors.New("actuator closed")
)

// Actuator is a two-state output.
type Actuator interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Close(ctx context.Context) error
}

type State int

const (
	StateUnknown State = iota
	StateOff
	StateOn
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	default:
		return "unknown"
	}
}

type Action string

const (
	ActionOn     Action = "on"
	ActionOff    Action = "off"
	ActionToggle Action = "toggle"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff, ActionToggle:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q (use on, off or toggle)", ErrUnknownAction, s)
}

type Config struct {
	// Driver is gpio, systemd or log.
	Driver      string
	Description string
	GPIO        GPIOConfig
	Systemd     SystemdConfig
	// MinToggleInterval rate-limits state changes to protect the relay.
	MinToggleInterval time.Duration
}

const (
	DefaultDescription = "Outlet"
	DefaultPin         = 8
)

// Open builds the driver named by cfg.Driver.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Actuator, error) {
	log = log.With(logx.String("comp", "actuator"), logx.String("driver", cfg.Driver))
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log", "dryrun", "dry-run":
		return NewLog(log), nil
	case "gpio", "sysfs":
		return OpenGPIO(ctx, cfg.GPIO, log)
	case "systemd":
		return OpenSystemd(ctx, cfg.Systemd, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
