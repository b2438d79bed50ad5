package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pifan/internal/eventbus"
	logx "pifan/pkg/logx"

	"golang.org/x/time/rate"
)

// StateEvent is the payload of actuator.changed events.
type StateEvent struct {
	Description string    `json:"description"`
	State       string    `json:"state"`
	Previous    string    `json:"previous"`
	At          time.Time `json:"at"`
	Reason      string    `json:"reason,omitempty"`
}

// Guard serializes access to an Actuator, skips writes that would not change
// the state and spaces consecutive changes at least MinToggleInterval apart.
type Guard struct {
	inner       Actuator
	description string
	log         logx.Logger
	bus         eventbus.Bus
	limiter     *rate.Limiter

	// switching orders writers, including their wait for a toggle slot.
	// mu guards the state and is never held across that wait.
	switching sync.Mutex
	mu        sync.Mutex
	state   State
	changed time.Time
	changes uint64
	closed  bool
}

func NewGuard(inner Actuator, description string, minInterval time.Duration, log logx.Logger, bus eventbus.Bus) *Guard {
	if description == "" {
		description = DefaultDescription
	}
	g := &Guard{
		inner:       inner,
		description: description,
		log:         log.With(logx.String("comp", "actuator"), logx.String("output", description)),
		bus:         bus,
	}
	if minInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return g
}

func (g *Guard) Activate(ctx context.Context) error {
	return g.change(ctx, func(State) State { return StateOn }, "activate")
}

func (g *Guard) Deactivate(ctx context.Context) error {
	return g.change(ctx, func(State) State { return StateOff }, "deactivate")
}

// Toggle flips the current state. An unknown state is treated as off.
func (g *Guard) Toggle(ctx context.Context) error {
	return g.change(ctx, func(cur State) State {
		if cur == StateOn {
			return StateOff
		}
		return StateOn
	}, "toggle")
}

// Apply performs a scheduled action.
func (g *Guard) Apply(ctx context.Context, a Action) error {
	switch a {
	case ActionOn:
		return g.Activate(ctx)
	case ActionOff:
		return g.Deactivate(ctx)
	case ActionToggle:
		return g.Toggle(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Changes returns the number of state changes and the time of the last one.
func (g *Guard) Changes() (uint64, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changes, g.changed
}

// change drives the output to pick(current state).
func (g *Guard) change(ctx context.Context, pick func(State) State, reason string) error {
	g.switching.Lock()
	defer g.switching.Unlock()

	g.mu.Lock()
	target := pick(g.state)
	if err := g.pendingLocked(target); err != nil || g.state == target {
		g.mu.Unlock()
		return err
	}
	first := g.state == StateUnknown
	g.mu.Unlock()

	// The first write after start is never delayed.
	if g.limiter != nil && !first {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("actuator: waiting for toggle slot: %w", err)
		}
	} else if g.limiter != nil {
		g.limiter.Allow()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Close may have run during the wait.
	if err := g.pendingLocked(target); err != nil || g.state == target {
		return err
	}
	return g.writeLocked(ctx, target, reason)
}

func (g *Guard) pendingLocked(target State) error {
	if g.closed {
		return ErrClosed
	}
	if g.state == target {
		g.log.Debug("output already in requested state", logx.String("state", target.String()))
	}
	return nil
}

func (g *Guard) writeLocked(ctx context.Context, target State, reason string) error {
	var err error
	if target == StateOn {
		err = g.inner.Activate(ctx)
	} else {
		err = g.inner.Deactivate(ctx)
	}
	if err != nil {
		g.log.Error("output switch failed", logx.String("state", target.String()), logx.Err(err))
		return err
	}

	prev := g.state
	g.state = target
	g.changed = time.Now()
	g.changes++
	g.log.Info("output switched", logx.String("state", target.String()), logx.String("previous", prev.String()))
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.ActuatorChanged, Time: g.changed, Data: StateEvent{
			Description: g.description,
			State:       target.String(),
			Previous:    prev.String(),
			At:          g.changed,
			Reason:      reason,
		}})
	}
	return nil
}

// Close drives the output off, bypassing the rate limit, and releases the
// driver. It is the shutdown path.
func (g *Guard) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	var err error
	if g.state != StateOff {
		err = g.writeLocked(ctx, StateOff, "shutdown")
	}
	g.closed = true
	if cerr := g.inner.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
