package storage

import (
	"context"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/eventbus"
	"pifan/internal/task/engine"
	logx "pifan/pkg/logx"
)

const (
	recorderBuffer = 256
	appendTimeout  = 2 * time.Second
)

// Recorder copies run outcomes and actuator transitions from the bus into a
// Store.
type Recorder struct {
	store Store
	log   logx.Logger

	ch          <-chan eventbus.Event
	unsubscribe func()
}

// NewRecorder subscribes to bus immediately so no event published after it
// returns is missed; Run consumes the subscription.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	r := &Recorder{store: store, log: log.With(logx.String("comp", "recorder"))}
	if store != nil && bus != nil {
		r.ch, r.unsubscribe = bus.Subscribe(recorderBuffer)
	}
	return r
}

// Run persists events until ctx is done. Events that arrive while a write
// is slow may be lost; the bus never blocks producers.
func (r *Recorder) Run(ctx context.Context) error {
	if r.ch == nil {
		<-ctx.Done()
		return nil
	}
	defer r.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-r.ch:
			if !ok {
				return nil
			}
			rec, ok := RecordFromEvent(e)
			if !ok {
				continue
			}
			actx, cancel := context.WithTimeout(ctx, appendTimeout)
			err := r.store.Append(actx, rec)
			cancel()
			if err != nil {
				r.log.Warn("history append failed", logx.String("kind", rec.Kind), logx.String("name", rec.Name), logx.Err(err))
			}
		}
	}
}

// RecordFromEvent converts a bus event into a Record. job.started and
// unknown events are not recorded.
func RecordFromEvent(e eventbus.Event) (Record, bool) {
	switch e.Type {
	case eventbus.JobFinished, eventbus.JobFailed, eventbus.JobSkipped, eventbus.JobDropped:
		ev, ok := e.Data.(engine.JobEvent)
		if !ok {
			return Record{}, false
		}
		r := Record{
			At:       e.Time,
			Kind:     e.Type,
			Name:     ev.Name,
			RunID:    ev.ID,
			Duration: ev.Duration,
			Error:    ev.Error,
		}
		if ev.Interrupted {
			r.Detail = "interrupted"
		}
		return r, true
	case eventbus.ActuatorChanged:
		ev, ok := e.Data.(actuator.StateEvent)
		if !ok {
			return Record{}, false
		}
		return Record{
			At:     ev.At,
			Kind:   e.Type,
			Name:   ev.Description,
			Detail: ev.State,
		}, true
	}
	return Record{}, false
}
