package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pifan/internal/actuator"
	"pifan/internal/config"
	"pifan/internal/task/job"
	logx "pifan/pkg/logx"
)

// actionWork is the job body that drives the output for one configured action.
func (a *App) actionWork(name string, action actuator.Action) job.Func {
	return func(ctx context.Context) error {
		if err := a.guard.Apply(ctx, action); err != nil {
			return fmt.Errorf("%s %s: %w", name, action, err)
		}
		return nil
	}
}

func (a *App) registerJob(j config.JobConfig) error {
	action, err := actuator.ParseAction(j.Action)
	if err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	sched, err := j.Schedule()
	if err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	if err := a.sched.Register(j.Name, sched, a.actionWork(j.Name, action)); err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	return nil
}

// registerJobs installs every effective job of cfg.
func (a *App) registerJobs(cfg *config.Config) error {
	var errs []error
	jobs := cfg.EffectiveJobs()
	for _, j := range jobs {
		if err := a.registerJob(j); err != nil {
			errs = append(errs, err)
		}
	}
	if len(cfg.Jobs) == 0 {
		a.log.Info("no jobs configured; using default schedule", logx.Int("jobs", len(jobs)))
	}
	return errors.Join(errs...)
}

// applyJobs re-registers the jobs that changed between two configs and
// unregisters the removed ones. Registration replaces by name, so a changed
// job keeps its overlap guard.
func (a *App) applyJobs(oldCfg, newCfg *config.Config) {
	d := config.DiffJobs(oldCfg, newCfg)
	if d.Empty() {
		return
	}
	for _, name := range d.Removed {
		a.sched.Unregister(name)
	}
	byName := make(map[string]config.JobConfig)
	for _, j := range newCfg.EffectiveJobs() {
		byName[j.Name] = j
	}
	for _, name := range append(append([]string(nil), d.Added...), d.Changed...) {
		if err := a.registerJob(byName[name]); err != nil {
			a.log.Error("job reload failed", logx.String("job", name), logx.Err(err))
		}
	}
	a.log.Info("jobs reloaded",
		logx.String("added", strings.Join(d.Added, ",")),
		logx.String("changed", strings.Join(d.Changed, ",")),
		logx.String("removed", strings.Join(d.Removed, ",")),
	)
}

// applyBootState drives the output into the configured start state.
func (a *App) applyBootState(ctx context.Context, state string) error {
	switch state {
	case config.BootStateOn:
		return a.guard.Activate(ctx)
	case config.BootStateOff:
		return a.guard.Deactivate(ctx)
	}
	return nil
}
