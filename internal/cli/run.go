package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pifan/internal/app"

	"github.com/spf13/cobra"
)

const stopTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (.json, .yaml); built-in defaults when empty")
	return cmd
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	shutdown := func(reason app.StopReason) error {
		sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
		defer scancel()
		return a.Stop(sctx, reason)
	}

	if err := a.Start(ctx); err != nil {
		return errors.Join(err, shutdown(app.StopFatalError))
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}
	cancel()

	stopErr := shutdown(reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}
