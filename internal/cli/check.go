package cli

import (
	"fmt"
	"time"

	"pifan/internal/config"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print its jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			jobs := cfg.EffectiveJobs()
			src := "configured"
			if len(cfg.Jobs) == 0 {
				src = "default"
			}
			fmt.Fprintf(out, "config OK: %d %s job(s), actuator %q, boot %s\n",
				len(jobs), src, cfg.ActuatorConfig().Driver, cfg.BootState())

			loc := time.Local
			if tz := cfg.Scheduler.Timezone; tz != "" {
				if l, err := time.LoadLocation(tz); err == nil {
					loc = l
				}
			}
			now := time.Now().In(loc)
			for _, j := range jobs {
				sched, err := j.Schedule()
				if err != nil {
					return err
				}
				next := "-"
				if ts := scheduler.Upcoming(sched, now, 1); len(ts) > 0 {
					next = ts[0].Format(time.RFC3339)
				}
				fmt.Fprintf(out, "  %-12s %-6s %-24s next %s\n", j.Name, j.Action, sched.String(), next)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (.json, .yaml)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
