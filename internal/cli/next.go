package cli

import (
	"fmt"
	"strings"
	"time"

	"pifan/internal/task/scheduler"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newNextCmd() *cobra.Command {
	var (
		count int
		tz    string
		from  string
	)
	cmd := &cobra.Command{
		Use:   `next "<schedule>"`,
		Short: "Print the upcoming fire times of a schedule",
		Long: "Accepts a six-field cron expression (\"0 10,40 * * * ?\"), cron:<expr>,\n" +
			"every:<interval>[+<delay>], once:<delay> or a bare interval (55m, HH:MM).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			sched, err := scheduler.ParseSchedule(args[0])
			if err != nil {
				return err
			}
			loc := time.Local
			if strings.TrimSpace(tz) != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return fmt.Errorf("--tz: %w", err)
				}
			}
			now := time.Now().In(loc)
			if from != "" {
				if now, err = time.ParseInLocation(time.RFC3339, from, loc); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", sched.String(), sched.Kind())
			times := scheduler.Upcoming(sched, now, count)
			if len(times) == 0 {
				fmt.Fprintln(out, "no upcoming fire times")
				return nil
			}
			for _, t := range times {
				fmt.Fprintf(out, "  %s  %s\n", t.In(loc).Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default local)")
	cmd.Flags().StringVar(&from, "from", "", "start instant, RFC 3339 (default now)")
	return cmd
}
