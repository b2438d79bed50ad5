// Package cli implements the pifan command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command for the pifan CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pifan",
		Short: "pifan switches a fan or relay on a schedule",
		Long: "pifan drives a GPIO pin, a systemd unit or a dry-run output from cron,\n" +
			"fixed-rate and one-shot schedules.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(),
		newNextCmd(),
		newCheckCmd(),
	)
	return root
}
