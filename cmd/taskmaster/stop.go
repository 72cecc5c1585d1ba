package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/signals"
)

var stopPause bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running run to stop",
	Long: `Ask the run executing in this project to stop.

By default the current attempt is cancelled and the run pauses as
interrupted. With --pause the current attempt finishes first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		cfg, err := loadConfig(w)
		if err != nil {
			return err
		}
		if stopPause {
			if err := signals.SendPause(cfg.StateDir, time.Now()); err != nil {
				return err
			}
			printStatus(w, "⏸", "Pause requested; the run stops after the current attempt", color.FgYellow)
			return nil
		}
		if err := signals.SendStop(cfg.StateDir, time.Now()); err != nil {
			return err
		}
		printStatus(w, "■", "Stop requested", color.FgYellow)
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopPause, "pause", false, "Let the current attempt finish before pausing")
}
