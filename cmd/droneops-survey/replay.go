package main

import (
	"github.com/spf13/cobra"

	"droneops-survey/internal/logging"
	"droneops-survey/internal/sim"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a telemetry log file",
	Long:  "replay feeds telemetry samples from a JSONL log file back into the configured sinks or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, cleanup, err := newWriters(ctx, writerOptions{PrintOnly: replayPrintOnly})
		if err != nil {
			return err
		}
		defer cleanup()
		n, err := sim.ReplayLogFile(ctx, replayInput, w, nil, replaySpeed)
		logging.FromContext(ctx).Info("replay finished", "input", replayInput, "samples", n)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to external sinks")
	replayCmd.MarkFlagRequired("input")
}
