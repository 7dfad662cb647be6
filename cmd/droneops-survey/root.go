package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"droneops-survey/internal/logging"
)

var (
	logFormat string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "droneops-survey",
	Short: "Survey mission execution engine",
	Long:  "droneops-survey plans coverage flight paths, flies them on simulated drones and streams the resulting telemetry.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.NewWith(os.Stderr, logFormat, logLevel)
		if err != nil {
			return err
		}
		cmd.SetContext(logging.NewContext(cmd.Context(), log))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}
