package main

import (
	"github.com/spf13/cobra"

	"droneops-survey/internal/dashboard"
	"droneops-survey/internal/logging"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards",
	Long: "dashboard renders the mission telemetry and mission event dashboards. " +
		"GREPTIMEDB_DATASOURCE_UID and CLICKHOUSE_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashboardOut); err != nil {
			return err
		}
		logging.FromContext(cmd.Context()).Info("dashboards rendered", "dir", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
