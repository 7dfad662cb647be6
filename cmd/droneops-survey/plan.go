package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"droneops-survey/internal/config"
	"droneops-survey/internal/engine"
	"droneops-survey/internal/plan"
)

var (
	planConfigPath string
	planSchemaPath string
	planWaypoints  bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect mission plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tMISSIONS\tDESCRIPTION")
		for _, name := range builtinNames() {
			p, _ := loadPlan(name)
			fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(p.Missions), p.Description)
		}
		return tw.Flush()
	},
}

var planPreviewCmd = &cobra.Command{
	Use:   "preview <plan>",
	Short: "Generate the flight paths of a plan without flying them",
	Long:  "preview resolves a built-in plan name or plan file and prints the generated flight path of every mission as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(planConfigPath, planSchemaPath)
		if err != nil {
			return err
		}
		p, err := loadPlan(args[0])
		if err != nil {
			return err
		}
		eng := engine.New(cmd.Context(), cfg, engine.Deps{})
		defer eng.Shutdown(cmd.Context())

		type preview struct {
			Name              string  `json:"name"`
			Pattern           string  `json:"pattern_type"`
			Waypoints         int     `json:"waypoint_count"`
			TotalDistance     float64 `json:"total_distance"`
			EstimatedDuration float64 `json:"estimated_duration"`
			Path              any     `json:"waypoints,omitempty"`
		}
		out := make([]preview, 0, len(p.Missions))
		for _, ent := range p.Missions {
			fp, err := eng.Preview(ent.Mission)
			if err != nil {
				return fmt.Errorf("mission %q: %w", ent.Mission.Name, err)
			}
			pv := preview{
				Name:              ent.Mission.Name,
				Pattern:           string(fp.Pattern),
				Waypoints:         len(fp.Waypoints),
				TotalDistance:     fp.TotalDistance,
				EstimatedDuration: fp.EstimatedDuration,
			}
			if planWaypoints {
				pv.Path = fp.Waypoints
			}
			out = append(out, pv)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func builtinNames() []string {
	var names []string
	for name := range plan.BuiltIn() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	planPreviewCmd.Flags().StringVar(&planConfigPath, "config", "config/engine.yaml", "Path to engine configuration YAML")
	planPreviewCmd.Flags().StringVar(&planSchemaPath, "schema", "schemas/engine.cue", "Path to CUE schema file")
	planPreviewCmd.Flags().BoolVar(&planWaypoints, "waypoints", false, "Include every waypoint in the output")
	planCmd.AddCommand(planListCmd, planPreviewCmd)
}
