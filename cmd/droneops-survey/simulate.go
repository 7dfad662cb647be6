package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"droneops-survey/internal/admin"
	"droneops-survey/internal/config"
	"droneops-survey/internal/engine"
	"droneops-survey/internal/fleet"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/plan"
	"droneops-survey/internal/store"
)

var (
	simPrintOnly  bool
	simTUI        bool
	simConfigPath string
	simSchemaPath string
	simAddr       string
	simLogFile    string
	simPlan       string
	simPoll       time.Duration
	simExit       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the mission engine with the admin API",
	Long: "simulate restores persisted missions, serves the mission command API and " +
		"optionally flies a scripted plan, emitting telemetry to the configured sinks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if simTUI {
			// the TUI owns the terminal
			quiet, _ := logging.NewWith(io.Discard, "text", "error")
			ctx = logging.NewContext(ctx, quiet)
		}
		log := logging.FromContext(ctx)

		cfg, err := config.Load(simConfigPath, simSchemaPath)
		if err != nil {
			return err
		}
		var p *plan.Plan
		if simPlan != "" {
			if p, err = loadPlan(simPlan); err != nil {
				return err
			}
		}

		w, cleanup, err := newWriters(ctx, writerOptions{
			PrintOnly: simPrintOnly,
			TUI:       simTUI,
			LogFile:   simLogFile,
			ClusterID: cfg.ClusterID,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := fleet.NewRegistry(cfg)
		if err != nil {
			return err
		}
		eng := engine.New(ctx, cfg, engine.Deps{Store: st, Fleet: reg, Writer: w, Events: w})
		n, err := eng.Restore(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("restored missions", "count", n)
		}

		g, gctx := errgroup.WithContext(ctx)
		srv := admin.NewServer(eng, reg, cfg.ClusterID)
		g.Go(func() error { return srv.Start(gctx, simAddr) })
		if p != nil {
			g.Go(func() error {
				ms, err := plan.Execute(gctx, eng, p, simPoll)
				for _, m := range ms {
					log.Info("plan mission", "mission_id", m.ID, "name", m.Name, "status", m.Status, "progress", m.Progress)
				}
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				if simExit {
					stop()
				}
				return nil
			})
		}
		err = g.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := eng.Shutdown(shutdownCtx); serr != nil {
			log.Warn("engine shutdown incomplete", "err", serr)
		}
		log.Info("survey engine stopped")
		return err
	},
}

// loadPlan resolves name as a built-in plan first and as a file otherwise.
func loadPlan(name string) (*plan.Plan, error) {
	if p, ok := plan.BuiltIn()[name]; ok {
		return &p, nil
	}
	return plan.Load(name)
}

func init() {
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to external sinks")
	simulateCmd.Flags().BoolVar(&simTUI, "tui", false, "Render live telemetry in a terminal UI")
	simulateCmd.Flags().StringVar(&simConfigPath, "config", "config/engine.yaml", "Path to engine configuration YAML")
	simulateCmd.Flags().StringVar(&simSchemaPath, "schema", "schemas/engine.cue", "Path to CUE schema file")
	simulateCmd.Flags().StringVar(&simAddr, "addr", ":8080", "Admin API listen address")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export telemetry and mission event logs (JSONL)")
	simulateCmd.Flags().StringVar(&simPlan, "plan", "", "Built-in plan name or plan file to fly on startup")
	simulateCmd.Flags().DurationVar(&simPoll, "poll", time.Second, "How often plan triggers are evaluated")
	simulateCmd.Flags().BoolVar(&simExit, "exit-after-plan", false, "Stop once every plan mission has ended")
}
