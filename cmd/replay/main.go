package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"droneops-survey/internal/logging"
	"droneops-survey/internal/sim"
)

func main() {
	input := flag.String("input", "", "Path to telemetry log file")
	speed := flag.Float64("speed", 1.0, "Playback speed multiplier")
	printOnly := flag.Bool("print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	flag.Parse()

	log := logging.New()
	if *input == "" {
		log.Error("input file required")
		os.Exit(2)
	}

	var writer sim.TelemetryWriter
	if *printOnly || os.Getenv("GREPTIMEDB_ENDPOINT") == "" {
		writer = sim.NewStdoutWriter()
	} else {
		w, err := sim.NewGreptimeDBWriter(os.Getenv("GREPTIMEDB_ENDPOINT"), "public")
		if err != nil {
			log.Error("init GreptimeDB writer", "err", err)
			os.Exit(1)
		}
		writer = w
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	n, err := sim.ReplayLogFile(ctx, *input, writer, nil, *speed)
	if err != nil {
		log.Error("replay failed", "err", err, "samples", n)
		os.Exit(1)
	}
	log.Info("replay finished", "samples", n)
}
