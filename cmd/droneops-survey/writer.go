package main

import (
	"context"
	"io"
	"os"

	"droneops-survey/internal/logging"
	"droneops-survey/internal/sim"
)

// sink receives both telemetry samples and mission events.
type sink interface {
	sim.TelemetryWriter
	sim.EventWriter
}

type writerOptions struct {
	PrintOnly bool
	TUI       bool
	LogFile   string
	ClusterID string
}

// newWriters sets up the telemetry and event sinks based on flags and env
// vars. It returns the combined sink and a cleanup function closing any
// resources.
func newWriters(ctx context.Context, opts writerOptions) (sink, func(), error) {
	log := logging.FromContext(ctx)
	var sinks []sink
	closeAll := func() {
		for _, s := range sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					log.Warn("closing writer failed", "err", err)
				}
			}
		}
	}

	base, err := baseWriter(opts)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, base)

	if !opts.PrintOnly {
		if addr := os.Getenv("CLICKHOUSE_ADDR"); addr != "" {
			cw, err := sim.NewClickHouseWriter(ctx, sim.ClickHouseConfig{
				Addr:     addr,
				Database: envOr("CLICKHOUSE_DATABASE", "default"),
				User:     os.Getenv("CLICKHOUSE_USER"),
				Password: os.Getenv("CLICKHOUSE_PASSWORD"),
			})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			log.Info("mirroring to ClickHouse", "addr", addr)
			sinks = append(sinks, cw)
		}
		if url := os.Getenv("NATS_URL"); url != "" {
			nw, err := sim.NewNATSWriter(url, envOr("NATS_SUBJECT", "survey.telemetry"))
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			log.Info("publishing to NATS", "url", url)
			sinks = append(sinks, nw)
		}
	}

	if opts.LogFile != "" {
		fw, err := sim.NewFileWriter(opts.LogFile, opts.LogFile+".events")
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, fw)
	}

	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	tws := make([]sim.TelemetryWriter, 0, len(sinks))
	ews := make([]sim.EventWriter, 0, len(sinks))
	for _, s := range sinks {
		tws = append(tws, s)
		ews = append(ews, s)
	}
	return sim.NewMultiWriter(tws, ews), closeAll, nil
}

// baseWriter chooses the primary writer: the TUI, GreptimeDB when an
// endpoint is configured, or STDOUT.
func baseWriter(opts writerOptions) (sink, error) {
	if opts.TUI {
		return sim.NewTUIWriter(opts.ClusterID), nil
	}
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if opts.PrintOnly || endpoint == "" {
		return sim.NewStdoutWriter(), nil
	}
	return sim.NewGreptimeDBWriter(endpoint, envOr("GREPTIMEDB_DATABASE", "public"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
