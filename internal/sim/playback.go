package sim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"droneops-survey/internal/telemetry"
)

// ReplayLog replays telemetry samples from r to writer. A speed >0 scales the
// recorded gaps between samples; if speed <= 0, no artificial delay is
// inserted. Samples are also published to hub when it is not nil.
func ReplayLog(ctx context.Context, r io.Reader, writer TelemetryWriter, hub *telemetry.Hub, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	n := 0
	for {
		var s telemetry.Sample
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if !prev.IsZero() && speed > 0 {
			diff := s.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				select {
				case <-time.After(diff):
				case <-ctx.Done():
					return n, ctx.Err()
				}
			}
		}
		if hub != nil {
			hub.Publish(s)
		}
		if err := writer.Write(s); err != nil {
			return n, err
		}
		n++
		prev = s.Timestamp
	}
}

// ReplayLogFile opens a file and replays its telemetry samples.
func ReplayLogFile(ctx context.Context, path string, writer TelemetryWriter, hub *telemetry.Hub, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, hub, speed)
}
