package sim

import (
	"errors"
	"io"

	"droneops-survey/internal/telemetry"
)

// MultiWriter fan-outs telemetry samples and mission events to multiple
// writers. Every writer is tried; the errors are joined.
type MultiWriter struct {
	telewriters  []TelemetryWriter
	eventwriters []EventWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(tws []TelemetryWriter, ews []EventWriter) *MultiWriter {
	return &MultiWriter{telewriters: tws, eventwriters: ews}
}

// Write sends a telemetry sample to all writers.
func (mw *MultiWriter) Write(s telemetry.Sample) error {
	var errs []error
	for _, w := range mw.telewriters {
		if err := w.Write(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple telemetry samples to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.Sample) error {
	var errs []error
	for _, w := range mw.telewriters {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, r := range rows {
			if err := w.Write(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteEvent sends a mission event to all event writers.
func (mw *MultiWriter) WriteEvent(e telemetry.MissionEvent) error {
	var errs []error
	for _, w := range mw.eventwriters {
		if err := w.WriteEvent(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that holds resources.
func (mw *MultiWriter) Close() error {
	var errs []error
	seen := map[any]bool{}
	for _, w := range mw.telewriters {
		if c, ok := w.(io.Closer); ok && !seen[c] {
			seen[c] = true
			errs = append(errs, c.Close())
		}
	}
	for _, w := range mw.eventwriters {
		if c, ok := w.(io.Closer); ok && !seen[c] {
			seen[c] = true
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
