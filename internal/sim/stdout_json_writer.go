package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"droneops-survey/internal/telemetry"
)

// JSONStdoutWriter prints telemetry samples and mission events as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a telemetry sample in JSON format.
func (w *JSONStdoutWriter) Write(s telemetry.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteBatch outputs multiple telemetry samples in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.Sample) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent outputs a mission event in JSON format.
func (w *JSONStdoutWriter) WriteEvent(e telemetry.MissionEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
