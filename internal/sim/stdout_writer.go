// Writer implementation printing telemetry to STDOUT
package sim

import (
	"os"

	"golang.org/x/term"

	"droneops-survey/internal/telemetry"
)

// StdoutWriter prints telemetry to STDOUT, colorized when STDOUT is a
// terminal and as JSON lines otherwise.
type StdoutWriter struct {
	colorize bool
	color    *ColorStdoutWriter
	json     *JSONStdoutWriter
}

// NewStdoutWriter inspects os.Stdout and picks the output format.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{
		colorize: term.IsTerminal(int(os.Stdout.Fd())),
		color:    NewColorStdoutWriter(os.Stdout),
		json:     NewJSONStdoutWriter(),
	}
}

// Colorized reports whether the writer prints for humans.
func (w *StdoutWriter) Colorized() bool { return w.colorize }

// Write outputs a single telemetry sample.
func (w *StdoutWriter) Write(s telemetry.Sample) error {
	if w.colorize {
		return w.color.Write(s)
	}
	return w.json.Write(s)
}

// WriteEvent outputs a mission event.
func (w *StdoutWriter) WriteEvent(e telemetry.MissionEvent) error {
	if w.colorize {
		return w.color.WriteEvent(e)
	}
	return w.json.WriteEvent(e)
}
