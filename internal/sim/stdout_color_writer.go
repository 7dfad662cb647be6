// ColorStdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package sim

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"droneops-survey/internal/telemetry"
)

var (
	grayStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	blueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	redStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	magentaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	cyanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

var missionPalette = []lipgloss.Style{redStyle, greenStyle, yellowStyle, blueStyle, magentaStyle, cyanStyle}

// ColorStdoutWriter prints telemetry samples using ANSI colors.
type ColorStdoutWriter struct {
	out           io.Writer
	mu            sync.Mutex
	missionColors map[string]lipgloss.Style
	colorIdx      int
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to out.
func NewColorStdoutWriter(out io.Writer) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		out:           out,
		missionColors: make(map[string]lipgloss.Style),
	}
}

func (w *ColorStdoutWriter) missionStyle(id string) lipgloss.Style {
	if c, ok := w.missionColors[id]; ok {
		return c
	}
	c := missionPalette[w.colorIdx%len(missionPalette)]
	w.missionColors[id] = c
	w.colorIdx++
	return c
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case telemetry.StatusDepleted:
		return redStyle
	case telemetry.StatusLowBattery:
		return yellowStyle
	}
	return greenStyle
}

// Write outputs a single telemetry sample in colorized format.
func (w *ColorStdoutWriter) Write(s telemetry.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%s %s %s %s %s %s %s %s %s\n",
		grayStyle.Render("["+s.Timestamp.Format(time.RFC3339)+"]"),
		w.missionStyle(s.MissionID).Render("mission="+s.MissionID),
		"drone="+s.DroneID,
		greenStyle.Render(fmt.Sprintf("lat=%.6f", s.Position.Lat)),
		yellowStyle.Render(fmt.Sprintf("lng=%.6f", s.Position.Lng)),
		magentaStyle.Render(fmt.Sprintf("alt=%.1f", s.Altitude)),
		cyanStyle.Render(fmt.Sprintf("wp=%d progress=%.1f%%", s.WaypointIndex, s.Progress)),
		blueStyle.Render(fmt.Sprintf("batt=%.1f", s.BatteryPercent)),
		statusStyle(s.Status).Render("status="+s.Status),
	)
	return err
}

// WriteEvent prints a lifecycle transition.
func (w *ColorStdoutWriter) WriteEvent(e telemetry.MissionEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	style := blueStyle
	switch e.To {
	case "FAILED", "ABORTED":
		style = redStyle
	case "COMPLETED":
		style = greenStyle
	}
	line := fmt.Sprintf("%s %s %s %s",
		grayStyle.Render("["+e.Timestamp.Format(time.RFC3339)+"]"),
		w.missionStyle(e.MissionID).Render("mission="+e.MissionID),
		style.Render(fmt.Sprintf("%s %s -> %s", e.Command, e.From, e.To)),
		"drone="+e.DroneID)
	if e.Reason != "" {
		line += " " + redStyle.Render("reason="+e.Reason)
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}
