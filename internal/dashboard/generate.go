package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"droneops-survey/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

var templateFiles = []string{
	"templates/mission-telemetry.json.tmpl",
	"templates/mission-events.json.tmpl",
}

// data is what the dashboard templates are rendered with.
type data struct {
	TelemetryTable string
	EventTable     string
	LowBattery     float64
}

// Render parses dashboard templates and writes rendered dashboards to outDir.
func Render(outDir string) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	d := data{
		TelemetryTable: telemetry.TelemetryTableName,
		EventTable:     telemetry.MissionEventTableName,
		LowBattery:     telemetry.LowBatteryPct,
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, tplName := range templateFiles {
		t, err := template.New(filepath.Base(tplName)).Funcs(funcMap).ParseFS(templates, tplName)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(tplName), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, d); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
