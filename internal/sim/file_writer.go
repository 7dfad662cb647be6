package sim

import (
	"encoding/json"
	"os"
	"sync"

	"droneops-survey/internal/telemetry"
)

// FileWriter writes telemetry samples and mission events to JSONL files.
type FileWriter struct {
	mu        sync.Mutex
	teleFile  *os.File
	eventFile *os.File
	teleEnc   *json.Encoder
	eventEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath may be empty to skip the
// event log.
func NewFileWriter(telemetryPath, eventPath string) (*FileWriter, error) {
	tf, err := os.Create(telemetryPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{teleFile: tf, teleEnc: json.NewEncoder(tf)}
	if eventPath != "" {
		ef, err := os.Create(eventPath)
		if err != nil {
			tf.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	return fw, nil
}

// Write logs a single telemetry sample.
func (f *FileWriter) Write(s telemetry.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teleEnc.Encode(s)
}

// WriteBatch logs multiple telemetry samples.
func (f *FileWriter) WriteBatch(rows []telemetry.Sample) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent logs a mission event, if enabled.
func (f *FileWriter) WriteEvent(e telemetry.MissionEvent) error {
	if f.eventEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventEnc.Encode(e)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.teleFile != nil {
		if e := f.teleFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.eventFile != nil {
		if e := f.eventFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
