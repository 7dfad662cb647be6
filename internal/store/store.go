// Package store persists missions and their telemetry.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// Store is the persistence collaborator of the engine and the simulator.
// SaveMission keeps the stored copy only if m.Version is newer; an older
// save is silently ignored.
type Store interface {
	LoadMission(ctx context.Context, id string) (mission.Mission, error)
	SaveMission(ctx context.Context, m mission.Mission) error
	AppendTelemetry(ctx context.Context, s telemetry.Sample) error
}

// Backend is a Store that can also enumerate missions and be closed.
type Backend interface {
	Store
	ListMissions(ctx context.Context) ([]mission.Mission, error)
	Telemetry(ctx context.Context, missionID string) ([]telemetry.Sample, error)
	// LastTelemetrySeq returns the highest stored sample seq of a mission,
	// 0 when it has none. A sample may outlive a mission save that never
	// landed, so it can be ahead of the stored Version.
	LastTelemetrySeq(ctx context.Context, missionID string) (uint64, error)
	Close() error
}

// ErrNotFound is returned by LoadMission for unknown ids.
var ErrNotFound = errors.New("mission not found")

// PersistenceError wraps an I/O failure of the backing store. Callers may
// retry the operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Temporary reports that the operation may succeed when retried.
func (e *PersistenceError) Temporary() bool { return true }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Open returns the backend selected by driver.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "missions.db"
		}
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func encodeMission(m mission.Mission) ([]byte, error) {
	return msgpack.Marshal(&m)
}

func decodeMission(b []byte) (mission.Mission, error) {
	var m mission.Mission
	err := msgpack.Unmarshal(b, &m)
	return m, err
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	missions  map[string]mission.Mission
	telemetry map[string][]telemetry.Sample
	seqs      map[string]map[uint64]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions:  map[string]mission.Mission{},
		telemetry: map[string][]telemetry.Sample{},
		seqs:      map[string]map[uint64]struct{}{},
	}
}

func (s *MemoryStore) LoadMission(ctx context.Context, id string) (mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return mission.Mission{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) SaveMission(ctx context.Context, m mission.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.missions[m.ID]; ok && cur.Version >= m.Version {
		return nil
	}
	s.missions[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) AppendTelemetry(ctx context.Context, smp telemetry.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seqs[smp.MissionID]
	if seen == nil {
		seen = map[uint64]struct{}{}
		s.seqs[smp.MissionID] = seen
	}
	if _, dup := seen[smp.Seq]; dup {
		return nil
	}
	seen[smp.Seq] = struct{}{}
	s.telemetry[smp.MissionID] = append(s.telemetry[smp.MissionID], smp)
	return nil
}

func (s *MemoryStore) ListMissions(ctx context.Context) ([]mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mission.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Telemetry(ctx context.Context, missionID string) ([]telemetry.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Sample(nil), s.telemetry[missionID]...), nil
}

func (s *MemoryStore) LastTelemetrySeq(ctx context.Context, missionID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last uint64
	for seq := range s.seqs[missionID] {
		last = max(last, seq)
	}
	return last, nil
}

func (s *MemoryStore) Close() error { return nil }
