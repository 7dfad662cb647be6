package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"droneops-survey/internal/geo"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// SQLiteStore keeps missions and telemetry in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		body BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);

	CREATE TABLE IF NOT EXISTS telemetry (
		mission_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		cluster_id TEXT,
		drone_id TEXT,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		altitude REAL NOT NULL,
		battery REAL NOT NULL,
		waypoint_index INTEGER NOT NULL,
		distance_remaining REAL NOT NULL,
		progress REAL NOT NULL,
		status TEXT,
		PRIMARY KEY (mission_id, seq)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadMission(ctx context.Context, id string) (mission.Mission, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM missions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Mission{}, ErrNotFound
	}
	if err != nil {
		return mission.Mission{}, wrap("load mission", err)
	}
	m, err := decodeMission(body)
	if err != nil {
		return mission.Mission{}, fmt.Errorf("decode mission %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) SaveMission(ctx context.Context, m mission.Mission) error {
	body, err := encodeMission(m)
	if err != nil {
		return fmt.Errorf("encode mission %s: %w", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (id, status, version, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at,
			body = excluded.body
		WHERE excluded.version > missions.version
	`, m.ID, string(m.Status), m.Version, m.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano), body)
	return wrap("save mission", err)
}

func (s *SQLiteStore) AppendTelemetry(ctx context.Context, smp telemetry.Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (mission_id, seq, ts, cluster_id, drone_id, lat, lng, altitude, battery,
			waypoint_index, distance_remaining, progress, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id, seq) DO NOTHING
	`, smp.MissionID, int64(smp.Seq), smp.Timestamp.UTC().Format(time.RFC3339Nano), smp.ClusterID, smp.DroneID,
		smp.Position.Lat, smp.Position.Lng, smp.Altitude, smp.BatteryPercent,
		smp.WaypointIndex, smp.DistanceRemaining, smp.Progress, smp.Status)
	return wrap("append telemetry", err)
}

func (s *SQLiteStore) LastTelemetrySeq(ctx context.Context, missionID string) (uint64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM telemetry WHERE mission_id = ?`, missionID).Scan(&last)
	if err != nil {
		return 0, wrap("read telemetry seq", err)
	}
	return uint64(last), nil
}

func (s *SQLiteStore) ListMissions(ctx context.Context) ([]mission.Mission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM missions ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("list missions", err)
	}
	defer rows.Close()
	var out []mission.Mission
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, wrap("list missions", err)
		}
		m, err := decodeMission(body)
		if err != nil {
			return nil, fmt.Errorf("decode mission: %w", err)
		}
		out = append(out, m)
	}
	return out, wrap("list missions", rows.Err())
}

func (s *SQLiteStore) Telemetry(ctx context.Context, missionID string) ([]telemetry.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, ts, cluster_id, drone_id, lat, lng, altitude, battery, waypoint_index,
			distance_remaining, progress, status
		FROM telemetry WHERE mission_id = ? ORDER BY seq
	`, missionID)
	if err != nil {
		return nil, wrap("read telemetry", err)
	}
	defer rows.Close()
	var out []telemetry.Sample
	for rows.Next() {
		var (
			smp telemetry.Sample
			seq int64
			ts  string
			pos geo.Coordinate
		)
		if err := rows.Scan(&seq, &ts, &smp.ClusterID, &smp.DroneID, &pos.Lat, &pos.Lng, &smp.Altitude,
			&smp.BatteryPercent, &smp.WaypointIndex, &smp.DistanceRemaining, &smp.Progress, &smp.Status); err != nil {
			return nil, wrap("read telemetry", err)
		}
		smp.MissionID = missionID
		smp.Seq = uint64(seq)
		smp.Position = pos
		smp.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, smp)
	}
	return out, wrap("read telemetry", rows.Err())
}
