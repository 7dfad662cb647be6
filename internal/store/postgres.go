package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// PostgresStore keeps missions and telemetry in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		version     BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		body        BYTEA NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);

	CREATE TABLE IF NOT EXISTS telemetry (
		mission_id          TEXT NOT NULL,
		seq                 BIGINT NOT NULL,
		ts                  TIMESTAMPTZ NOT NULL,
		cluster_id          TEXT,
		drone_id            TEXT,
		lat                 DOUBLE PRECISION NOT NULL,
		lng                 DOUBLE PRECISION NOT NULL,
		altitude            DOUBLE PRECISION NOT NULL,
		battery             DOUBLE PRECISION NOT NULL,
		waypoint_index      INTEGER NOT NULL,
		distance_remaining  DOUBLE PRECISION NOT NULL,
		progress            DOUBLE PRECISION NOT NULL,
		status              TEXT,
		PRIMARY KEY (mission_id, seq)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) LoadMission(ctx context.Context, id string) (mission.Mission, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM missions WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) SaveMission(ctx context.Context, m mission.Mission) error {
	body, err := encodeMission(m)
	if err != nil {
		return fmt.Errorf("encode mission %s: %w", m.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO missions (id, status, version, created_at, updated_at, body)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			body = EXCLUDED.body
		WHERE EXCLUDED.version > missions.version
	`, m.ID, string(m.Status), m.Version, m.CreatedAt, body)
	return wrap("save mission", err)
}

func (s *PostgresStore) AppendTelemetry(ctx context.Context, smp telemetry.Sample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry (mission_id, seq, ts, cluster_id, drone_id, lat, lng, altitude, battery,
			waypoint_index, distance_remaining, progress, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (mission_id, seq) DO NOTHING
	`, smp.MissionID, int64(smp.Seq), smp.Timestamp, smp.ClusterID, smp.DroneID,
		smp.Position.Lat, smp.Position.Lng, smp.Altitude, smp.BatteryPercent,
		smp.WaypointIndex, smp.DistanceRemaining, smp.Progress, smp.Status)
	return wrap("append telemetry", err)
}

func (s *PostgresStore) LastTelemetrySeq(ctx context.Context, missionID string) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM telemetry WHERE mission_id = $1`, missionID).Scan(&last)
	if err != nil {
		return 0, wrap("read telemetry seq", err)
	}
	return uint64(last), nil
}

func (s *PostgresStore) ListMissions(ctx context.Context) ([]mission.Mission, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM missions ORDER BY created_at, id`)
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

func (s *PostgresStore) Telemetry(ctx context.Context, missionID string) ([]telemetry.Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, ts, cluster_id, drone_id, lat, lng, altitude, battery, waypoint_index,
			distance_remaining, progress, status
		FROM telemetry WHERE mission_id = $1 ORDER BY seq
	`, missionID)
	if err != nil {
		return nil, wrap("read telemetry", err)
	}
	defer rows.Close()
	var out []telemetry.Sample
	for rows.Next() {
		var smp telemetry.Sample
		var seq int64
		if err := rows.Scan(&seq, &smp.Timestamp, &smp.ClusterID, &smp.DroneID, &smp.Position.Lat, &smp.Position.Lng,
			&smp.Altitude, &smp.BatteryPercent, &smp.WaypointIndex, &smp.DistanceRemaining, &smp.Progress, &smp.Status); err != nil {
			return nil, wrap("read telemetry", err)
		}
		smp.MissionID = missionID
		smp.Seq = uint64(seq)
		out = append(out, smp)
	}
	return out, wrap("read telemetry", rows.Err())
}
