package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"droneops-survey/internal/telemetry"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Addr     string
	Database string
	User     string
	Password string
}

// ClickHouseWriter appends telemetry samples and mission events to
// ClickHouse MergeTree tables for offline analysis.
type ClickHouseWriter struct {
	conn    driver.Conn
	timeout time.Duration
}

// NewClickHouseWriter opens a connection and creates the tables.
func NewClickHouseWriter(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	w := &ClickHouseWriter{conn: conn, timeout: 10 * time.Second}
	if err := w.createSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return w, nil
}

func (w *ClickHouseWriter) createSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + telemetry.TelemetryTableName + ` (
			ts                  DateTime64(3),
			cluster_id          LowCardinality(String),
			mission_id          String,
			drone_id            LowCardinality(String),
			seq                 UInt64,
			lat                 Float64,
			lng                 Float64,
			altitude            Float64,
			battery             Float64,
			waypoint_index      Int32,
			distance_remaining  Float64,
			progress            Float64,
			status              LowCardinality(String)
		) ENGINE = ReplacingMergeTree
		ORDER BY (mission_id, seq)`,
		`CREATE TABLE IF NOT EXISTS ` + telemetry.MissionEventTableName + ` (
			ts          DateTime64(3),
			cluster_id  LowCardinality(String),
			mission_id  String,
			drone_id    String,
			command     LowCardinality(String),
			from_status LowCardinality(String),
			to_status   LowCardinality(String),
			reason      String,
			version     Int64
		) ENGINE = MergeTree
		ORDER BY (mission_id, version)`,
	}
	for _, q := range queries {
		if err := w.conn.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// sampleColumns returns s in the column order of the telemetry table.
func sampleColumns(s telemetry.Sample) []any {
	return []any{
		s.Timestamp, s.ClusterID, s.MissionID, s.DroneID, s.Seq,
		s.Position.Lat, s.Position.Lng, s.Altitude, s.BatteryPercent,
		int32(s.WaypointIndex), s.DistanceRemaining, s.Progress, s.Status,
	}
}

// Write inserts a single telemetry sample.
func (w *ClickHouseWriter) Write(s telemetry.Sample) error {
	return w.WriteBatch([]telemetry.Sample{s})
}

// WriteBatch inserts samples in one batch.
func (w *ClickHouseWriter) WriteBatch(rows []telemetry.Sample) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	batch, err := w.conn.PrepareBatch(ctx, `INSERT INTO `+telemetry.TelemetryTableName)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, s := range rows {
		if err := batch.Append(sampleColumns(s)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append sample %s/%d: %w", s.MissionID, s.Seq, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// WriteEvent inserts a mission lifecycle event.
func (w *ClickHouseWriter) WriteEvent(e telemetry.MissionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.conn.Exec(ctx, `INSERT INTO `+telemetry.MissionEventTableName+`
		(ts, cluster_id, mission_id, drone_id, command, from_status, to_status, reason, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.ClusterID, e.MissionID, e.DroneID, e.Command, e.From, e.To, e.Reason, e.Version)
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
