package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/samogod/ggufprep/pkg/config"
	"github.com/samogod/ggufprep/pkg/report"
)

const DBName = "ggufprep_history"

type DB struct {
	conn    *sql.DB
	enabled bool
	logger  logrus.FieldLogger
}

type RunRecord struct {
	RunID       string
	ModelID     string
	Scheme      string
	Status      string
	FailedStage string
	Error       string
	OutputPath  string
	StartedAt   time.Time
	FinishedAt  time.Time
	DurationMS  int64
}

func New(cfg *config.Database, logger logrus.FieldLogger) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
		logger:  logger,
	}

	if !cfg.Enabled {
		logger.Debugf("run history database disabled")
		return db, nil
	}

	postgresConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password)

	postgresConn, err := sql.Open("postgres", postgresConnStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.Ping(); err != nil {
		return db, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		return db, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if _, err := postgresConn.Exec(fmt.Sprintf("CREATE DATABASE %s", DBName)); err != nil {
			return db, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Infof("Database '%s' created successfully.", DBName)
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, DBName)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return db, fmt.Errorf("failed to ping database: %w", err)
	}

	db.conn = conn
	logger.Debugf("run history database connection active")

	if err := db.initSchema(); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	if !db.IsEnabled() {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id UUID PRIMARY KEY,
		model_id VARCHAR(255) NOT NULL,
		scheme VARCHAR(32) NOT NULL,
		status VARCHAR(20) NOT NULL,
		failed_stage VARCHAR(32) NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_model ON pipeline_runs(model_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

// RecordRun stores run; a disabled database ignores it.
func (db *DB) RecordRun(run *report.Run) error {
	if !db.IsEnabled() {
		return nil
	}

	db.logger.Debugf("recording run %s (%s) in database", run.RunID, run.Status)

	_, err := db.conn.Exec(`
		INSERT INTO pipeline_runs
			(run_id, model_id, scheme, status, failed_stage, error, output_path, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			failed_stage = EXCLUDED.failed_stage,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms
	`, run.RunID, run.ModelID, run.Scheme, run.Status, run.FailedStage, run.Error,
		run.OutputPath, run.StartedAt, run.FinishedAt, run.DurationMillis)

	return err
}

// QueryRuns lists runs newest first. Empty modelID or status match all;
// limit <= 0 means no limit.
func (db *DB) QueryRuns(modelID, status string, limit int) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	var (
		where []string
		args  []interface{}
	)

	if modelID != "" {
		args = append(args, modelID)
		where = append(where, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, strings.ToLower(status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `
		SELECT run_id, model_id, scheme, status, failed_stage, error, output_path, started_at, finished_at, duration_ms
		FROM pipeline_runs
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.ModelID, &r.Scheme, &r.Status, &r.FailedStage, &r.Error,
			&r.OutputPath, &r.StartedAt, &r.FinishedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
