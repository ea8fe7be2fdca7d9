package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pagesentry/internal/model"
)

// PostgresStore implements TaskStore on a shared *sql.DB opened with the
// pgx stdlib driver.
type PostgresStore struct {
	DB *sql.DB
}

// Open opens a pooled connection to dsn.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const taskColumns = `id, url, instruction, schedule_interval_hours, status, schema, validation, site_health, last_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t          Task
		schema     []byte
		validation []byte
		lastRun    sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.URL, &t.Instruction, &t.ScheduleIntervalHours, &t.Status,
		&schema, &validation, &t.SiteHealth, &lastRun, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	if len(schema) > 0 {
		var s model.ExtractionSchema
		if err := json.Unmarshal(schema, &s); err != nil {
			return Task{}, fmt.Errorf("decode schema of task %s: %w", t.ID, err)
		}
		t.Schema = &s
	}
	if len(validation) > 0 {
		t.Validation = validation
	}
	if lastRun.Valid {
		lr := lastRun.Time
		t.LastRunAt = &lr
	}
	return t, nil
}

func nullJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) CreatePendingTask(ctx context.Context, p PendingTask) (Task, error) {
	var schemaArg any
	if p.Schema != nil {
		b, err := json.Marshal(p.Schema)
		if err != nil {
			return Task{}, err
		}
		schemaArg = b
	}
	validation, err := nullJSON(p.Validation)
	if err != nil {
		return Task{}, err
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO tasks (id, url, instruction, schedule_interval_hours, status, schema, validation, site_health)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+taskColumns,
		uuid.New(), p.URL, p.Instruction, defaultInterval(p.ScheduleIntervalHours), TaskPending, schemaArg, validation, SiteHealthy)
	return scanTask(row)
}

func (s *PostgresStore) ActivateTask(ctx context.Context, id uuid.UUID, schema *model.ExtractionSchema) (Task, error) {
	var schemaArg any
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return Task{}, err
		}
		schemaArg = b
	}

	row := s.DB.QueryRowContext(ctx, `
UPDATE tasks
SET status = $2, schema = COALESCE($3, schema), updated_at = NOW()
WHERE id = $1 AND status = $4
RETURNING `+taskColumns, id, TaskActive, schemaArg, TaskPending)
	t, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing task from one in the wrong state.
		if _, getErr := s.GetTask(ctx, id); getErr == nil {
			return Task{}, ErrNotPending
		}
	}
	return t, err
}

func (s *PostgresStore) ListActiveTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at`, TaskActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (Task, error) {
	return scanTask(s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (s *PostgresStore) RecordRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	var errMsg sql.NullString
	if run.Error != "" {
		errMsg = sql.NullString{String: run.Error, Valid: true}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET last_run_at = $2, updated_at = NOW() WHERE id = $1`, run.TaskID, run.StartedAt)
	if err != nil {
		return RunRecord{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return RunRecord{}, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO task_runs (id, task_id, status, started_at, duration_ms, result_count, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.TaskID, run.Status, run.StartedAt, run.Duration.Milliseconds(), run.ResultCount, errMsg); err != nil {
		return RunRecord{}, err
	}

	return run, tx.Commit()
}

func (s *PostgresStore) SaveResults(ctx context.Context, taskID, runID uuid.UUID, results []model.ScrapeResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO task_results (task_id, run_id, title, description, url, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, taskID, runID, r.Title, r.Description, r.URL, meta); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SetSiteHealth(ctx context.Context, id uuid.UUID, health SiteHealth) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET site_health = $2, updated_at = NOW() WHERE id = $1`, id, health)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRunsBefore relies on ON DELETE CASCADE to drop the runs' results.
func (s *PostgresStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM task_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks database connectivity for deep health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
