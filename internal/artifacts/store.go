package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reelsmith/internal/config"
	"reelsmith/internal/plan"
)

// StageOrder is the fixed, total order of checkpointed pipeline stages.
// Resume walks this list; changing it invalidates existing checkpoints.
var StageOrder = []string{"plan", "moments", "captions", "music", "assemble"}

// StageIndex returns the position of a stage in the fixed order.
func StageIndex(stage string) (int, bool) {
	for i, name := range StageOrder {
		if name == stage {
			return i, true
		}
	}
	return 0, false
}

// NextStage returns the stage following the given one in the fixed order, or
// false when the given stage is the last (or unknown).
func NextStage(stage string) (string, bool) {
	idx, ok := StageIndex(stage)
	if !ok || idx+1 >= len(StageOrder) {
		return "", false
	}
	return StageOrder[idx+1], true
}

// PlanRecord is the aggregate checkpoint for one job: every persisted stage
// output plus run metadata.
type PlanRecord struct {
	JobID        int64
	Stages       map[string]plan.StageOutput
	CurrentStage string
	FailedStage  string
	ErrorMessage string
	Completed    bool
}

// Store persists artifacts in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    job_id INTEGER NOT NULL,
    stage TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (job_id, stage)
);
CREATE TABLE IF NOT EXISTS plan_records (
    job_id INTEGER PRIMARY KEY,
    current_stage TEXT,
    failed_stage TEXT,
    error_message TEXT,
    completed INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// Open initializes or connects to the artifact database. It shares the
// database file with the job queue.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "reelsmith.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply artifacts schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveStage persists a stage output and advances the aggregate record's
// current stage pointer. The write is one atomic replace per key.
func (s *Store) SaveStage(ctx context.Context, jobID int64, stage string, output plan.StageOutput) error {
	if _, ok := StageIndex(stage); !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	payload, err := output.Encode()
	if err != nil {
		return fmt.Errorf("encode stage %s: %w", stage, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (job_id, stage, payload, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(job_id, stage) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		jobID, stage, string(payload), now, now,
	); err != nil {
		return fmt.Errorf("save stage %s: %w", stage, err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plan_records (job_id, current_stage, created_at, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET current_stage = excluded.current_stage, updated_at = excluded.updated_at`,
		jobID, stage, now, now,
	); err != nil {
		return fmt.Errorf("advance current stage: %w", err)
	}
	return nil
}

// LoadStage returns the persisted output for a stage, or false when absent.
func (s *Store) LoadStage(ctx context.Context, jobID int64, stage string) (plan.StageOutput, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT payload FROM artifacts WHERE job_id = ? AND stage = ?`,
		jobID, stage,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan.StageOutput{}, false, nil
		}
		return plan.StageOutput{}, false, fmt.Errorf("load stage %s: %w", stage, err)
	}
	output, err := plan.DecodeOutput([]byte(payload))
	if err != nil {
		return plan.StageOutput{}, false, fmt.Errorf("stage %s: %w", stage, err)
	}
	return output, true, nil
}

// LastValidStage walks the fixed stage order and returns the last stage with
// a persisted output before the first gap. Returns false when even the first
// stage is missing.
func (s *Store) LastValidStage(ctx context.Context, jobID int64) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return "", false, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return "", false, err
		}
		present[stage] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}

	last := ""
	for _, stage := range StageOrder {
		if _, ok := present[stage]; !ok {
			break
		}
		last = stage
	}
	return last, last != "", nil
}

// MarkFailed records terminal failure metadata without deleting the
// successful artifacts that preceded it.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, stage, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plan_records (job_id, failed_stage, error_message, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET failed_stage = excluded.failed_stage,
             error_message = excluded.error_message, updated_at = excluded.updated_at`,
		jobID, stage, strings.TrimSpace(message), now, now,
	); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkCompleted flags the aggregate record as finished.
func (s *Store) MarkCompleted(ctx context.Context, jobID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plan_records (job_id, completed, created_at, updated_at)
         VALUES (?, 1, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET completed = 1, updated_at = excluded.updated_at`,
		jobID, now, now,
	); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// SavePlan persists the full aggregate: every stage output plus metadata.
func (s *Store) SavePlan(ctx context.Context, record PlanRecord) error {
	for _, stage := range StageOrder {
		output, ok := record.Stages[stage]
		if !ok {
			continue
		}
		if err := s.SaveStage(ctx, record.JobID, stage, output); err != nil {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plan_records (job_id, current_stage, failed_stage, error_message, completed, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET current_stage = excluded.current_stage,
             failed_stage = excluded.failed_stage, error_message = excluded.error_message,
             completed = excluded.completed, updated_at = excluded.updated_at`,
		record.JobID,
		nullableString(record.CurrentStage),
		nullableString(record.FailedStage),
		nullableString(record.ErrorMessage),
		boolToInt(record.Completed),
		now, now,
	); err != nil {
		return fmt.Errorf("save plan record: %w", err)
	}
	return nil
}

// LoadPlan reads the full aggregate back. Returns false when the job has no
// plan record and no artifacts.
func (s *Store) LoadPlan(ctx context.Context, jobID int64) (PlanRecord, bool, error) {
	record := PlanRecord{JobID: jobID, Stages: make(map[string]plan.StageOutput)}

	for _, stage := range StageOrder {
		output, ok, err := s.LoadStage(ctx, jobID, stage)
		if err != nil {
			return PlanRecord{}, false, err
		}
		if ok {
			record.Stages[stage] = output
		}
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT current_stage, failed_stage, error_message, completed FROM plan_records WHERE job_id = ?`,
		jobID,
	)
	var (
		currentStage sql.NullString
		failedStage  sql.NullString
		errorMessage sql.NullString
		completed    int
	)
	err := row.Scan(&currentStage, &failedStage, &errorMessage, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return record, len(record.Stages) > 0, nil
	}
	if err != nil {
		return PlanRecord{}, false, fmt.Errorf("load plan record: %w", err)
	}

	record.CurrentStage = currentStage.String
	record.FailedStage = failedStage.String
	record.ErrorMessage = errorMessage.String
	record.Completed = completed != 0
	return record, true, nil
}

// DeleteJob removes all artifacts and the plan record for a job.
func (s *Store) DeleteJob(ctx context.Context, jobID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plan_records WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete plan record: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
