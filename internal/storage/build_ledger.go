// Package storage keeps the per-run record of every build in an in-memory
// SQLite database. Nothing outlives the process.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// ErrBuildNotFound is returned when updating a build that was never stored
var ErrBuildNotFound = errors.New("build record not found")

// Filter narrows List and Count. Zero fields match everything.
type Filter struct {
	RunID  string
	Board  string
	Status model.BuildStatus
}

func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Board != "" {
		clauses = append(clauses, "board = ?")
		args = append(args, f.Board)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	query := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		query += " AND " + c
	}
	return query, args
}

// BuildLedger records build results
type BuildLedger struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewBuildLedger creates an empty in-memory ledger
func NewBuildLedger(logger *zap.Logger) (*BuildLedger, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	ledger := &BuildLedger{
		logger: logger.Named("ledger"),
		db:     db,
	}

	if err := ledger.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return ledger, nil
}

func (l *BuildLedger) initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE builds (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			executor INTEGER NOT NULL,
			board TEXT NOT NULL,
			solution TEXT NOT NULL,
			solution_key TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			priming INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER
		);
		CREATE INDEX idx_builds_run_id ON builds(run_id);
		CREATE INDEX idx_builds_status ON builds(status);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store inserts a new build record
func (l *BuildLedger) Store(ctx context.Context, result *model.BuildResult) error {
	solution, err := json.Marshal(result.Solution)
	if err != nil {
		return fmt.Errorf("failed to marshal solution: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO builds (
			id, run_id, executor, board, solution, solution_key, status, priming, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.RunID,
		result.Executor,
		result.Board,
		string(solution),
		result.Solution.Key(),
		result.Status,
		result.Priming,
		result.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store build: %w", err)
	}
	return nil
}

// Update records the outcome of a build
func (l *BuildLedger) Update(ctx context.Context, result *model.BuildResult) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE builds SET
			status = ?,
			exit_code = ?,
			completed_at = ?,
			duration = ?
		WHERE id = ?`,
		result.Status,
		result.ExitCode,
		sql.NullTime{Time: result.CompletedAt, Valid: !result.CompletedAt.IsZero()},
		sql.NullInt64{Int64: int64(result.Duration()), Valid: !result.CompletedAt.IsZero()},
		result.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update build: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBuildNotFound
	}
	return nil
}

// List retrieves build records in start order
func (l *BuildLedger) List(ctx context.Context, filter Filter, offset, limit int) ([]*model.BuildResult, error) {
	where, args := filter.where()
	query := selectBuilds + where + " ORDER BY started_at ASC, rowid ASC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var results []*model.BuildResult
	for rows.Next() {
		result, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// Failures returns the failed builds of a run in start order
func (l *BuildLedger) Failures(ctx context.Context, runID string) ([]*model.BuildResult, error) {
	return l.List(ctx, Filter{RunID: runID, Status: model.BuildStatusFailed}, 0, 0)
}

// BuildStarted stores a newly started build
func (l *BuildLedger) BuildStarted(ctx context.Context, result *model.BuildResult) {
	if err := l.Store(ctx, result); err != nil {
		l.logger.Error("Failed to store build",
			zap.String("build_id", result.ID),
			zap.Error(err))
	}
}

// BuildFinished records the outcome of a build
func (l *BuildLedger) BuildFinished(ctx context.Context, result *model.BuildResult) {
	if err := l.Update(ctx, result); err != nil {
		l.logger.Error("Failed to update build",
			zap.String("build_id", result.ID),
			zap.Error(err))
	}
}

// Close closes the database, discarding every record
func (l *BuildLedger) Close() error {
	return l.db.Close()
}

const selectBuilds = `SELECT id, run_id, executor, board, solution, status, exit_code, priming,
	started_at, completed_at FROM builds`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(row scanner) (*model.BuildResult, error) {
	var result model.BuildResult
	var solution string
	var completedAt sql.NullTime

	err := row.Scan(
		&result.ID,
		&result.RunID,
		&result.Executor,
		&result.Board,
		&solution,
		&result.Status,
		&result.ExitCode,
		&result.Priming,
		&result.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}

	if err := json.Unmarshal([]byte(solution), &result.Solution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solution: %w", err)
	}
	if completedAt.Valid {
		result.CompletedAt = completedAt.Time
	}
	return &result, nil
}
