package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/parley/internal/experiment"
)

// runColumns is the list of columns to select for archived run queries.
const runColumns = `experiment_id, run_id, status,
	started_at, paused_at, resumed_at, completed_at,
	total_sessions, completed_sessions, failed_sessions, active_sessions,
	error_rate, progress, session_ids, errors, sessions, stats, archived_at`

// runRepository implements experiment.ArchiveRepository using SQLite.
type runRepository struct {
	db *sql.DB
}

// newRunRepository creates a new runRepository instance.
func newRunRepository(db *sql.DB) *runRepository {
	return &runRepository{db: db}
}

// Ensure runRepository implements experiment.ArchiveRepository.
var _ experiment.ArchiveRepository = (*runRepository)(nil)

// scanRun scans a row into a RunModel.
func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var model RunModel
	err := scanner.Scan(
		&model.ExperimentID, &model.RunID, &model.Status,
		&model.StartedAt, &model.PausedAt, &model.ResumedAt, &model.CompletedAt,
		&model.TotalSessions, &model.CompletedSessions, &model.FailedSessions, &model.ActiveSessions,
		&model.ErrorRate, &model.Progress,
		&model.SessionIDs, &model.Errors, &model.Sessions, &model.Stats,
		&model.ArchivedAt,
	)
	return &model, err
}

// Save persists an archived run, replacing any existing entry for the
// same experiment id.
func (r *runRepository) Save(archived *experiment.ArchivedRun) error {
	if archived == nil || archived.Run == nil {
		return fmt.Errorf("cannot archive a nil run")
	}

	model, err := toRunModel(archived, time.Now())
	if err != nil {
		return fmt.Errorf("encoding archived run: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO archived_runs (
			experiment_id, run_id, status,
			started_at, paused_at, resumed_at, completed_at,
			total_sessions, completed_sessions, failed_sessions, active_sessions,
			error_rate, progress, session_ids, errors, sessions, stats, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(experiment_id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			started_at = excluded.started_at,
			paused_at = excluded.paused_at,
			resumed_at = excluded.resumed_at,
			completed_at = excluded.completed_at,
			total_sessions = excluded.total_sessions,
			completed_sessions = excluded.completed_sessions,
			failed_sessions = excluded.failed_sessions,
			active_sessions = excluded.active_sessions,
			error_rate = excluded.error_rate,
			progress = excluded.progress,
			session_ids = excluded.session_ids,
			errors = excluded.errors,
			sessions = excluded.sessions,
			stats = excluded.stats,
			archived_at = excluded.archived_at`,
		model.ExperimentID, model.RunID, model.Status,
		model.StartedAt, model.PausedAt, model.ResumedAt, model.CompletedAt,
		model.TotalSessions, model.CompletedSessions, model.FailedSessions, model.ActiveSessions,
		model.ErrorRate, model.Progress,
		model.SessionIDs, model.Errors, model.Sessions, model.Stats,
		model.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("saving archived run: %w", err)
	}
	return nil
}

// FindByExperiment retrieves the archived run for an experiment.
// Returns RunNotFoundError if none exists.
func (r *runRepository) FindByExperiment(experimentID string) (*experiment.ArchivedRun, error) {
	row := r.db.QueryRow(
		`SELECT `+runColumns+` FROM archived_runs WHERE experiment_id = ?`,
		experimentID,
	)
	model, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &experiment.RunNotFoundError{ExperimentID: experimentID}
	}
	if err != nil {
		return nil, fmt.Errorf("finding archived run: %w", err)
	}
	return model.toDomain()
}

// ListRecent returns up to limit archived runs, newest first.
func (r *runRepository) ListRecent(limit int) ([]*experiment.ArchivedRun, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(
		`SELECT `+runColumns+` FROM archived_runs ORDER BY archived_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing archived runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*experiment.ArchivedRun
	for rows.Next() {
		model, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archived run row: %w", err)
		}
		archived, err := model.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decoding archived run: %w", err)
		}
		runs = append(runs, archived)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archived run rows: %w", err)
	}

	return runs, nil
}

// Delete removes the archived run for an experiment, if present.
func (r *runRepository) Delete(experimentID string) error {
	_, err := r.db.Exec(`DELETE FROM archived_runs WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return fmt.Errorf("deleting archived run: %w", err)
	}
	return nil
}
