package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spool/internal/logging"
	"spool/internal/queue"
)

// Store is the SQLite job journal.
type Store struct {
	db       *sql.DB
	path     string
	logger   *slog.Logger
	now      func() time.Time
	readOnly bool
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	recordTimeout = 5 * time.Second

	// Fixed width so text comparison in SQL orders chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

const jobColumns = "id, input_path, output_path, preset, options_json, source, status, progress, error_message, exit_code, created_at, started_at, finished_at"

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for reconciliation and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// ReadOnly skips reconciliation and pruning, for readers that may run while
// a daemon owns the journal.
func ReadOnly() Option {
	return func(s *Store) {
		s.readOnly = true
	}
}

// Open creates or connects to the journal at path, marks jobs a previous
// process left unfinished as failed, and drops rows older than retention
// (zero keeps everything).
func Open(ctx context.Context, path string, retention time.Duration, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps upserts serialized inside the process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logging.NewComponentLogger(logger, "history"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.readOnly {
		return s, nil
	}

	reconciled, err := s.Reconcile(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if reconciled > 0 {
		logging.WarnWithContext(s.logger, "unfinished jobs from previous run marked failed", "history_reconciled",
			logging.Int("count", reconciled),
			logging.String(logging.FieldImpact, "interrupted encodes must be resubmitted"),
			logging.String(logging.FieldErrorHint, "run spool history to see which inputs were affected"),
		)
	}
	if retention > 0 {
		pruned, err := s.Prune(ctx, s.now().Add(-retention))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if pruned > 0 {
			s.logger.Info("pruned job history", logging.Int("rows", pruned))
		}
	}
	return s, nil
}

// Path returns the journal file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OnTransition records the job snapshot. Failures are logged; the journal
// never blocks or fails a job.
func (s *Store) OnTransition(job queue.Job, _, next queue.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.Record(ctx, job); err != nil {
		logging.WarnWithContext(s.logger, "job history write failed", "history_write_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStatus, string(next)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "history may show a stale status for this job"),
			logging.String(logging.FieldErrorHint, "check free space and permissions for "+s.path),
		)
	}
}

// Record upserts the row for job. A row that already holds a terminal status
// is left as is, so a late snapshot cannot move it backwards.
func (s *Store) Record(ctx context.Context, job queue.Job) error {
	var optionsJSON any
	if len(job.Options) > 0 {
		data, err := json.Marshal(job.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		optionsJSON = string(data)
	}
	var exitCode any
	if job.ExitCode != nil {
		exitCode = *job.ExitCode
	}
	err := s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, input_path, output_path, preset, options_json, source, status, progress,
            error_message, exit_code, created_at, started_at, finished_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            progress = excluded.progress,
            error_message = excluded.error_message,
            exit_code = excluded.exit_code,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            updated_at = excluded.updated_at
        WHERE jobs.status NOT IN ('completed', 'failed', 'cancelled')`,
		job.ID,
		job.InputPath,
		job.OutputPath,
		job.Preset,
		optionsJSON,
		nullableString(job.Source),
		string(job.Status),
		job.Progress,
		nullableString(job.Error),
		exitCode,
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// Reconcile marks queued and running rows as failed. It runs at open, before
// this process has recorded anything, so such rows belong to a dead process.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	now := formatTime(s.now())
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
             WHERE status IN (?, ?)`,
			string(queue.StatusFailed), queue.RestartReason, now, now,
			string(queue.StatusQueued), string(queue.StatusRunning),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile history: %w", err)
	}
	return int(affected), nil
}

// Prune deletes finished rows created before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`,
			formatTime(cutoff),
			string(queue.StatusCompleted), string(queue.StatusFailed), string(queue.StatusCancelled),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return int(affected), nil
}

// Recent returns up to limit jobs, newest first. A non-positive limit
// returns every row.
func (s *Store) Recent(ctx context.Context, limit int) ([]queue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Get returns the journaled job with id.
func (s *Store) Get(ctx context.Context, id string) (queue.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, false, nil
	}
	if err != nil {
		return queue.Job{}, false, err
	}
	return job, true, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (queue.Job, error) {
	var (
		job         queue.Job
		status      string
		optionsJSON sql.NullString
		source      sql.NullString
		errorMsg    sql.NullString
		exitCode    sql.NullInt64
		createdRaw  string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.InputPath,
		&job.OutputPath,
		&job.Preset,
		&optionsJSON,
		&source,
		&status,
		&job.Progress,
		&errorMsg,
		&exitCode,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return queue.Job{}, err
	}
	job.Status = queue.Status(status)
	job.Source = source.String
	job.Error = errorMsg.String
	if optionsJSON.Valid && optionsJSON.String != "" {
		if err := json.Unmarshal([]byte(optionsJSON.String), &job.Options); err != nil {
			return queue.Job{}, fmt.Errorf("decode options for %s: %w", job.ID, err)
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}
	job.CreatedAt = parseTime(createdRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finishedRaw)
	return job, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	return &t
}
