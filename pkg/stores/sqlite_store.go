package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a looked up record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is a file path or ":memory:".
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore validates cfg. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens a distinct database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with foreign keys, WAL and a busy timeout.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreatePull inserts a pull in the running state.
func (s *SQLiteStore) CreatePull(ctx context.Context, p *Pull) error {
	if p.Status == "" {
		p.Status = PullStatusRunning
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO pulls (id, pipeline, terminal, port, mode, nodes, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Pipeline, p.Terminal, p.Port, p.Mode, p.Nodes, p.Status, p.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pull: %w", err)
	}
	return nil
}

// CompletePull stores the outcome of a pull.
func (s *SQLiteStore) CompletePull(ctx context.Context, id string, r PullResult) error {
	query := `
		UPDATE pulls
		SET status = ?, executed = ?, skipped = ?, information_runs = ?,
		    duration_ms = ?, error = ?, error_class = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		r.Status, r.Executed, r.Skipped, r.InformationRuns,
		millis(r.Duration), r.Error, r.ErrorClass, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete pull: %w", err)
	}
	return expectRow(result, "pull", id)
}

const pullColumns = `id, pipeline, terminal, port, mode, nodes, status, executed, skipped,
	information_runs, duration_ms, error, error_class, started_at, completed_at`

func scanPull(row interface{ Scan(...any) error }) (*Pull, error) {
	p := &Pull{}
	var ms float64
	err := row.Scan(
		&p.ID, &p.Pipeline, &p.Terminal, &p.Port, &p.Mode, &p.Nodes, &p.Status,
		&p.Executed, &p.Skipped, &p.InformationRuns, &ms, &p.Error, &p.ErrorClass,
		&p.StartedAt, &p.CompletedAt,
	)
	p.Duration = fromMillis(ms)
	return p, err
}

// GetPull returns the pull with id.
func (s *SQLiteStore) GetPull(ctx context.Context, id string) (*Pull, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pullColumns+` FROM pulls WHERE id = ?`, id)
	p, err := scanPull(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pull %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pull: %w", err)
	}
	return p, nil
}

// ListPulls returns pulls newest first, optionally for one terminal.
func (s *SQLiteStore) ListPulls(ctx context.Context, terminal *string, limit, offset int) ([]*Pull, error) {
	query := `SELECT ` + pullColumns + ` FROM pulls
		WHERE (? IS NULL OR terminal = ?)
		ORDER BY rowid DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, terminal, terminal, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pulls: %w", err)
	}
	defer rows.Close()

	pulls := []*Pull{}
	for rows.Next() {
		p, err := scanPull(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pull: %w", err)
		}
		pulls = append(pulls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pulls: %w", err)
	}
	return pulls, nil
}

// DeletePullsBefore removes pulls started before the cutoff together with
// their executions, and returns how many pulls were removed.
func (s *SQLiteStore) DeletePullsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pulls WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete pulls: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// RecordExecution appends one phase execution.
func (s *SQLiteStore) RecordExecution(ctx context.Context, e *Execution) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO executions (pull_id, node, algorithm, phase, outcome, reason, request, duration_ms, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		e.PullID, e.Node, e.Algorithm, e.Phase, e.Outcome, e.Reason, e.Request,
		millis(e.Duration), e.Error, e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get execution ID: %w", err)
	}
	e.ID = id
	return nil
}

// ListExecutions returns the executions of a pull in the order they ran.
func (s *SQLiteStore) ListExecutions(ctx context.Context, pullID string) ([]*Execution, error) {
	query := `
		SELECT id, pull_id, node, algorithm, phase, outcome, reason, request, duration_ms, error, started_at
		FROM executions
		WHERE pull_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, pullID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []*Execution{}
	for rows.Next() {
		e := &Execution{}
		var ms float64
		if err := rows.Scan(
			&e.ID, &e.PullID, &e.Node, &e.Algorithm, &e.Phase, &e.Outcome,
			&e.Reason, &e.Request, &ms, &e.Error, &e.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Duration = fromMillis(ms)
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return execs, nil
}

// AppendEvent appends an event and sets its ID.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO events (pull_id, node, level, type, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		ev.PullID, ev.Node, ev.Level, ev.Type, ev.Message, ev.Details, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	ev.ID = id
	return nil
}

// GetEvents returns events matching q in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	query := `
		SELECT id, pull_id, node, level, type, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR pull_id = ?)
		  AND (? IS NULL OR node = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		q.PullID, q.PullID, q.Node, q.Node, q.Level, q.Level, limitOrAll(q.Limit), q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(
			&ev.ID, &ev.PullID, &ev.Node, &ev.Level, &ev.Type, &ev.Message, &ev.Details, &ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func fromMillis(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
