package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
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

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens a separate database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

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

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, command, device, family, name, identifier, state, check_mode, status, changed, commands, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	commands, err := encodeCommands(run.Commands)
	if err != nil {
		return err
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Command,
		run.Device,
		run.Family,
		run.Name,
		run.Identifier,
		run.State,
		run.CheckMode,
		run.Status,
		run.Changed,
		commands,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a run and stamps its completion time
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, outcome *RunOutcome) error {
	query := `
		UPDATE runs
		SET status = ?, identifier = COALESCE(NULLIF(?, ''), identifier), changed = ?, commands = ?,
		    error = ?, error_code = ?, backup_path = ?, completed_at = ?
		WHERE id = ?
	`

	commands, err := encodeCommands(outcome.Commands)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, query,
		outcome.Status,
		outcome.Identifier,
		outcome.Changed,
		commands,
		outcome.Error,
		outcome.ErrorCode,
		outcome.BackupPath,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

const runColumns = `id, command, device, family, name, identifier, state, check_mode, status, changed,
		commands, error, error_code, backup_path, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var commands string
	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.Device,
		&run.Family,
		&run.Name,
		&run.Identifier,
		&run.State,
		&run.CheckMode,
		&run.Status,
		&run.Changed,
		&commands,
		&run.Error,
		&run.ErrorCode,
		&run.BackupPath,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(commands), &run.Commands); err != nil {
		return nil, fmt.Errorf("failed to decode commands of run %s: %w", run.ID, err)
	}

	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE (? = '' OR device = ?)
		  AND (? = '' OR name = ? OR identifier = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.Device, filter.Device,
		filter.Name, filter.Name, filter.Name,
		filter.Status, filter.Status,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRunsBefore prunes runs started before the cutoff along with their
// events, returning the number of runs removed
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves the events of a run in the order they were appended
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]*Event, error) {
	query := `
		SELECT id, run_id, level, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// UpsertResourceState inserts or updates the last applied record of a
// resource. Hash is computed from Record when empty.
func (s *SQLiteStore) UpsertResourceState(ctx context.Context, state *ResourceState) error {
	query := `
		INSERT INTO resource_state (device, family, identifier, record, hash, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, family, identifier) DO UPDATE SET
			record = excluded.record,
			hash = excluded.hash,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at
	`

	if state.Hash == "" {
		state.Hash = HashRecord(state.Record)
	}
	state.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, query,
		state.Device,
		state.Family,
		state.Identifier,
		state.Record,
		state.Hash,
		state.LastRunID,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource state: %w", err)
	}

	return nil
}

// GetResourceState retrieves the last applied record of a resource
func (s *SQLiteStore) GetResourceState(ctx context.Context, device, family, identifier string) (*ResourceState, error) {
	query := `
		SELECT device, family, identifier, record, hash, last_run_id, updated_at
		FROM resource_state
		WHERE device = ? AND family = ? AND identifier = ?
	`

	state := &ResourceState{}
	err := s.db.QueryRowContext(ctx, query, device, family, identifier).Scan(
		&state.Device,
		&state.Family,
		&state.Identifier,
		&state.Record,
		&state.Hash,
		&state.LastRunID,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource state %s/%s: %w", family, identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}

	return state, nil
}

// SetPolicyOverride records whether a policy is forced on or off,
// replacing any earlier override of the same policy.
func (s *SQLiteStore) SetPolicyOverride(ctx context.Context, override *PolicyOverride) error {
	override.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_overrides (name, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, override.Name, override.Enabled, override.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set policy override: %w", err)
	}
	return nil
}

// ListPolicyOverrides returns every override sorted by policy name.
func (s *SQLiteStore) ListPolicyOverrides(ctx context.Context) ([]*PolicyOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled, updated_at FROM policy_overrides ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*PolicyOverride
	for rows.Next() {
		o := &PolicyOverride{}
		if err := rows.Scan(&o.Name, &o.Enabled, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy overrides: %w", err)
	}

	return overrides, nil
}

// HashRecord returns the hex SHA256 of a serialized record.
func HashRecord(record string) string {
	sum := sha256.Sum256([]byte(record))
	return hex.EncodeToString(sum[:])
}

func encodeCommands(commands []string) (string, error) {
	if commands == nil {
		commands = []string{}
	}
	data, err := json.Marshal(commands)
	if err != nil {
		return "", fmt.Errorf("failed to encode commands: %w", err)
	}
	return string(data), nil
}
