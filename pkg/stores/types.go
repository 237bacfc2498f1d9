package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run or resource state does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a journalled invocation
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one reconcile or show invocation against a device
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Command     string     `json:"command" yaml:"command"`
	Device      string     `json:"device" yaml:"device"`
	Family      string     `json:"family" yaml:"family"`
	Name        string     `json:"name" yaml:"name"`
	Identifier  string     `json:"identifier" yaml:"identifier"`
	State       string     `json:"state" yaml:"state"`
	CheckMode   bool       `json:"check_mode" yaml:"check_mode"`
	Status      RunStatus  `json:"status" yaml:"status"`
	Changed     bool       `json:"changed" yaml:"changed"`
	Commands    []string   `json:"commands,omitempty" yaml:"commands,omitempty"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode   *string    `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	BackupPath  *string    `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// RunOutcome is what FinishRun records when an invocation ends
type RunOutcome struct {
	Status     RunStatus
	Identifier string
	Changed    bool
	Commands   []string
	Error      *string
	ErrorCode  *string
	BackupPath *string
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	Device string
	Name   string
	Status RunStatus
	Limit  int
	Offset int
}

// Event represents an append-only log event attached to a run
type Event struct {
	ID        int64      `json:"id" yaml:"id"`
	RunID     string     `json:"run_id" yaml:"run_id"`
	Level     EventLevel `json:"level" yaml:"level"`
	Message   string     `json:"message" yaml:"message"`
	Details   *string    `json:"details,omitempty" yaml:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// ResourceState is the last record a successful reconcile left on a device
type ResourceState struct {
	Device     string    `json:"device" yaml:"device"`
	Family     string    `json:"family" yaml:"family"`
	Identifier string    `json:"identifier" yaml:"identifier"`
	Record     string    `json:"record" yaml:"record"` // JSON blob
	Hash       string    `json:"hash" yaml:"hash"`     // SHA256 of Record for drift detection
	LastRunID  string    `json:"last_run_id" yaml:"last_run_id"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// PolicyOverride pins a guard policy on or off for every session that
// opens the journal.
type PolicyOverride struct {
	Name      string    `json:"name" yaml:"name"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store defines the interface for the run journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, outcome *RunOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string) ([]*Event, error)

	// ResourceState operations
	UpsertResourceState(ctx context.Context, state *ResourceState) error
	GetResourceState(ctx context.Context, device, family, identifier string) (*ResourceState, error)

	// Policy overrides
	SetPolicyOverride(ctx context.Context, override *PolicyOverride) error
	ListPolicyOverrides(ctx context.Context) ([]*PolicyOverride, error)
}
