package stores

import (
	"context"
	"time"
)

// PullStatus is the state of a recorded pull.
type PullStatus string

const (
	PullStatusRunning   PullStatus = "running"
	PullStatusSucceeded PullStatus = "succeeded"
	PullStatusFailed    PullStatus = "failed"
)

// Outcome is the result of one phase on one node.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped marks a RequestData served from cached output.
	OutcomeSkipped Outcome = "skipped"
)

// EventLevel is the severity of a stored event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Pull is one Update call on a terminal executive.
type Pull struct {
	ID              string        `json:"id"`
	Pipeline        string        `json:"pipeline"`
	Terminal        string        `json:"terminal"`
	Port            int           `json:"port"`
	Mode            string        `json:"mode"`
	Nodes           int           `json:"nodes"`
	Status          PullStatus    `json:"status"`
	Executed        int           `json:"executed"`
	Skipped         int           `json:"skipped"`
	InformationRuns int           `json:"information_runs"`
	Duration        time.Duration `json:"duration"`
	Error           *string       `json:"error,omitempty"`
	ErrorClass      *string       `json:"error_class,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// PullResult is what CompletePull writes.
type PullResult struct {
	Status          PullStatus
	Executed        int
	Skipped         int
	InformationRuns int
	Duration        time.Duration
	Error           *string
	ErrorClass      *string
}

// Execution is one phase run on one node during a pull.
type Execution struct {
	ID        int64         `json:"id"`
	PullID    string        `json:"pull_id"`
	Node      string        `json:"node"`
	Algorithm string        `json:"algorithm"`
	Phase     string        `json:"phase"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason"`
	Request   string        `json:"request"`
	Duration  time.Duration `json:"duration"`
	Error     *string       `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// Event is an append-only log entry.
type Event struct {
	ID        int64      `json:"id"`
	PullID    *string    `json:"pull_id,omitempty"`
	Node      *string    `json:"node,omitempty"`
	Level     EventLevel `json:"level"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// EventQuery selects events. Nil fields match everything.
type EventQuery struct {
	PullID *string
	Node   *string
	Level  *EventLevel
	Limit  int
	Offset int
}

// Store persists pull history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Pulls
	CreatePull(ctx context.Context, pull *Pull) error
	CompletePull(ctx context.Context, id string, result PullResult) error
	GetPull(ctx context.Context, id string) (*Pull, error)
	ListPulls(ctx context.Context, terminal *string, limit, offset int) ([]*Pull, error)
	DeletePullsBefore(ctx context.Context, before time.Time) (int64, error)

	// Executions
	RecordExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, pullID string) ([]*Execution, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, q EventQuery) ([]*Event, error)
}
