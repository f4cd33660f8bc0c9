package pipeline

import (
	"context"
	"time"
)

// EventType names an executive event.
type EventType string

const (
	// EventStart is emitted before RequestData runs.
	EventStart EventType = "StartEvent"
	// EventEnd is emitted after RequestData succeeded and outputs were published.
	EventEnd EventType = "EndEvent"
	// EventError is emitted when any phase fails on the node.
	EventError EventType = "ErrorEvent"
	// EventWarning is emitted for recoverable oddities such as conflicting
	// time requests from two consumers.
	EventWarning EventType = "WarningEvent"
	// EventSkipped is emitted when cached outputs already satisfy the request.
	EventSkipped EventType = "SkippedEvent"
	// EventModified is emitted when the algorithm's parameters or the
	// node's input connections change.
	EventModified EventType = "ModifiedEvent"
	// EventAny registers an observer for every event type.
	EventAny EventType = "AnyEvent"
)

// Event is delivered synchronously to observers.
type Event struct {
	Type    EventType
	Node    string
	Phase   RequestType
	PullID  string
	Message string
	Err     error
	Time    time.Time
}

// Observer receives events.
type Observer func(Event)

type observerEntry struct {
	id  uint64
	typ EventType
	fn  Observer
}

type observerList struct {
	next    uint64
	entries []observerEntry
}

func (l *observerList) add(t EventType, fn Observer) uint64 {
	l.next++
	l.entries = append(l.entries, observerEntry{id: l.next, typ: t, fn: fn})
	return l.next
}

func (l *observerList) remove(id uint64) bool {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *observerList) notify(ev Event) {
	for _, e := range l.entries {
		if e.typ == ev.Type || e.typ == EventAny {
			e.fn(ev)
		}
	}
}

// PullInfo describes one Update call.
type PullInfo struct {
	ID       string
	Terminal string
	Port     int
	Nodes    int
	Mode     string
}

// PullStats summarizes the work done by one pull.
type PullStats struct {
	InformationRuns int
	Executed        int
	Skipped         int
	Duration        time.Duration
}

// PhaseInfo describes one phase execution on one node.
type PhaseInfo struct {
	PullID    string
	Node      string
	Algorithm string
	Phase     RequestType
	Reason    string
	Request   UpdateRequest
}

// Instrumentation observes pulls and phase executions. Implementations live
// outside the core: logging, metrics, tracing and execution history.
type Instrumentation interface {
	PullStarted(ctx context.Context, p PullInfo) context.Context
	PullFinished(ctx context.Context, p PullInfo, stats PullStats, err error)
	PhaseStarted(ctx context.Context, ph PhaseInfo) context.Context
	PhaseFinished(ctx context.Context, ph PhaseInfo, d time.Duration, err error)
	PhaseSkipped(ctx context.Context, ph PhaseInfo)
}

// NopInstrumentation ignores everything.
type NopInstrumentation struct{}

func (NopInstrumentation) PullStarted(ctx context.Context, _ PullInfo) context.Context { return ctx }
func (NopInstrumentation) PullFinished(context.Context, PullInfo, PullStats, error)   {}
func (NopInstrumentation) PhaseStarted(ctx context.Context, _ PhaseInfo) context.Context {
	return ctx
}
func (NopInstrumentation) PhaseFinished(context.Context, PhaseInfo, time.Duration, error) {}
func (NopInstrumentation) PhaseSkipped(context.Context, PhaseInfo)                       {}

// MultiInstrumentation fans out to several instrumentations in order.
type MultiInstrumentation []Instrumentation

func (m MultiInstrumentation) PullStarted(ctx context.Context, p PullInfo) context.Context {
	for _, i := range m {
		ctx = i.PullStarted(ctx, p)
	}
	return ctx
}

func (m MultiInstrumentation) PullFinished(ctx context.Context, p PullInfo, s PullStats, err error) {
	for _, i := range m {
		i.PullFinished(ctx, p, s, err)
	}
}

func (m MultiInstrumentation) PhaseStarted(ctx context.Context, ph PhaseInfo) context.Context {
	for _, i := range m {
		ctx = i.PhaseStarted(ctx, ph)
	}
	return ctx
}

func (m MultiInstrumentation) PhaseFinished(ctx context.Context, ph PhaseInfo, d time.Duration, err error) {
	for _, i := range m {
		i.PhaseFinished(ctx, ph, d, err)
	}
}

func (m MultiInstrumentation) PhaseSkipped(ctx context.Context, ph PhaseInfo) {
	for _, i := range m {
		i.PhaseSkipped(ctx, ph)
	}
}
