package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridflow/gridflow/pkg/pipeline"
)

// Event is a published telemetry event.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	PullID    string         `json:"pull_id,omitempty"`
	Node      string         `json:"node,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventTypePullStarted     = "pull.started"
	EventTypePullCompleted   = "pull.completed"
	EventTypePullFailed      = "pull.failed"
	EventTypePhaseFailed     = "phase.failed"
	EventTypeCacheHit        = "phase.cache_hit"
	EventTypePolicyViolation = "policy.violation"
	EventTypeConfigReloaded  = "config.reloaded"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles an event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, either synchronously or
// from a background goroutine in batches.
type EventPublisher struct {
	config EventsConfig

	// mu protects subscribers and filters.
	mu          sync.RWMutex
	subscribers []subscriberEntry
	filters     []EventFilter

	buffer chan Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher returns a publisher. In async mode it starts the
// delivery goroutine, stopped by Shutdown.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if ep.config.MaxBatchSize <= 0 {
		ep.config.MaxBatchSize = 1
	}
	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.ctx, ep.cancel = context.WithCancel(context.Background())
	ep.wg.Add(1)
	go ep.processEvents()
	return ep, nil
}

// Publish stamps event with an ID and timestamp when missing and hands it to
// subscribers. In async mode a full buffer drops the event with an error.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}
	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishPullStarted announces a pull.
func (ep *EventPublisher) PublishPullStarted(p pipeline.PullInfo) error {
	return ep.Publish(Event{
		Type:    EventTypePullStarted,
		Source:  "executive",
		PullID:  p.ID,
		Node:    p.Terminal,
		Message: fmt.Sprintf("%s pull of %s port %d over %d nodes", p.Mode, p.Terminal, p.Port, p.Nodes),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"mode":  p.Mode,
			"port":  p.Port,
			"nodes": p.Nodes,
		},
	})
}

// PublishPullCompleted announces a successful pull.
func (ep *EventPublisher) PublishPullCompleted(p pipeline.PullInfo, s pipeline.PullStats) error {
	return ep.Publish(Event{
		Type:    EventTypePullCompleted,
		Source:  "executive",
		PullID:  p.ID,
		Node:    p.Terminal,
		Message: fmt.Sprintf("pull of %s completed: %d executed, %d cached", p.Terminal, s.Executed, s.Skipped),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"executed":         s.Executed,
			"skipped":          s.Skipped,
			"information_runs": s.InformationRuns,
			"duration":         s.Duration.Seconds(),
		},
	})
}

// PublishPullFailed announces a failed pull.
func (ep *EventPublisher) PublishPullFailed(p pipeline.PullInfo, err error) error {
	class, code := classify(err)
	return ep.Publish(Event{
		Type:    EventTypePullFailed,
		Source:  "executive",
		PullID:  p.ID,
		Node:    p.Terminal,
		Message: fmt.Sprintf("pull of %s failed: %v", p.Terminal, err),
		Level:   EventLevelError,
		Data: map[string]any{
			"class": class,
			"code":  code,
		},
	})
}

// PublishPhaseFailed announces the phase that caused a failure.
func (ep *EventPublisher) PublishPhaseFailed(ph pipeline.PhaseInfo, err error) error {
	class, code := classify(err)
	return ep.Publish(Event{
		Type:    EventTypePhaseFailed,
		Source:  "executive",
		PullID:  ph.PullID,
		Node:    ph.Node,
		Phase:   string(ph.Phase),
		Message: fmt.Sprintf("%s failed on %s: %v", ph.Phase, ph.Node, err),
		Level:   EventLevelError,
		Data: map[string]any{
			"algorithm": ph.Algorithm,
			"class":     class,
			"code":      code,
		},
	})
}

// PublishCacheHit announces a skipped RequestData.
func (ep *EventPublisher) PublishCacheHit(ph pipeline.PhaseInfo) error {
	return ep.Publish(Event{
		Type:    EventTypeCacheHit,
		Source:  "executive",
		PullID:  ph.PullID,
		Node:    ph.Node,
		Phase:   string(ph.Phase),
		Message: fmt.Sprintf("%s reused cached output for %s", ph.Node, ph.Request),
		Level:   EventLevelInfo,
	})
}

// PublishPolicyViolation announces a rejected pipeline description.
func (ep *EventPublisher) PublishPolicyViolation(pipelineName, policy, node, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Node:    node,
		Message: fmt.Sprintf("pipeline %s violates %s: %s", pipelineName, policy, reason),
		Level:   EventLevelError,
		Data: map[string]any{
			"pipeline": pipelineName,
			"policy":   policy,
		},
	})
}

// PublishConfigReloaded announces a reloaded description file.
func (ep *EventPublisher) PublishConfigReloaded(path string, err error) error {
	ev := Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config_watcher",
		Message: fmt.Sprintf("reloaded %s", path),
		Level:   EventLevelInfo,
		Data:    map[string]any{"path": path},
	}
	if err != nil {
		ev.Message = fmt.Sprintf("reload of %s failed: %v", path, err)
		ev.Level = EventLevelWarning
	}
	return ep.Publish(ev)
}

// Subscribe registers subscriber for events accepted by filter. A nil
// filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a filter applied before any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.flushInterval())
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, ev := range batch {
			ep.deliverEvent(ev)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-ep.buffer:
			batch = append(batch, ev)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case ev := <-ep.buffer:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushInterval() time.Duration {
	if ep.config.FlushInterval > 0 {
		return ep.config.FlushInterval
	}
	return time.Second
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers queued events and stops the delivery goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.cancel == nil {
		return nil
	}
	ep.closed.Do(ep.cancel)

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	floor := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= floor
	}
}

// FilterByType accepts the listed event types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByPull accepts events of one pull.
func FilterByPull(pullID string) EventFilter {
	return func(event Event) bool {
		return event.PullID == pullID
	}
}

// FilterByNode accepts events about one node.
func FilterByNode(node string) EventFilter {
	return func(event Event) bool {
		return event.Node == node
	}
}
