package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"brokeris.org/internal/ids"
	"brokeris.org/internal/obs"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Record describes one completed operation for the recorder to observe. The
// caller invokes the recorder only after it has determined success; failed
// operations are never passed in.
type Record struct {
	ActorUserID string
	Method      string // operation method class (POST/PUT/PATCH/DELETE mutate)
	EntityType  string
	EntityID    string // explicit target id, if the caller knows it
	Payload     map[string]any
	Result      map[string]any
	Snapshot    map[string]any // pre-operation state, if the caller captured one
	ActorIP     string
	ActorAgent  string
}

// Recorder turns operation outcomes into audit entries and writes them
// through a single background worker. The single writer keeps per-entity
// order: entries are appended in submission order, so one entity's change
// history reads in write order.
type Recorder struct {
	sink    Sink
	queue   chan Entry
	pending sync.WaitGroup
	once    sync.Once
	timeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithWriteTimeout bounds each sink append.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder starts the background writer.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:    sink,
		queue:   make(chan Entry, defaultQueueSize),
		timeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Observe inspects a completed operation and enqueues at most one entry.
// It never returns an error and never blocks on the sink: a read-class
// method, a missing actor, or a write failure all leave the triggering
// operation untouched.
//
// The request context is deliberately not used for the write. The mutation
// already committed; cancelling the request must not lose its audit trail.
func (r *Recorder) Observe(rec Record) {
	action, ok := actionForMethod(strings.ToUpper(strings.TrimSpace(rec.Method)))
	if !ok {
		return
	}
	actor := strings.TrimSpace(rec.ActorUserID)
	if actor == "" {
		return
	}

	entityID := strings.TrimSpace(rec.EntityID)
	if entityID == "" {
		entityID = entityIDFromPayload(rec.Result)
	}
	if entityID == "" {
		entityID = UnknownEntityID
	}

	entry := Entry{
		ID:             ids.New(),
		ActorUserID:    actor,
		Action:         action,
		EntityType:     rec.EntityType,
		EntityID:       entityID,
		PreviousValues: rec.Snapshot,
		ActorIP:        rec.ActorIP,
		ActorAgent:     rec.ActorAgent,
		CreatedAt:      time.Now().UTC(),
	}
	// Nothing new to record for a delete.
	if action != ActionDelete {
		entry.NewValues = rec.Payload
	}

	r.pending.Add(1)
	select {
	case r.queue <- entry:
	default:
		// Queue saturated. Dropping is the documented trade-off: audit
		// completeness is secondary to request availability.
		r.pending.Done()
		r.reportFailure(entry, "audit queue full")
	}
}

// Flush blocks until every enqueued entry has been handed to the sink.
// Intended for tests and shutdown.
func (r *Recorder) Flush() {
	r.pending.Wait()
}

// Close drains the queue and stops the worker.
func (r *Recorder) Close() {
	r.Flush()
	r.once.Do(func() { close(r.queue) })
}

func (r *Recorder) run() {
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.sink.Append(ctx, entry)
		cancel()
		if err != nil {
			r.reportFailure(entry, err.Error())
		}
		r.pending.Done()
	}
}

func (r *Recorder) reportFailure(entry Entry, reason string) {
	obs.AuditWriteFailures.Inc()
	obs.LogError("audit write failed", map[string]any{
		"entry_id":    entry.ID,
		"action":      string(entry.Action),
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"reason":      reason,
	})
}
