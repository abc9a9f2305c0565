// Package audit records the append-only audit trail.
//
// Authorization decisions are sent to the Recorder directly. State changes
// write an audit intent into the primary database's outbox in the same
// transaction as the change; the Recorder relays intents into the audit
// store after commit and again on startup, so a crash between the two never
// loses a committed transition's record. Audit writes are best effort with
// respect to the caller: failures are logged and counted, never returned.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/erazemk/orozarna/internal/metrics"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

const (
	relayBatch    = 100
	relayInterval = 5 * time.Second
	writeTimeout  = 5 * time.Second
)

// Options configure a Recorder.
type Options struct {
	// Buffer is the size of the asynchronous queue.
	Buffer int
	// Sync makes Record and Notify write before returning. Used in tests.
	Sync bool
	// Outbox is the primary database holding pending audit intents. Nil
	// disables relaying.
	Outbox  *sql.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Recorder appends audit entries to a Store.
type Recorder struct {
	store   Store
	outbox  *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
	sync    bool

	mu     sync.RWMutex
	closed bool
	events chan model.AuditEntry
	notify chan struct{}
	done   chan struct{}

	relayMu sync.Mutex
}

// NewRecorder creates a Recorder and, unless opts.Sync is set, starts its
// writer goroutine. Pending outbox intents are relayed right away.
func NewRecorder(st Store, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}

	r := &Recorder{
		store:   st,
		outbox:  opts.Outbox,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		sync:    opts.Sync,
		done:    make(chan struct{}),
	}

	if r.sync {
		close(r.done)
		r.Relay(context.Background())
		return r
	}

	r.events = make(chan model.AuditEntry, opts.Buffer)
	r.notify = make(chan struct{}, 1)
	r.notify <- struct{}{}
	go r.run()
	return r
}

// Record queues an entry. When the queue is full or the recorder is closed
// the entry is written by the caller instead of being dropped.
func (r *Recorder) Record(ctx context.Context, e model.AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if !r.sync {
		r.mu.RLock()
		queued := false
		if !r.closed {
			select {
			case r.events <- e:
				queued = true
			default:
			}
		}
		r.mu.RUnlock()
		if queued {
			return
		}
	}

	r.write(context.WithoutCancel(ctx), e)
}

// Notify asks the recorder to relay pending outbox intents. It never blocks
// in asynchronous mode.
func (r *Recorder) Notify() {
	if r.sync {
		r.Relay(context.Background())
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Close drains the queue, relays what is left in the outbox and stops the
// writer goroutine.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	if r.events != nil {
		close(r.events)
	}
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				r.Relay(context.Background())
				return
			}
			r.write(context.Background(), e)
		case <-r.notify:
			r.Relay(context.Background())
		case <-ticker.C:
			r.Relay(context.Background())
		}
	}
}

func (r *Recorder) write(ctx context.Context, e model.AuditEntry) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := r.store.Append(ctx, e); err != nil {
		r.metrics.IncrementAudit("failed")
		r.logger.Error("writing audit entry", "entity_type", e.EntityType, "entity_id", e.EntityID,
			"action", e.Action, "outcome", e.Outcome, "error", err)
		return
	}
	r.metrics.IncrementAudit("written")
}

// Relay moves pending outbox intents into the audit store. An intent that
// fails to append stays in the outbox for the next attempt. Appends are keyed
// by intent, so an intent relayed twice, by a crash before its outbox row was
// cleared or by another instance, is stored once.
func (r *Recorder) Relay(ctx context.Context) {
	if r.outbox == nil {
		return
	}

	r.relayMu.Lock()
	defer r.relayMu.Unlock()

	for {
		pending, err := store.PendingOutbox(ctx, r.outbox, relayBatch)
		if err != nil {
			r.metrics.IncrementAudit("failed")
			r.logger.Error("reading audit outbox", "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		var relayed []int64
		var failed error
		for _, e := range pending {
			outboxID := e.ID
			e.ID = 0
			if _, err := r.store.Append(ctx, e); err != nil {
				failed = err
				break
			}
			relayed = append(relayed, outboxID)
		}

		if err := store.DeleteOutbox(ctx, r.outbox, relayed); err != nil {
			r.metrics.IncrementAudit("failed")
			r.logger.Error("clearing audit outbox", "error", err)
			return
		}
		r.metrics.AuditRecords.WithLabelValues("relayed").Add(float64(len(relayed)))

		if failed != nil {
			r.metrics.IncrementAudit("failed")
			r.logger.Error("relaying audit intent", "pending", len(pending)-len(relayed), "error", failed)
			return
		}
		if len(pending) < relayBatch {
			return
		}
	}
}

// ListByEntity returns an entity's audit history in order.
func (r *Recorder) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]model.AuditEntry, error) {
	return r.store.ListByEntity(ctx, entityType, entityID)
}

// ListRecent returns the newest audit entries.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	return r.store.ListRecent(ctx, limit)
}

// Snapshot encodes v for an entry's before or after field. Nil encodes as
// an empty snapshot.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}

// WriteIntent stores e in the outbox through q, normally the transaction
// making the audited change. Call Notify after the transaction commits.
func WriteIntent(ctx context.Context, q store.Querier, e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return store.AppendOutbox(ctx, q, e)
}
