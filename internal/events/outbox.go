package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"signato.org/internal/auditlog"
	"signato.org/internal/obs"
)

// OutboxPublisher satisfies the workflow publish hook by staging entries in
// the outbox. Delivery happens later in the worker, which keeps the signing
// path independent of broker availability.
type OutboxPublisher struct {
	outbox Outbox
}

func NewOutboxPublisher(outbox Outbox) *OutboxPublisher {
	return &OutboxPublisher{outbox: outbox}
}

func (p *OutboxPublisher) Publish(ctx context.Context, entry auditlog.Entry) {
	rec, err := EncodeEntry(entry)
	if err != nil {
		obs.LogRequest(map[string]any{"msg": "outbox encode failed", "error": err.Error(), "event": string(entry.Type)})
		return
	}
	if err := p.outbox.Enqueue(ctx, rec); err != nil {
		obs.LogRequest(map[string]any{"msg": "outbox enqueue failed", "error": err.Error(), "event": string(entry.Type)})
	}
}

// Worker drains the outbox on a fixed interval.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type WorkerOption func(*Worker)

func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batchSize = n }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(outbox Outbox, publisher Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		interval:  2 * time.Second,
		batchSize: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done, draining one batch per tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				obs.LogRequest(map[string]any{"msg": "outbox drain failed", "error": err.Error()})
			}
		}
	}
}

// ProcessOnce publishes a single batch. A publish failure marks the record
// and moves on; the record is retried on a later tick.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	records, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey); err != nil {
			if markErr := w.outbox.MarkFailed(ctx, rec.ID, err.Error(), w.now()); markErr != nil {
				return markErr
			}
			continue
		}
		if err := w.outbox.MarkPublished(ctx, rec.ID, w.now()); err != nil {
			return err
		}
	}
	return nil
}

// MemoryOutbox keeps staged records in memory. Production uses the postgres
// outbox; this one backs tests and single process deployments.
type MemoryOutbox struct {
	mu      sync.Mutex
	pending map[string]Record
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{pending: make(map[string]Record)}
}

func (o *MemoryOutbox) Enqueue(ctx context.Context, rec Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[rec.ID] = rec
	return nil
}

func (o *MemoryOutbox) FetchUnpublished(ctx context.Context, limit int) ([]Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, 0, len(o.pending))
	for _, rec := range o.pending {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *MemoryOutbox) MarkPublished(ctx context.Context, id string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, id)
	return nil
}

func (o *MemoryOutbox) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.pending[id]
	if !ok {
		return nil
	}
	rec.Attempts++
	rec.LastError = reason
	o.pending[id] = rec
	return nil
}

// Pending reports how many records await delivery.
func (o *MemoryOutbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
