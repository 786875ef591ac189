package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope      = "vitalsync/sync"
	spanReconcile  = "sync.reconcile"
	metricCreated  = "vitalsync.sync.records.created"
	metricUpdated  = "vitalsync.sync.records.updated"
	metricDeleted  = "vitalsync.sync.records.deleted"
	metricPulled   = "vitalsync.sync.records.pulled"
	metricDeduped  = "vitalsync.sync.records.deduped"
	metricFailures = "vitalsync.sync.failures"
)

// defaultWorkers sizes the worker pool when the caller passes 0.
const defaultWorkers = 4

// Result is the outcome of one scheduled reconciliation pass.
type Result struct {
	Stats Stats
	Err   error
}

// flightKey identifies the serialization domain: reconciliations for the
// same entity and owner never overlap; everything else runs in parallel.
type flightKey struct {
	entity string
	owner  int64
}

// flight tracks one key's in-progress pass and its optional queued
// follow-up. Trigger requests arriving while a follow-up is already queued
// coalesce into it — safe because a pass is idempotent.
type flight struct {
	current []chan Result
	queued  []chan Result
	pending bool
}

// Engine schedules reconciliation passes on a bounded worker pool,
// serializing per (entity, owner), and publishes a [Change] to subscribers
// after every pass that altered the local record set. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	syncers      map[string]Syncer
	owners       []int64
	workers      int
	pollInterval time.Duration
	log          *slog.Logger
	notifier     *notifier

	mu      sync.Mutex
	flights map[flightKey]*flight
	tasks   chan flightKey

	// done releases overflow submit goroutines once Run returns.
	done     chan struct{}
	stopOnce sync.Once

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntCreated  metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntPulled   metric.Int64Counter
	cntDeduped  metric.Int64Counter
	cntFailures metric.Int64Counter
}

// NewEngine creates an Engine over the given entity syncers. owners is the
// set of users whose records the poll loop keeps convergent; workers bounds
// the number of concurrent passes (0 means a small default).
func NewEngine(syncers []Syncer, owners []int64, workers int, pollInterval time.Duration, logger *slog.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	byName := make(map[string]Syncer, len(syncers))
	for _, s := range syncers {
		byName[s.Name()] = s
	}

	return &Engine{
		syncers:      byName,
		owners:       owners,
		workers:      workers,
		pollInterval: pollInterval,
		log:          logger,
		notifier:     newNotifier(),
		flights:      make(map[flightKey]*flight),
		tasks:        make(chan flightKey, 256),
		done:         make(chan struct{}),

		tracer:      tracer,
		cntCreated:  mustCounter(metricCreated, "Records pushed as remote creates"),
		cntUpdated:  mustCounter(metricUpdated, "Records pushed as remote updates"),
		cntDeleted:  mustCounter(metricDeleted, "Remote deletes acknowledged"),
		cntPulled:   mustCounter(metricPulled, "Remote records merged into the local store"),
		cntDeduped:  mustCounter(metricDeduped, "Losing period duplicates removed"),
		cntFailures: mustCounter(metricFailures, "Per-record push failures"),
	}
}

// Subscribe registers for change notifications. The returned cancel func
// must be called to release the subscription. Delivery is best-effort: a
// subscriber that falls behind misses notifications rather than stalling
// the engine.
func (e *Engine) Subscribe() (<-chan Change, func()) {
	return e.notifier.subscribe()
}

// Trigger schedules a reconciliation for one entity and owner and returns a
// channel that delivers the pass's Result. The caller is never blocked: if a
// pass for the same key is already running, the request is queued behind it;
// if one is already queued, this request coalesces into it and shares its
// Result. Requires a running [Engine.Run]; receivers should select on their
// own context alongside the returned channel.
func (e *Engine) Trigger(entity string, ownerID int64) (<-chan Result, bool) {
	if _, ok := e.syncers[entity]; !ok {
		return nil, false
	}

	key := flightKey{entity: entity, owner: ownerID}
	ch := make(chan Result, 1)

	e.mu.Lock()
	f, running := e.flights[key]
	switch {
	case !running:
		e.flights[key] = &flight{current: []chan Result{ch}}
		e.mu.Unlock()
		e.submit(key)
	case !f.pending:
		f.pending = true
		f.queued = []chan Result{ch}
		e.mu.Unlock()
	default:
		f.queued = append(f.queued, ch)
		e.mu.Unlock()
	}

	return ch, true
}

// submit enqueues the key without ever blocking the caller. When the task
// channel is full the send moves to a goroutine that gives up once the
// engine stops, so no submitter outlives [Engine.Run].
func (e *Engine) submit(key flightKey) {
	select {
	case e.tasks <- key:
	default:
		go func() {
			select {
			case e.tasks <- key:
			case <-e.done:
			}
		}()
	}
}

// RunOnce performs a single reconciliation pass over every entity and owner,
// serially, and returns aggregate statistics with the first error. Used by
// the sync-once command; the daemon path goes through [Engine.Run].
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	var firstErr error

	for _, owner := range e.owners {
		for _, s := range e.syncers {
			st, err := e.reconcile(ctx, s, owner)
			stats.add(st)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return stats, firstErr
}

// Run starts the worker pool and the polling loop, with an immediate first
// pass. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopOnce.Do(func() { close(e.done) })

	var wg sync.WaitGroup
	for range e.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.triggerAll()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.triggerAll()
		}
	}
}

// triggerAll schedules a pass for every entity and owner. Passes still
// running from the previous tick coalesce instead of piling up.
func (e *Engine) triggerAll() {
	for _, owner := range e.owners {
		for name := range e.syncers {
			e.Trigger(name, owner)
		}
	}
}

// worker consumes scheduled keys until ctx is cancelled.
func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-e.tasks:
			e.runPass(ctx, key)
		}
	}
}

// runPass executes one scheduled pass, delivers the Result to its waiters,
// and promotes the queued follow-up if one accumulated meanwhile.
func (e *Engine) runPass(ctx context.Context, key flightKey) {
	syncer := e.syncers[key.entity]
	stats, err := e.reconcile(ctx, syncer, key.owner)

	e.mu.Lock()
	f := e.flights[key]
	waiters := f.current
	if f.pending {
		f.current = f.queued
		f.queued = nil
		f.pending = false
		e.mu.Unlock()
		e.submit(key)
	} else {
		delete(e.flights, key)
		e.mu.Unlock()
	}

	res := Result{Stats: stats, Err: err}
	for _, ch := range waiters {
		ch <- res // buffered; never blocks
	}
}

// reconcile runs one pass, recording a trace span, metrics, and — when the
// pass changed the local record set — a subscriber notification.
func (e *Engine) reconcile(ctx context.Context, s Syncer, ownerID int64) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanReconcile)
	defer span.End()

	stats, err := s.Reconcile(ctx, ownerID)

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Pulled > 0 {
		e.cntPulled.Add(ctx, int64(stats.Pulled))
	}
	if stats.Deduped > 0 {
		e.cntDeduped.Add(ctx, int64(stats.Deduped))
	}
	if stats.Failures > 0 {
		e.cntFailures.Add(ctx, int64(stats.Failures))
	}

	span.SetAttributes(
		attribute.String("sync.entity", s.Name()),
		attribute.Int64("sync.owner", ownerID),
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.pulled", stats.Pulled),
		attribute.Int("sync.deduped", stats.Deduped),
		attribute.Int("sync.failures", stats.Failures),
	)
	if err != nil {
		span.RecordError(err)
	}

	if stats.Changed() {
		e.notifier.publish(Change{Entity: s.Name(), OwnerID: ownerID, Stats: stats})
	}
	return stats, err
}
