// Package distributed runs ad-hoc query batches pulled from the controller. A batch moves
// through pull, an optional discovery gate, execution and a single flush; the raw pull is
// checkpointed in the state store so a batch abandoned by a crash is reported as
// interrupted on the next start.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetd/fleetd/internal/kvstore"
	"github.com/fleetd/fleetd/internal/observability"
	"github.com/fleetd/fleetd/internal/query"
	"github.com/fleetd/fleetd/internal/transport"
)

type Distributed struct {
	Transport transport.Plugin
	Engine    query.Engine
	Store     kvstore.Store
	Logger    *slog.Logger
	Clock     func() time.Time

	// runMu serializes batch operations; mu guards results and stats for readers.
	runMu     sync.Mutex
	mu        sync.Mutex
	results   []QueryResult
	stats     Stats
	recovered bool
	currentID atomic.Value
}

func New(plugin transport.Plugin, engine query.Engine, store kvstore.Store, logger *slog.Logger) *Distributed {
	return &Distributed{Transport: plugin, Engine: engine, Store: store, Logger: logger}
}

// PullUpdates fetches the next batch. Leftovers of an unfinished batch (and, on the first
// pull of this instance, the ids of a batch checkpointed by a previous process) are
// flushed as interrupted before the transport is asked for new work.
func (d *Distributed) PullUpdates(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if err := d.validate(); err != nil {
		return err
	}

	d.recoverInterrupted(ctx)
	if err := d.flushCompleted(ctx); err != nil {
		d.Logger.WarnContext(ctx, "flush of interrupted results failed", slog.Any("error", err))
	}

	payload, err := d.Transport.GetQueries(ctx)
	d.mu.Lock()
	d.stats.Reads++
	d.mu.Unlock()
	observability.ObserveDistributedRead(err)
	if err != nil {
		return fmt.Errorf("%w: get queries: %w", ErrTransport, err)
	}

	if err := d.Store.Set(ctx, WorkNamespace, WorkKey, payload); err != nil {
		return fmt.Errorf("%w: checkpoint pending work: %w", ErrStateStore, err)
	}

	batch, err := ParseBatch(payload)
	if err != nil {
		return err
	}
	if len(batch.Queries) == 0 {
		return nil
	}

	passed := d.discoveryPasses(ctx, batch.Discovery)

	d.mu.Lock()
	for _, request := range batch.Queries {
		if passed {
			d.results = append(d.results, pendingResult(request))
		} else {
			d.results = append(d.results, completedResult(request, StatusOK))
		}
	}
	if !passed {
		d.stats.DiscoverySkips++
	}
	pending := d.countLocked(StatePending)
	d.mu.Unlock()

	observability.SetPendingQueries(pending)
	d.Logger.InfoContext(ctx, "distributed batch pulled",
		slog.Int("queries", len(batch.Queries)),
		slog.Int("discovery", len(batch.Discovery)),
		slog.Bool("discovery_passed", passed),
	)
	return nil
}

// RunQueries executes every pending request, then flushes. Engine failures are recorded
// per request and never abort the batch.
func (d *Distributed) RunQueries(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if err := d.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	var pending []int
	for i, result := range d.results {
		if result.State == StatePending {
			pending = append(pending, i)
		}
	}
	d.mu.Unlock()

	for _, index := range pending {
		d.mu.Lock()
		request := d.results[index].Request
		d.mu.Unlock()

		result := d.execute(ctx, request)

		d.mu.Lock()
		d.results[index] = result
		remaining := d.countLocked(StatePending)
		d.mu.Unlock()
		observability.SetPendingQueries(remaining)
	}

	return d.flushCompleted(ctx)
}

// FlushCompleted sends everything in the result queue. The queue is cleared before the
// transport is called; a failed write is returned and the results are not retried.
func (d *Distributed) FlushCompleted(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if err := d.validate(); err != nil {
		return err
	}
	return d.flushCompleted(ctx)
}

// SerializeResults encodes the result queue as a write-back document and clears it.
func (d *Distributed) SerializeResults() (string, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	payload, _, err := d.drainResults()
	return payload, err
}

func (d *Distributed) PendingQueryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(StatePending)
}

func (d *Distributed) CompletedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(StateCompleted)
}

// CurrentRequestID is the id of the request the engine is running right now, or "".
func (d *Distributed) CurrentRequestID() string {
	value, _ := d.currentID.Load().(string)
	return value
}

func (d *Distributed) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Distributed) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Pending:          d.countLocked(StatePending),
		Completed:        d.countLocked(StateCompleted),
		CurrentRequestID: d.CurrentRequestID(),
		Stats:            d.stats,
	}
}

func (d *Distributed) recoverInterrupted(ctx context.Context) {
	d.mu.Lock()
	converted := 0
	present := make(map[string]struct{}, len(d.results))
	for i, result := range d.results {
		if result.State == StatePending {
			d.results[i] = completedResult(result.Request, StatusInterrupted)
			converted++
		}
		present[result.Request.ID] = struct{}{}
	}
	checkRecord := !d.recovered
	d.recovered = true
	d.mu.Unlock()

	recovered := 0
	if checkRecord {
		recovered = d.recoverFromRecord(ctx, present)
	}
	if converted+recovered > 0 {
		observability.AddInterruptedResults(converted + recovered)
		d.Logger.WarnContext(ctx, "distributed work interrupted",
			slog.Int("in_memory", converted),
			slog.Int("from_previous_run", recovered),
		)
	}
}

func (d *Distributed) recoverFromRecord(ctx context.Context, present map[string]struct{}) int {
	raw, err := d.Store.Get(ctx, WorkNamespace, WorkKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			d.Logger.WarnContext(ctx, "read pending work record failed", slog.Any("error", err))
		}
		return 0
	}
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	batch, err := ParseBatch(raw)
	if err != nil {
		d.Logger.WarnContext(ctx, "skipping malformed pending work record", slog.Any("error", err))
		return 0
	}

	recovered := 0
	d.mu.Lock()
	for _, request := range batch.Queries {
		if _, ok := present[request.ID]; ok {
			continue
		}
		d.results = append(d.results, completedResult(request, StatusInterrupted))
		recovered++
	}
	d.stats.RecoveredReads++
	d.mu.Unlock()

	observability.ObserveRecoveredWork(recovered)
	return recovered
}

func (d *Distributed) discoveryPasses(ctx context.Context, discovery []DiscoveryQuery) bool {
	for _, item := range discovery {
		result, err := d.Engine.Execute(ctx, query.Request{SQL: item.Query})
		if err != nil {
			d.Logger.WarnContext(ctx, "discovery query failed",
				slog.String("discovery_id", item.ID),
				slog.Any("error", err),
			)
			observability.IncrementDiscoverySkip()
			return false
		}
		if len(result.Rows) == 0 {
			d.Logger.DebugContext(ctx, "discovery query returned no rows", slog.String("discovery_id", item.ID))
			observability.IncrementDiscoverySkip()
			return false
		}
	}
	return true
}

func (d *Distributed) execute(ctx context.Context, request QueryRequest) QueryResult {
	d.currentID.Store(request.ID)
	defer d.currentID.Store("")

	started := d.Clock()
	result, err := d.Engine.Execute(ContextWithRequestID(ctx, request.ID), query.Request{SQL: request.Query})
	elapsed := d.Clock().Sub(started)
	observability.ObserveQueryExecution(elapsed, err)

	if err != nil {
		d.Logger.WarnContext(ctx, "distributed query failed",
			slog.String("request_id", request.ID),
			slog.Any("error", err),
		)
		out := completedResult(request, StatusExecutionError)
		out.Message = err.Error()
		return out
	}

	d.Logger.DebugContext(ctx, "distributed query executed",
		slog.String("request_id", request.ID),
		slog.Int("rows", len(result.Rows)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return QueryResult{
		Request: request,
		Columns: result.Columns,
		Rows:    rowsFromResult(result),
		Status:  StatusOK,
		State:   StateCompleted,
	}
}

func (d *Distributed) flushCompleted(ctx context.Context) error {
	payload, count, err := d.drainResults()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	err = d.Transport.WriteResults(ctx, payload)
	d.mu.Lock()
	d.stats.Writes++
	d.mu.Unlock()
	observability.ObserveDistributedWrite(count, err)
	if err != nil {
		d.Logger.ErrorContext(ctx, "distributed results dropped", slog.Int("results", count), slog.Any("error", err))
		return fmt.Errorf("%w: write results: %w", ErrTransport, err)
	}
	d.Logger.InfoContext(ctx, "distributed results written", slog.Int("results", count))
	return nil
}

func (d *Distributed) drainResults() (string, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return "", 0, nil
	}
	payload, err := encodeResults(d.results)
	if err != nil {
		return "", 0, err
	}
	count := len(d.results)
	d.results = nil
	return payload, count, nil
}

func (d *Distributed) countLocked(state State) int {
	count := 0
	for _, result := range d.results {
		if result.State == state {
			count++
		}
	}
	return count
}

func (d *Distributed) validate() error {
	if d.Transport == nil {
		return fmt.Errorf("transport is required")
	}
	if d.Engine == nil {
		return fmt.Errorf("query engine is required")
	}
	if d.Store == nil {
		return fmt.Errorf("state store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return nil
}
