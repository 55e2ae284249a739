package grantkit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CreateLatches partitions the grant keyspace into `partitions` pending
// latches, one per partition, and returns their IDs. Typically called once
// when a full-scan sweep is initiated, before workers start claiming.
func (e *Engine) CreateLatches(ctx context.Context, partitions int) ([]uuid.UUID, error) {
	if e == nil || e.storage == nil {
		return nil, ErrEngineNotReady
	}
	if partitions <= 0 {
		return nil, ErrPartitionCount
	}

	ids, err := e.storage.CreateLatches(ctx, partitions)
	if err != nil {
		return nil, wrapStorage("create latches", err)
	}
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailLatchCreate,
		Metadata:  map[string]string{"partitions": strconv.Itoa(partitions)},
	})
	return ids, nil
}

// ClaimLatch claims one claimable latch for workerID using the configured
// lease, returning nil when nothing is claimable. Most callers use a
// [Worker] instead of claiming directly.
func (e *Engine) ClaimLatch(ctx context.Context, workerID string) (*Latch, error) {
	if e == nil || e.storage == nil {
		return nil, ErrEngineNotReady
	}
	latch, err := e.storage.ClaimLatch(ctx, workerID, e.config.Latch.Lease)
	if err != nil {
		return nil, wrapStorage("claim latch", err)
	}
	if latch != nil {
		e.metricInc(MetricLatchClaim)
	}
	return latch, nil
}

// CompleteLatch marks a latch done on behalf of workerID.
func (e *Engine) CompleteLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	if e == nil || e.storage == nil {
		return ErrEngineNotReady
	}
	if err := e.storage.CompleteLatch(ctx, id, workerID); err != nil {
		return wrapStorage("complete latch", err)
	}
	e.metricInc(MetricLatchComplete)
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailLatchComplete,
		LatchID:   id.String(),
		WorkerID:  workerID,
	})
	return nil
}

// FailLatch reverts a claimed latch to pending on behalf of workerID,
// incrementing its retry count.
func (e *Engine) FailLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	if e == nil || e.storage == nil {
		return ErrEngineNotReady
	}
	if err := e.storage.FailLatch(ctx, id, workerID); err != nil {
		return wrapStorage("fail latch", err)
	}
	e.metricInc(MetricLatchFail)
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailLatchFail,
		LatchID:   id.String(),
		WorkerID:  workerID,
	})
	return nil
}

// Latches returns one page of latches by effective state. Lease-expired
// claims are reported as pending, including their accumulated retry count,
// so callers can spot permanently-failing partitions and apply their own
// retry ceiling.
func (e *Engine) Latches(ctx context.Context, filter LatchFilter, pageSize int, token string) (LatchPage, error) {
	if e == nil || e.storage == nil {
		return LatchPage{}, ErrEngineNotReady
	}
	page, err := e.storage.ListLatches(ctx, filter, e.clampPageSize(pageSize), token)
	if err != nil {
		return LatchPage{}, wrapStorage("list latches", err)
	}
	return page, nil
}

// PartitionHandler processes one page of a claimed partition's grants. It is
// invoked repeatedly for a single latch until the partition is exhausted.
// The latch carries its retry count, so handlers with a policy beyond
// [WithRetryLimit] can inspect latch.Retry and decide how to respond.
type PartitionHandler func(ctx context.Context, latch Latch, grants []Grant) error

// Worker drains claimable latches: claim, stream the partition's grants
// through the handler, then complete (or fail, when the handler errors).
// A worker that crashes mid-partition needs no cleanup: its claim lapses
// with the lease and the next claimant picks the partition up with the
// retry count incremented.
//
// Run multiple Workers, in one process or many, to parallelize a sweep.
type Worker struct {
	engine     *Engine
	id         string
	handler    PartitionHandler
	retryLimit int
}

// WorkerOption tunes a Worker at construction.
type WorkerOption func(*Worker)

// WithRetryLimit stops the worker from reclaiming latches whose retry count
// exceeds limit. Without it a partition whose handler keeps erroring would
// be failed and immediately reclaimed, spinning until the context is
// cancelled. An over-limit latch is set aside for the rest of its lease
// (counted as Exhausted in the report) so the run can finish; operators
// find such partitions via [Engine.Latches] and their retry counts.
// A limit of zero, the default, never sets latches aside.
func WithRetryLimit(limit int) WorkerOption {
	return func(w *Worker) {
		w.retryLimit = limit
	}
}

// NewWorker binds a worker ID and handler to the engine's storage, lease,
// and page-size configuration.
func (e *Engine) NewWorker(workerID string, handler PartitionHandler, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:  e,
		id:      workerID,
		handler: handler,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WorkerReport summarizes one Run: how many latches this worker completed,
// how many attempts it failed back to pending, and how many latches it set
// aside for exceeding the retry limit.
type WorkerReport struct {
	Completed int
	Failed    int
	Exhausted int
}

// Run claims and processes latches until none are claimable or the context
// is cancelled. A handler error fails the latch (returning it to pending
// with retry incremented) and the loop moves on; storage errors stop the
// run.
func (w *Worker) Run(ctx context.Context) (WorkerReport, error) {
	var report WorkerReport
	if w == nil || w.engine == nil || w.handler == nil {
		return report, ErrEngineNotReady
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		latch, err := w.engine.ClaimLatch(ctx, w.id)
		if err != nil {
			return report, err
		}
		if latch == nil {
			return report, nil
		}

		// Holding the claim keeps the latch out of the claimable set, so
		// the loop cannot spin on it. It surfaces again, retry incremented,
		// once the lease lapses.
		if w.retryLimit > 0 && latch.Retry > w.retryLimit {
			report.Exhausted++
			continue
		}

		if err := w.processPartition(ctx, *latch); err != nil {
			if failErr := w.engine.FailLatch(ctx, latch.ID, w.id); failErr != nil {
				return report, failErr
			}
			report.Failed++
			continue
		}

		if err := w.engine.CompleteLatch(ctx, latch.ID, w.id); err != nil {
			return report, err
		}
		report.Completed++
	}
}

func (w *Worker) processPartition(ctx context.Context, latch Latch) error {
	token := ""
	for {
		page, err := w.engine.storage.ListPartition(ctx, latch.Partition, w.engine.config.Latch.PageSize, token)
		if err != nil {
			return wrapStorage("list partition", err)
		}
		if len(page.Grants) > 0 {
			if err := w.handler(ctx, latch, page.Grants); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
