package grantkit

import (
	"context"
	"sync"
	"sync/atomic"
)

// queuedTrail pairs an event with the context it was emitted under, so the
// sink sees caller-scoped values (trace IDs, deadlines) even though delivery
// happens on the dispatcher goroutine.
type queuedTrail struct {
	ctx   context.Context
	event TrailEvent
}

// trailDispatcher decouples trail emission from the authorize hot path. One
// goroutine drains the queue into the sink; Close delivers whatever is
// queued before returning.
type trailDispatcher struct {
	sink    TrailSink
	queue   chan queuedTrail
	quit    chan struct{}
	drained chan struct{}
	dropped atomic.Uint64
	closing atomic.Bool
	stop    sync.Once

	// block makes Emit wait for queue space instead of dropping.
	block bool
}

func newTrailDispatcher(cfg TrailConfig, sink TrailSink) *trailDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &trailDispatcher{
		sink:    sink,
		queue:   make(chan queuedTrail, cfg.BufferSize),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
		block:   !cfg.DropIfFull,
	}
	go d.run()
	return d
}

func (d *trailDispatcher) run() {
	defer close(d.drained)

	for {
		select {
		case q := <-d.queue:
			d.deliver(q)
		case <-d.quit:
			for {
				select {
				case q := <-d.queue:
					d.deliver(q)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink under the emitter's context. A context
// that has already ended (the emitting request finished, or the queue
// outlived it) is replaced so the sink is never asked to work under a dead
// one.
func (d *trailDispatcher) deliver(q queuedTrail) {
	ctx := q.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	d.sink.Emit(ctx, q.event)
}

func (d *trailDispatcher) Emit(ctx context.Context, event TrailEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	q := queuedTrail{ctx: ctx, event: event}

	if d.block {
		done := ctx
		if done == nil {
			done = context.Background()
		}
		select {
		case d.queue <- q:
		case <-done.Done():
		case <-d.quit:
		}
		return
	}

	select {
	case d.queue <- q:
	case <-d.quit:
	default:
		d.dropped.Add(1)
	}
}

func (d *trailDispatcher) Close() {
	if d == nil {
		return
	}
	d.stop.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		<-d.drained
	})
}

func (d *trailDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
