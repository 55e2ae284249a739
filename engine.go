package grantkit

import (
	"context"
	"time"
)

// Engine evaluates authorization requests against stored grants and serves
// the audit and latch surfaces. Engines are constructed through [Builder],
// hold no mutable state of their own beyond metrics and the trail
// dispatcher, and are safe for concurrent use.
type Engine struct {
	config  Config
	storage Storage
	trail   *trailDispatcher
	metrics *Metrics
}

// Close flushes and stops the trail dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.trail != nil {
		e.trail.Close()
	}
}

// TrailDropped reports how many trail events were dropped under
// backpressure.
func (e *Engine) TrailDropped() uint64 {
	if e == nil || e.trail == nil {
		return 0
	}
	return e.trail.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Authorize evaluates one request and returns a decision with the grants
// that produced it.
//
// Deny grants are evaluated strictly before allow grants and any deny match
// short-circuits the allow pass entirely. When no grant matches the result
// is OutcomeImplicitDeny with empty evidence. A storage failure surfaces as
// an error and is never interpreted as a decision.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	if e == nil || e.storage == nil {
		return Decision{}, ErrEngineNotReady
	}
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	decision, err := e.authorize(ctx, req)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricAuthorizeError)
		e.emitTrail(ctx, TrailEvent{
			Timestamp: time.Now().UTC(),
			EventType: TrailAuthorize,
			Principal: req.Principal,
			Action:    req.Action,
			Resource:  req.Resource,
			Error:     err.Error(),
		})
		return Decision{}, err
	}

	switch decision.Outcome {
	case OutcomeAllow:
		e.metricInc(MetricAuthorizeAllow)
	case OutcomeDeny:
		e.metricInc(MetricAuthorizeDeny)
	case OutcomeImplicitDeny:
		e.metricInc(MetricAuthorizeImplicitDeny)
	}
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailAuthorize,
		Principal: req.Principal,
		Action:    req.Action,
		Resource:  req.Resource,
		Outcome:   decision.Outcome.String(),
		GrantIDs:  grantIDs(decision.Evidence),
	})

	return decision, nil
}

func (e *Engine) authorize(ctx context.Context, req Request) (Decision, error) {
	// Deny pass first. This ordering is the precedence rule; do not swap.
	denies, err := e.collectMatches(ctx, req, EffectDeny)
	if err != nil {
		return Decision{}, err
	}
	if len(denies) > 0 {
		return Decision{Outcome: OutcomeDeny, Evidence: denies}, nil
	}

	allows, err := e.collectMatches(ctx, req, EffectAllow)
	if err != nil {
		return Decision{}, err
	}
	if len(allows) > 0 {
		return Decision{Outcome: OutcomeAllow, Evidence: allows}, nil
	}

	return Decision{Outcome: OutcomeImplicitDeny}, nil
}

// collectMatches pages through all grants of one effect whose action and
// resource patterns cover the request, then applies the full match
// (principal and condition included) client-side. Partial pages from
// storage are transparent to the caller.
func (e *Engine) collectMatches(ctx context.Context, req Request, effect Effect) ([]Grant, error) {
	filter := GrantFilter{
		Effect:   &effect,
		Action:   req.Action,
		Resource: req.Resource,
	}

	var matched []Grant
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.storage.ListGrants(ctx, filter, e.config.Pagination.PageSize, token)
		if err != nil {
			return nil, wrapStorage("list "+effect.String()+" grants", err)
		}
		for _, g := range page.Grants {
			ok, err := g.Matches(req)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, g)
			}
		}
		if page.NextToken == "" {
			return matched, nil
		}
		token = page.NextToken
	}
}

func (e *Engine) emitTrail(ctx context.Context, event TrailEvent) {
	if e == nil || e.trail == nil {
		return
	}
	e.trail.Emit(ctx, event)
}
