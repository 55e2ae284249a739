package grantkit

import "context"

// Audit returns one page of grants matching the query, plus a continuation
// token. The engine holds no cursor state between calls: the caller drives
// iteration and can resume after a crash by retaining the last token.
// Tokens are bound to the query; reuse with different filters fails with
// [ErrTokenInvalid].
//
// Completing a full audit is the caller's responsibility. For parallel or
// resumable full-table sweeps, partition the work with [Engine.CreateLatches]
// and process it with a [Worker] instead of paging serially.
func (e *Engine) Audit(ctx context.Context, query GrantFilter, pageSize int, token string) (GrantPage, error) {
	if e == nil || e.storage == nil {
		return GrantPage{}, ErrEngineNotReady
	}
	pageSize = e.clampPageSize(pageSize)

	page, err := e.storage.ListGrants(ctx, query, pageSize, token)
	if err != nil {
		return GrantPage{}, wrapStorage("audit grants", err)
	}
	e.metricInc(MetricAuditPage)
	return page, nil
}

// AuditRequest pages through the grants relevant to one request: every
// stored grant, either effect, whose matchers and condition are satisfied by
// the request. Pages may run short of pageSize when candidates are filtered
// out; iteration is finished only when the returned token is empty.
func (e *Engine) AuditRequest(ctx context.Context, req Request, pageSize int, token string) (GrantPage, error) {
	if e == nil || e.storage == nil {
		return GrantPage{}, ErrEngineNotReady
	}
	if err := req.Validate(); err != nil {
		return GrantPage{}, err
	}
	pageSize = e.clampPageSize(pageSize)

	filter := GrantFilter{Action: req.Action, Resource: req.Resource}
	page, err := e.storage.ListGrants(ctx, filter, pageSize, token)
	if err != nil {
		return GrantPage{}, wrapStorage("audit request", err)
	}

	matched := make([]Grant, 0, len(page.Grants))
	for _, g := range page.Grants {
		ok, err := g.Matches(req)
		if err != nil {
			return GrantPage{}, err
		}
		if ok {
			matched = append(matched, g)
		}
	}
	e.metricInc(MetricAuditPage)
	return GrantPage{Grants: matched, NextToken: page.NextToken}, nil
}

func (e *Engine) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return e.config.Pagination.PageSize
	}
	if pageSize > e.config.Pagination.MaxPageSize {
		return e.config.Pagination.MaxPageSize
	}
	return pageSize
}
