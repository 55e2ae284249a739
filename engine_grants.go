package grantkit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreateGrant validates and stores a grant, returning its assigned ID.
// Grants are immutable once stored; to change one, delete it and create a
// replacement so the revocation stays in the trail.
func (e *Engine) CreateGrant(ctx context.Context, grant Grant) (uuid.UUID, error) {
	if e == nil || e.storage == nil {
		return uuid.Nil, ErrEngineNotReady
	}
	if err := grant.Validate(); err != nil {
		return uuid.Nil, err
	}

	id, err := e.storage.CreateGrant(ctx, grant)
	if err != nil {
		return uuid.Nil, wrapStorage("create grant", err)
	}

	e.metricInc(MetricGrantCreate)
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailGrantEnact,
		Action:    grant.Action,
		Resource:  grant.Resource,
		Principal: grant.Principal,
		GrantIDs:  []string{id.String()},
		Metadata:  map[string]string{"effect": grant.Effect.String()},
	})

	return id, nil
}

// GetGrant fetches one grant by ID.
func (e *Engine) GetGrant(ctx context.Context, id uuid.UUID) (Grant, error) {
	if e == nil || e.storage == nil {
		return Grant{}, ErrEngineNotReady
	}
	grant, err := e.storage.GetGrant(ctx, id)
	if err != nil {
		return Grant{}, wrapStorage("get grant", err)
	}
	return grant, nil
}

// DeleteGrant revokes a grant by ID. Revoking an already-revoked grant
// fails with ErrGrantNotFound; see the Storage contract.
func (e *Engine) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	if e == nil || e.storage == nil {
		return ErrEngineNotReady
	}
	if err := e.storage.DeleteGrant(ctx, id); err != nil {
		return wrapStorage("delete grant", err)
	}

	e.metricInc(MetricGrantDelete)
	e.emitTrail(ctx, TrailEvent{
		Timestamp: time.Now().UTC(),
		EventType: TrailGrantRepeal,
		GrantIDs:  []string{id.String()},
	})

	return nil
}
