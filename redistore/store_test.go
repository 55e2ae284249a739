package redistore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/memstore"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "t", opts...)
}

func mustGrant(t *testing.T, effect grantkit.Effect, action, resource, principal string) grantkit.Grant {
	t.Helper()
	g, err := grantkit.NewGrant(effect, action, resource, principal, "")
	if err != nil {
		t.Fatalf("NewGrant failed: %v", err)
	}
	return g
}

func TestGrantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := mustGrant(t, grantkit.EffectDeny, "doc:delete", "file:a", "user:*")
	id, err := s.CreateGrant(ctx, g)
	if err != nil {
		t.Fatalf("CreateGrant failed: %v", err)
	}

	got, err := s.GetGrant(ctx, id)
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if got.ID != id || got.Effect != grantkit.EffectDeny || got.Principal != "user:*" {
		t.Fatalf("got grant %+v", got)
	}

	if err := s.DeleteGrant(ctx, id); err != nil {
		t.Fatalf("DeleteGrant failed: %v", err)
	}
	if _, err := s.GetGrant(ctx, id); !errors.Is(err, grantkit.ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}
	if err := s.DeleteGrant(ctx, id); !errors.Is(err, grantkit.ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound on repeat delete, got %v", err)
	}
}

func TestCreateGrantRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice")
	g.ID = uuid.New()
	if _, err := s.CreateGrant(ctx, g); err != nil {
		t.Fatalf("CreateGrant failed: %v", err)
	}
	if _, err := s.CreateGrant(ctx, g); !errors.Is(err, grantkit.ErrGrantExists) {
		t.Fatalf("expected ErrGrantExists, got %v", err)
	}
}

func TestListGrantsPaginatesCompletely(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := map[uuid.UUID]bool{}
	for i := 0; i < 10; i++ {
		id, err := s.CreateGrant(ctx, mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice"))
		if err != nil {
			t.Fatalf("CreateGrant failed: %v", err)
		}
		created[id] = true
	}

	var (
		token string
		seen  = map[uuid.UUID]bool{}
		pages int
	)
	for {
		page, err := s.ListGrants(ctx, grantkit.GrantFilter{}, 3, token)
		if err != nil {
			t.Fatalf("ListGrants failed: %v", err)
		}
		pages++
		for _, g := range page.Grants {
			if seen[g.ID] {
				t.Fatalf("grant %s delivered twice", g.ID)
			}
			if !created[g.ID] {
				t.Fatalf("unknown grant %s delivered", g.ID)
			}
			seen[g.ID] = true
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	if len(seen) != 10 {
		t.Fatalf("enumerated %d grants, want 10", len(seen))
	}
	if pages != 4 {
		t.Fatalf("took %d pages, want 4", pages)
	}
}

func TestListGrantsEndsWithoutTokenOnExactPageBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.CreateGrant(ctx, mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice")); err != nil {
			t.Fatalf("CreateGrant failed: %v", err)
		}
	}

	first, err := s.ListGrants(ctx, grantkit.GrantFilter{}, 3, "")
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(first.Grants) != 3 || first.NextToken == "" {
		t.Fatalf("first page = %d grants, token %q", len(first.Grants), first.NextToken)
	}

	// The second page fills on the last stored grant: no trailing token,
	// no empty third page.
	second, err := s.ListGrants(ctx, grantkit.GrantFilter{}, 3, first.NextToken)
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(second.Grants) != 3 {
		t.Fatalf("second page carried %d grants, want 3", len(second.Grants))
	}
	if second.NextToken != "" {
		t.Fatalf("second page carries token %q, want none", second.NextToken)
	}
}

func TestListGrantsTokenBoundToQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.CreateGrant(ctx, mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice")); err != nil {
			t.Fatalf("CreateGrant failed: %v", err)
		}
	}

	allow := grantkit.EffectAllow
	deny := grantkit.EffectDeny

	page, err := s.ListGrants(ctx, grantkit.GrantFilter{Effect: &allow}, 2, "")
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if page.NextToken == "" {
		t.Fatal("expected a continuation token")
	}
	_, err = s.ListGrants(ctx, grantkit.GrantFilter{Effect: &deny}, 2, page.NextToken)
	if !errors.Is(err, grantkit.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestListGrantsFiltersByEffectAndValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, g := range []grantkit.Grant{
		mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice"),
		mustGrant(t, grantkit.EffectAllow, "doc:*", "file:b", "user:alice"),
		mustGrant(t, grantkit.EffectDeny, "doc:read", "file:a", "user:*"),
	} {
		if _, err := s.CreateGrant(ctx, g); err != nil {
			t.Fatalf("CreateGrant failed: %v", err)
		}
	}

	deny := grantkit.EffectDeny
	page, err := s.ListGrants(ctx, grantkit.GrantFilter{Effect: &deny}, 10, "")
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(page.Grants) != 1 || page.Grants[0].Effect != grantkit.EffectDeny {
		t.Fatalf("deny filter returned %+v", page.Grants)
	}

	page, err = s.ListGrants(ctx, grantkit.GrantFilter{Action: "doc:write"}, 10, "")
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(page.Grants) != 1 || page.Grants[0].Action != "doc:*" {
		t.Fatalf("action filter returned %+v", page.Grants)
	}
}

func TestClaimLatchExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateLatches(ctx, 4); err != nil {
		t.Fatalf("CreateLatches failed: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[uuid.UUID]string{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			id := "worker-" + string(rune('a'+worker))
			for {
				latch, err := s.ClaimLatch(ctx, id, time.Minute)
				if err != nil {
					t.Errorf("ClaimLatch failed: %v", err)
					return
				}
				if latch == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[latch.ID]; dup {
					t.Errorf("latch %s claimed by both %s and %s", latch.ID, prev, id)
				}
				claimed[latch.ID] = id
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(claimed) != 4 {
		t.Fatalf("claimed %d latches, want 4", len(claimed))
	}
}

func TestLatchTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateLatches(ctx, 1); err != nil {
		t.Fatalf("CreateLatches failed: %v", err)
	}
	latch, err := s.ClaimLatch(ctx, "w1", time.Minute)
	if err != nil || latch == nil {
		t.Fatalf("ClaimLatch = (%v, %v)", latch, err)
	}
	if latch.State != grantkit.LatchClaimed || latch.Owner != "w1" {
		t.Fatalf("claimed latch %+v", latch)
	}

	if err := s.CompleteLatch(ctx, latch.ID, "intruder"); !errors.Is(err, grantkit.ErrLatchState) {
		t.Fatalf("expected ErrLatchState for wrong owner, got %v", err)
	}
	if err := s.CompleteLatch(ctx, uuid.New(), "w1"); !errors.Is(err, grantkit.ErrLatchNotFound) {
		t.Fatalf("expected ErrLatchNotFound, got %v", err)
	}

	if err := s.FailLatch(ctx, latch.ID, "w1"); err != nil {
		t.Fatalf("FailLatch failed: %v", err)
	}
	again, err := s.ClaimLatch(ctx, "w2", time.Minute)
	if err != nil || again == nil {
		t.Fatalf("reclaim = (%v, %v)", again, err)
	}
	if again.Retry != 1 {
		t.Fatalf("retry = %d, want 1", again.Retry)
	}
	if err := s.CompleteLatch(ctx, again.ID, "w2"); err != nil {
		t.Fatalf("CompleteLatch failed: %v", err)
	}
	if err := s.CompleteLatch(ctx, again.ID, "w2"); !errors.Is(err, grantkit.ErrLatchState) {
		t.Fatalf("expected ErrLatchState on done latch, got %v", err)
	}
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	now := time.Now()
	clock := &now
	s := newTestStore(t, WithClock(func() time.Time { return *clock }))
	ctx := context.Background()

	if _, err := s.CreateLatches(ctx, 1); err != nil {
		t.Fatalf("CreateLatches failed: %v", err)
	}
	latch, err := s.ClaimLatch(ctx, "crashed", 30*time.Second)
	if err != nil || latch == nil {
		t.Fatalf("ClaimLatch = (%v, %v)", latch, err)
	}
	if other, err := s.ClaimLatch(ctx, "other", 30*time.Second); err != nil || other != nil {
		t.Fatalf("claim during lease = (%v, %v), want (nil, nil)", other, err)
	}

	later := now.Add(31 * time.Second)
	clock = &later

	page, err := s.ListLatches(ctx, grantkit.LatchFilter{}, 10, "")
	if err != nil {
		t.Fatalf("ListLatches failed: %v", err)
	}
	if len(page.Latches) != 1 || page.Latches[0].State != grantkit.LatchPending {
		t.Fatalf("expired latch listed as %+v, want pending", page.Latches)
	}

	reclaimed, err := s.ClaimLatch(ctx, "recovery", 30*time.Second)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim = (%v, %v)", reclaimed, err)
	}
	if reclaimed.Retry != 1 {
		t.Fatalf("retry = %d, want 1", reclaimed.Retry)
	}
	if err := s.CompleteLatch(ctx, reclaimed.ID, "crashed"); !errors.Is(err, grantkit.ErrLatchState) {
		t.Fatalf("expected ErrLatchState for stale owner, got %v", err)
	}
	if err := s.CompleteLatch(ctx, reclaimed.ID, "recovery"); err != nil {
		t.Fatalf("CompleteLatch failed: %v", err)
	}
}

func TestListPartitionCoversAllGrantsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		if _, err := s.CreateGrant(ctx, mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice")); err != nil {
			t.Fatalf("CreateGrant failed: %v", err)
		}
	}

	const partitions = 4
	if _, err := s.CreateLatches(ctx, partitions); err != nil {
		t.Fatalf("CreateLatches failed: %v", err)
	}
	latchPage, err := s.ListLatches(ctx, grantkit.LatchFilter{}, partitions, "")
	if err != nil {
		t.Fatalf("ListLatches failed: %v", err)
	}

	seen := map[uuid.UUID]bool{}
	for _, l := range latchPage.Latches {
		token := ""
		for {
			page, err := s.ListPartition(ctx, l.Partition, 7, token)
			if err != nil {
				t.Fatalf("ListPartition(%q) failed: %v", l.Partition, err)
			}
			for _, g := range page.Grants {
				if seen[g.ID] {
					t.Fatalf("grant %s appeared in two partitions", g.ID)
				}
				seen[g.ID] = true
			}
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}
	}
	if len(seen) != 40 {
		t.Fatalf("partitions covered %d grants, want 40", len(seen))
	}
}

func TestListPartitionRejectsUnknownDescriptor(t *testing.T) {
	s := newTestStore(t)
	for _, d := range []string{"", "bogus", "9/4"} {
		if _, err := s.ListPartition(context.Background(), d, 10, ""); !errors.Is(err, grantkit.ErrPartitionDescriptor) {
			t.Fatalf("ListPartition(%q) = %v, want ErrPartitionDescriptor", d, err)
		}
	}
}

// Parity: the same create sequence enumerates in the same order on both
// backends. memstore is the executable reference for the storage contract.
func TestEnumerationOrderMatchesMemstore(t *testing.T) {
	ctx := context.Background()
	rds := newTestStore(t)
	mem := memstore.New()

	ids := make([]uuid.UUID, 12)
	for i := range ids {
		g := mustGrant(t, grantkit.EffectAllow, "doc:read", "file:a", "user:alice")
		g.ID = uuid.New()
		ids[i] = g.ID
		if _, err := rds.CreateGrant(ctx, g); err != nil {
			t.Fatalf("redistore CreateGrant failed: %v", err)
		}
		if _, err := mem.CreateGrant(ctx, g); err != nil {
			t.Fatalf("memstore CreateGrant failed: %v", err)
		}
	}
	// Delete the same grant from both mid-sequence.
	if err := rds.DeleteGrant(ctx, ids[5]); err != nil {
		t.Fatalf("redistore DeleteGrant failed: %v", err)
	}
	if err := mem.DeleteGrant(ctx, ids[5]); err != nil {
		t.Fatalf("memstore DeleteGrant failed: %v", err)
	}

	collect := func(s grantkit.Storage) []uuid.UUID {
		var out []uuid.UUID
		token := ""
		for {
			page, err := s.ListGrants(ctx, grantkit.GrantFilter{}, 5, token)
			if err != nil {
				t.Fatalf("ListGrants failed: %v", err)
			}
			for _, g := range page.Grants {
				out = append(out, g.ID)
			}
			if page.NextToken == "" {
				return out
			}
			token = page.NextToken
		}
	}

	got := collect(rds)
	want := collect(mem)
	if len(got) != len(want) {
		t.Fatalf("redistore enumerated %d grants, memstore %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order diverges at %d: redistore %s, memstore %s", i, got[i], want[i])
		}
	}
}
