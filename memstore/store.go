package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/internal/cursor"
	"github.com/grantkit/grantkit/internal/partition"
	"github.com/grantkit/grantkit/match"
)

const backendName = "memstore"

type grantRecord struct {
	grant    grantkit.Grant
	seq      uint64
	action   match.Pattern
	resource match.Pattern
}

type latchRecord struct {
	latch grantkit.Latch
	seq   uint64
}

// Store is the in-memory reference implementation of [grantkit.Storage].
// All state lives behind one RWMutex, which makes every operation trivially
// atomic; ClaimLatch takes the write lock for the whole select-and-mark
// step, upholding at-most-one-claimant without any further machinery.
//
// Ordering is by insertion sequence. Continuation tokens carry the sequence
// of the last delivered record, so iteration over a static grant set is
// complete and duplicate-free, and a record deleted mid-iteration never
// shifts the position of the others. Pagination is live, not
// snapshot-isolated: grants created behind the cursor are skipped, grants
// created ahead of it appear.
type Store struct {
	mu         sync.RWMutex
	grants     map[uuid.UUID]*grantRecord
	order      []*grantRecord
	seq        uint64
	latches    map[uuid.UUID]*latchRecord
	latchOrder []*latchRecord
	latchSeq   uint64

	cursors *cursor.Codec
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTokenKey sets a stable continuation-token signing key. Without it a
// random key is used and tokens are valid only for this Store's lifetime,
// which is the natural scope for an in-memory backend.
func WithTokenKey(key []byte) Option {
	return func(s *Store) {
		s.cursors = cursor.New(backendName, key)
	}
}

// WithClock overrides the time source. Tests use it to expire latch leases
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		grants:  make(map[uuid.UUID]*grantRecord),
		latches: make(map[uuid.UUID]*latchRecord),
		cursors: cursor.New(backendName, nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGrant stores a grant, minting an ID when the grant's is zero.
func (s *Store) CreateGrant(ctx context.Context, grant grantkit.Grant) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if err := grant.Validate(); err != nil {
		return uuid.Nil, err
	}
	action, err := match.Compile(grant.Action)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", grantkit.ErrPatternSyntax, err)
	}
	resource, err := match.Compile(grant.Resource)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", grantkit.ErrPatternSyntax, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	} else if _, exists := s.grants[grant.ID]; exists {
		return uuid.Nil, grantkit.ErrGrantExists
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = s.now().UTC()
	}

	s.seq++
	rec := &grantRecord{
		grant:    grant,
		seq:      s.seq,
		action:   action,
		resource: resource,
	}
	s.grants[grant.ID] = rec
	s.order = append(s.order, rec)

	return grant.ID, nil
}

// GetGrant returns the grant with the given ID.
func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (grantkit.Grant, error) {
	if err := ctx.Err(); err != nil {
		return grantkit.Grant{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.grants[id]
	if !ok {
		return grantkit.Grant{}, grantkit.ErrGrantNotFound
	}
	return rec.grant, nil
}

// DeleteGrant removes a grant. Deleting an absent ID reports
// ErrGrantNotFound, so the second of two deletes always fails the same way.
func (s *Store) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.grants[id]
	if !ok {
		return grantkit.ErrGrantNotFound
	}
	delete(s.grants, id)

	idx := sort.Search(len(s.order), func(i int) bool { return s.order[i].seq >= rec.seq })
	if idx < len(s.order) && s.order[idx].seq == rec.seq {
		s.order = append(s.order[:idx], s.order[idx+1:]...)
	}
	return nil
}

// ListGrants returns one page of grants matching the filter.
func (s *Store) ListGrants(ctx context.Context, filter grantkit.GrantFilter, pageSize int, token string) (grantkit.GrantPage, error) {
	return s.listGrants(ctx, filter.Fingerprint(), pageSize, token, func(rec *grantRecord) bool {
		if filter.Effect != nil && rec.grant.Effect != *filter.Effect {
			return false
		}
		if filter.Action != "" && !rec.action.Match(filter.Action) {
			return false
		}
		if filter.Resource != "" && !rec.resource.Match(filter.Resource) {
			return false
		}
		return true
	})
}

// ListPartition pages through the grants in one hash-bucket partition.
func (s *Store) ListPartition(ctx context.Context, descriptor string, pageSize int, token string) (grantkit.GrantPage, error) {
	index, count, err := partition.Parse(descriptor)
	if err != nil {
		return grantkit.GrantPage{}, fmt.Errorf("%w: %v", grantkit.ErrPartitionDescriptor, err)
	}
	fp := cursor.Fingerprint("partition", descriptor)
	return s.listGrants(ctx, fp, pageSize, token, func(rec *grantRecord) bool {
		return partition.Bucket(rec.grant.ID, count) == index
	})
}

func (s *Store) listGrants(ctx context.Context, fingerprint string, pageSize int, token string, include func(*grantRecord) bool) (grantkit.GrantPage, error) {
	if err := ctx.Err(); err != nil {
		return grantkit.GrantPage{}, err
	}
	if pageSize <= 0 {
		return grantkit.GrantPage{}, grantkit.ErrPageSize
	}
	after, err := s.decodePosition(token, fingerprint)
	if err != nil {
		return grantkit.GrantPage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var page grantkit.GrantPage
	start := sort.Search(len(s.order), func(i int) bool { return s.order[i].seq > after })
	for i := start; i < len(s.order); i++ {
		rec := s.order[i]
		if !include(rec) {
			continue
		}
		page.Grants = append(page.Grants, rec.grant)
		if len(page.Grants) == pageSize {
			if i+1 < len(s.order) {
				next, err := s.cursors.Encode(fingerprint, strconv.FormatUint(rec.seq, 10))
				if err != nil {
					return grantkit.GrantPage{}, err
				}
				page.NextToken = next
			}
			return page, nil
		}
	}
	return page, nil
}

// CreateLatches partitions the grant keyspace into hash buckets, one
// pending latch per bucket.
func (s *Store) CreateLatches(ctx context.Context, partitions int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if partitions <= 0 {
		return nil, grantkit.ErrPartitionCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	ids := make([]uuid.UUID, 0, partitions)
	for i := 0; i < partitions; i++ {
		s.latchSeq++
		latch := grantkit.Latch{
			ID:        uuid.New(),
			Partition: partition.Descriptor(i, partitions),
			State:     grantkit.LatchPending,
			CreatedAt: now,
		}
		rec := &latchRecord{latch: latch, seq: s.latchSeq}
		s.latches[latch.ID] = rec
		s.latchOrder = append(s.latchOrder, rec)
		ids = append(ids, latch.ID)
	}
	return ids, nil
}

// ClaimLatch atomically claims the oldest claimable latch: pending, or
// claimed with a lapsed lease. Reclaiming a lapsed claim increments the
// retry count.
func (s *Store) ClaimLatch(ctx context.Context, workerID string, lease time.Duration) (*grantkit.Latch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lease <= 0 {
		return nil, grantkit.ErrLeaseDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, rec := range s.latchOrder {
		switch {
		case rec.latch.State == grantkit.LatchPending:
		case rec.latch.Expired(now):
			rec.latch.Retry++
		default:
			continue
		}
		rec.latch.State = grantkit.LatchClaimed
		rec.latch.Owner = workerID
		rec.latch.Expiry = now.Add(lease)
		claimed := rec.latch
		return &claimed, nil
	}
	return nil, nil
}

// CompleteLatch marks a latch done. The latch must still be claimed by
// workerID; a latch reclaimed after lease expiry has a new owner and the
// original worker's completion is rejected.
func (s *Store) CompleteLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	return s.transition(ctx, id, workerID, func(rec *latchRecord) {
		rec.latch.State = grantkit.LatchDone
		rec.latch.Owner = ""
		rec.latch.Expiry = time.Time{}
	})
}

// FailLatch reverts a claimed latch to pending and increments its retry
// count, making the partition immediately reclaimable.
func (s *Store) FailLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	return s.transition(ctx, id, workerID, func(rec *latchRecord) {
		rec.latch.State = grantkit.LatchPending
		rec.latch.Owner = ""
		rec.latch.Expiry = time.Time{}
		rec.latch.Retry++
	})
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, workerID string, apply func(*latchRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.latches[id]
	if !ok {
		return grantkit.ErrLatchNotFound
	}
	if rec.latch.State != grantkit.LatchClaimed || rec.latch.Owner != workerID {
		return grantkit.ErrLatchState
	}
	apply(rec)
	return nil
}

// ListLatches returns one page of latches by effective state: a claimed
// latch with a lapsed lease is reported as pending.
func (s *Store) ListLatches(ctx context.Context, filter grantkit.LatchFilter, pageSize int, token string) (grantkit.LatchPage, error) {
	if err := ctx.Err(); err != nil {
		return grantkit.LatchPage{}, err
	}
	if pageSize <= 0 {
		return grantkit.LatchPage{}, grantkit.ErrPageSize
	}
	fp := filter.Fingerprint()
	after, err := s.decodePosition(token, fp)
	if err != nil {
		return grantkit.LatchPage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	var page grantkit.LatchPage
	start := sort.Search(len(s.latchOrder), func(i int) bool { return s.latchOrder[i].seq > after })
	for i := start; i < len(s.latchOrder); i++ {
		rec := s.latchOrder[i]
		view := effectiveView(rec.latch, now)
		if filter.State != nil && view.State != *filter.State {
			continue
		}
		page.Latches = append(page.Latches, view)
		if len(page.Latches) == pageSize {
			if i+1 < len(s.latchOrder) {
				next, err := s.cursors.Encode(fp, strconv.FormatUint(rec.seq, 10))
				if err != nil {
					return grantkit.LatchPage{}, err
				}
				page.NextToken = next
			}
			return page, nil
		}
	}
	return page, nil
}

func effectiveView(l grantkit.Latch, now time.Time) grantkit.Latch {
	if l.Expired(now) {
		l.State = grantkit.LatchPending
		l.Owner = ""
		l.Expiry = time.Time{}
	}
	return l
}

func (s *Store) decodePosition(token, fingerprint string) (uint64, error) {
	if token == "" {
		return 0, nil
	}
	pos, err := s.cursors.Decode(token, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", grantkit.ErrTokenInvalid, err)
	}
	after, err := strconv.ParseUint(pos, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad position", grantkit.ErrTokenInvalid)
	}
	return after, nil
}
