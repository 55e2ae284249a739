package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/internal/cursor"
	"github.com/grantkit/grantkit/internal/partition"
	"github.com/grantkit/grantkit/match"
)

const backendName = "redistore"

// ErrRedisUnavailable wraps Redis transport failures so callers can
// distinguish backend outage from contract errors.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is the Redis implementation of [grantkit.Storage].
//
// Grants are JSON blobs in per-grant hashes, indexed by three sequence
// ZSETs (all grants plus one per effect); the sequence counter gives the
// stable listing order the contract requires. Latches are hashes indexed by
// a pending ZSET (by sequence) and a claimed ZSET (by lease expiry), and
// every latch transition runs as a Lua script so the at-most-one-claimant
// invariant holds across processes and machines. The current time is always
// passed into scripts from the caller; nothing depends on the Redis server
// clock.
//
// Pagination is live, matching memstore: a static grant set is enumerated
// completely and without duplicates, concurrent mutation is best-effort.
type Store struct {
	rdb     redis.UniversalClient
	prefix  string
	cursors *cursor.Codec
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTokenKey sets a stable continuation-token signing key so tokens
// survive process restarts. Without it each Store instance signs with a
// fresh random key.
func WithTokenKey(key []byte) Option {
	return func(s *Store) {
		s.cursors = cursor.New(backendName, key)
	}
}

// WithClock overrides the time source used for latch leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a store on the given client. An empty prefix defaults to "gk".
func New(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "gk"
	}
	s := &Store{
		rdb:     client,
		prefix:  prefix,
		cursors: cursor.New(backendName, nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) grantKey(id string) string  { return s.prefix + ":g:" + id }
func (s *Store) grantSeqKey() string        { return s.prefix + ":gseq" }
func (s *Store) grantZKey() string          { return s.prefix + ":gz" }
func (s *Store) grantEffectZKey(e grantkit.Effect) string {
	return s.prefix + ":gz:" + e.String()
}

// CreateGrant stores a grant, minting an ID when the grant's is zero. The
// existence check and the index writes run in one Lua script, so concurrent
// creates of the same ID race safely.
func (s *Store) CreateGrant(ctx context.Context, grant grantkit.Grant) (uuid.UUID, error) {
	if err := grant.Validate(); err != nil {
		return uuid.Nil, err
	}
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = s.now().UTC()
	}

	blob, err := json.Marshal(grant)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode grant: %w", err)
	}

	id := grant.ID.String()
	res, err := createGrantLua.Run(ctx, s.rdb,
		[]string{s.grantKey(id), s.grantSeqKey(), s.grantZKey(), s.grantEffectZKey(grant.Effect)},
		id, string(blob), grant.Effect.String(),
	).Int64()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res < 0 {
		return uuid.Nil, grantkit.ErrGrantExists
	}
	return grant.ID, nil
}

// GetGrant returns the grant with the given ID.
func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (grantkit.Grant, error) {
	blob, err := s.rdb.HGet(ctx, s.grantKey(id.String()), "blob").Bytes()
	if errors.Is(err, redis.Nil) {
		return grantkit.Grant{}, grantkit.ErrGrantNotFound
	}
	if err != nil {
		return grantkit.Grant{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var grant grantkit.Grant
	if err := json.Unmarshal(blob, &grant); err != nil {
		return grantkit.Grant{}, fmt.Errorf("decode grant %s: %w", id, err)
	}
	return grant, nil
}

// DeleteGrant removes a grant and its index entries atomically. Deleting an
// absent ID reports ErrGrantNotFound, consistent with memstore.
func (s *Store) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	idStr := id.String()
	res, err := deleteGrantLua.Run(ctx, s.rdb,
		[]string{
			s.grantKey(idStr),
			s.grantZKey(),
			s.grantEffectZKey(grantkit.EffectAllow),
			s.grantEffectZKey(grantkit.EffectDeny),
		},
		idStr,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return grantkit.ErrGrantNotFound
	}
	return nil
}

// ListGrants returns one page of grants matching the filter.
func (s *Store) ListGrants(ctx context.Context, filter grantkit.GrantFilter, pageSize int, token string) (grantkit.GrantPage, error) {
	zkey := s.grantZKey()
	if filter.Effect != nil {
		zkey = s.grantEffectZKey(*filter.Effect)
	}
	return s.listGrants(ctx, zkey, filter.Fingerprint(), pageSize, token, func(g grantkit.Grant) (bool, error) {
		if filter.Action != "" {
			p, err := match.Compile(g.Action)
			if err != nil {
				return false, fmt.Errorf("%w: stored grant %s: %v", grantkit.ErrPatternSyntax, g.ID, err)
			}
			if !p.Match(filter.Action) {
				return false, nil
			}
		}
		if filter.Resource != "" {
			p, err := match.Compile(g.Resource)
			if err != nil {
				return false, fmt.Errorf("%w: stored grant %s: %v", grantkit.ErrPatternSyntax, g.ID, err)
			}
			if !p.Match(filter.Resource) {
				return false, nil
			}
		}
		return true, nil
	})
}

// ListPartition pages through the grants in one hash-bucket partition.
func (s *Store) ListPartition(ctx context.Context, descriptor string, pageSize int, token string) (grantkit.GrantPage, error) {
	index, count, err := partition.Parse(descriptor)
	if err != nil {
		return grantkit.GrantPage{}, fmt.Errorf("%w: %v", grantkit.ErrPartitionDescriptor, err)
	}
	fp := cursor.Fingerprint("partition", descriptor)
	return s.listGrants(ctx, s.grantZKey(), fp, pageSize, token, func(g grantkit.Grant) (bool, error) {
		return partition.Bucket(g.ID, count) == index, nil
	})
}

func (s *Store) listGrants(ctx context.Context, zkey, fingerprint string, pageSize int, token string, include func(grantkit.Grant) (bool, error)) (grantkit.GrantPage, error) {
	if pageSize <= 0 {
		return grantkit.GrantPage{}, grantkit.ErrPageSize
	}
	after, err := s.decodePosition(token, fingerprint)
	if err != nil {
		return grantkit.GrantPage{}, err
	}

	var page grantkit.GrantPage
	for {
		members, err := s.rdb.ZRangeByScoreWithScores(ctx, zkey, &redis.ZRangeBy{
			Min:   "(" + strconv.FormatUint(after, 10),
			Max:   "+inf",
			Count: int64(pageSize),
		}).Result()
		if err != nil {
			return grantkit.GrantPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(members) == 0 {
			return page, nil
		}

		pipe := s.rdb.Pipeline()
		blobCmds := make([]*redis.StringCmd, len(members))
		for i, m := range members {
			blobCmds[i] = pipe.HGet(ctx, s.grantKey(m.Member.(string)), "blob")
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return grantkit.GrantPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for i, m := range members {
			seq := uint64(m.Score)
			after = seq

			blob, err := blobCmds[i].Bytes()
			if errors.Is(err, redis.Nil) {
				// Deleted between the index read and the blob read.
				continue
			}
			if err != nil {
				return grantkit.GrantPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			var grant grantkit.Grant
			if err := json.Unmarshal(blob, &grant); err != nil {
				return grantkit.GrantPage{}, fmt.Errorf("decode grant %v: %w", m.Member, err)
			}

			ok, err := include(grant)
			if err != nil {
				return grantkit.GrantPage{}, err
			}
			if !ok {
				continue
			}
			page.Grants = append(page.Grants, grant)
			if len(page.Grants) == pageSize {
				// A page that fills on the last indexed grant ends the
				// iteration without a token, matching memstore.
				if i+1 == len(members) {
					more, err := s.rdb.ZRangeByScore(ctx, zkey, &redis.ZRangeBy{
						Min:   "(" + strconv.FormatUint(seq, 10),
						Max:   "+inf",
						Count: 1,
					}).Result()
					if err != nil {
						return grantkit.GrantPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					if len(more) == 0 {
						return page, nil
					}
				}
				next, err := s.cursors.Encode(fingerprint, strconv.FormatUint(seq, 10))
				if err != nil {
					return grantkit.GrantPage{}, err
				}
				page.NextToken = next
				return page, nil
			}
		}
	}
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
