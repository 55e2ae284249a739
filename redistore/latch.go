package redistore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/internal/partition"
)

func (s *Store) latchKey(id string) string { return s.prefix + ":l:" + id }
func (s *Store) latchKeyPrefix() string    { return s.prefix + ":l:" }
func (s *Store) latchSeqKey() string       { return s.prefix + ":lseq" }
func (s *Store) latchZKey() string         { return s.prefix + ":lz" }
func (s *Store) latchPendingZKey() string  { return s.prefix + ":lz:pending" }
func (s *Store) latchClaimedZKey() string  { return s.prefix + ":lz:claimed" }

// CreateLatches cuts the grant keyspace into `partitions` pending latches.
func (s *Store) CreateLatches(ctx context.Context, partitions int) ([]uuid.UUID, error) {
	if partitions <= 0 {
		return nil, grantkit.ErrPartitionCount
	}

	now := s.now().UTC()
	ids := make([]uuid.UUID, 0, partitions)
	for i := 0; i < partitions; i++ {
		id := uuid.New()
		err := createLatchLua.Run(ctx, s.rdb,
			[]string{s.latchSeqKey(), s.latchKey(id.String()), s.latchZKey(), s.latchPendingZKey()},
			id.String(), partition.Descriptor(i, partitions), now.UnixMilli(),
		).Err()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ClaimLatch atomically claims the oldest claimable latch: pending, or
// claimed with a lapsed lease. A nil latch with a nil error means nothing
// was claimable.
func (s *Store) ClaimLatch(ctx context.Context, workerID string, lease time.Duration) (*grantkit.Latch, error) {
	if lease <= 0 {
		return nil, grantkit.ErrLeaseDuration
	}

	now := s.now().UTC()
	res, err := claimLatchLua.Run(ctx, s.rdb,
		[]string{s.latchPendingZKey(), s.latchClaimedZKey()},
		s.latchKeyPrefix(), now.UnixMilli(), workerID, now.Add(lease).UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		// Script returned false: no claimable latch.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	fields, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("claim returned %T, want field list", res)
	}
	latch, err := parseLatchFields(fields)
	if err != nil {
		return nil, err
	}
	return &latch, nil
}

// CompleteLatch marks a latch done. The latch must still be claimed by
// workerID; a latch reclaimed after lease expiry has a new owner and the
// original worker's completion is rejected.
func (s *Store) CompleteLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	res, err := completeLatchLua.Run(ctx, s.rdb,
		[]string{s.latchKey(id.String()), s.latchClaimedZKey()},
		workerID, id.String(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return latchTransitionErr(res)
}

// FailLatch reverts a claimed latch to pending and increments its retry
// count, making the partition immediately reclaimable.
func (s *Store) FailLatch(ctx context.Context, id uuid.UUID, workerID string) error {
	res, err := failLatchLua.Run(ctx, s.rdb,
		[]string{s.latchKey(id.String()), s.latchClaimedZKey(), s.latchPendingZKey()},
		workerID, id.String(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return latchTransitionErr(res)
}

func latchTransitionErr(code int64) error {
	switch code {
	case 0:
		return nil
	case 1:
		return grantkit.ErrLatchNotFound
	default:
		return grantkit.ErrLatchState
	}
}

// ListLatches returns one page of latches by effective state: a claimed
// latch with a lapsed lease is reported as pending.
func (s *Store) ListLatches(ctx context.Context, filter grantkit.LatchFilter, pageSize int, token string) (grantkit.LatchPage, error) {
	if pageSize <= 0 {
		return grantkit.LatchPage{}, grantkit.ErrPageSize
	}
	fp := filter.Fingerprint()
	after, err := s.decodePosition(token, fp)
	if err != nil {
		return grantkit.LatchPage{}, err
	}

	now := s.now().UTC()
	var page grantkit.LatchPage
	for {
		members, err := s.rdb.ZRangeByScoreWithScores(ctx, s.latchZKey(), &redis.ZRangeBy{
			Min:   "(" + strconv.FormatUint(after, 10),
			Max:   "+inf",
			Count: int64(pageSize),
		}).Result()
		if err != nil {
			return grantkit.LatchPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(members) == 0 {
			return page, nil
		}

		pipe := s.rdb.Pipeline()
		hashCmds := make([]*redis.MapStringStringCmd, len(members))
		for i, m := range members {
			hashCmds[i] = pipe.HGetAll(ctx, s.latchKey(m.Member.(string)))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return grantkit.LatchPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for i, m := range members {
			seq := uint64(m.Score)
			after = seq

			fields, err := hashCmds[i].Result()
			if err != nil {
				return grantkit.LatchPage{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if len(fields) == 0 {
				continue
			}
			latch, err := parseLatchMap(fields)
			if err != nil {
				return grantkit.LatchPage{}, err
			}
			if latch.Expired(now) {
				latch.State = grantkit.LatchPending
				latch.Owner = ""
				latch.Expiry = time.Time{}
			}
			if filter.State != nil && latch.State != *filter.State {
				continue
			}
			page.Latches = append(page.Latches, latch)
			if len(page.Latches) == pageSize {
				next, err := s.cursors.Encode(fp, strconv.FormatUint(seq, 10))
				if err != nil {
					return grantkit.LatchPage{}, err
				}
				page.NextToken = next
				return page, nil
			}
		}
	}
}

func parseLatchFields(raw []interface{}) (grantkit.Latch, error) {
	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, kok := raw[i].(string)
		v, vok := raw[i+1].(string)
		if !kok || !vok {
			return grantkit.Latch{}, fmt.Errorf("latch field %d is %T, want string", i, raw[i])
		}
		fields[k] = v
	}
	return parseLatchMap(fields)
}

func parseLatchMap(fields map[string]string) (grantkit.Latch, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return grantkit.Latch{}, fmt.Errorf("decode latch id %q: %w", fields["id"], err)
	}
	state, err := grantkit.ParseLatchState(fields["state"])
	if err != nil {
		return grantkit.Latch{}, fmt.Errorf("decode latch %s: %w", id, err)
	}
	retry, err := strconv.Atoi(fields["retry"])
	if err != nil {
		return grantkit.Latch{}, fmt.Errorf("decode latch %s retry: %w", id, err)
	}

	latch := grantkit.Latch{
		ID:        id,
		Partition: fields["partition"],
		State:     state,
		Owner:     fields["owner"],
		Retry:     retry,
	}
	if ms, err := strconv.ParseInt(fields["expiry"], 10, 64); err == nil && ms > 0 {
		latch.Expiry = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["created"], 10, 64); err == nil && ms > 0 {
		latch.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return latch, nil
}
