package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/memstore"
	"github.com/grantkit/grantkit/redistore"
)

func main() {
	var (
		grants      = flag.Int("grants", 10000, "number of grants to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "authorize operations")
		partitions  = flag.Int("partitions", 64, "latch partitions for the sweep phase")
		backend     = flag.String("backend", "redis", "storage backend: redis or mem")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gk", "redis key prefix")
	)
	flag.Parse()

	if *grants <= 0 || *concurrency <= 0 || *ops <= 0 || *partitions <= 0 {
		fmt.Fprintln(os.Stderr, "grants, concurrency, ops, and partitions must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	store, cleanup, err := buildStorage(*backend, *redisAddr, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage setup failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := grantkit.New().WithStorage(store).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d grants...\n", *grants)
	startSeed := time.Now()
	if err := seedGrants(ctx, engine, *grants); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorizeStats := runAuthorizePhase(ctx, engine, *grants, *ops, *concurrency)
	sweepStats, scanned := runSweepPhase(ctx, engine, *partitions, *concurrency)

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("sweep", sweepStats)
	fmt.Printf("sweep scanned %d grants across %d partitions\n", scanned, *partitions)
}

func buildStorage(backend, redisAddr, prefix string) (grantkit.Storage, func(), error) {
	if backend == "mem" {
		return memstore.New(), func() {}, nil
	}

	addr := redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return redistore.New(client, prefix), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	fmt.Printf("using redis at %s\n", addr)
	return redistore.New(client, prefix), func() { _ = client.Close() }, nil
}

// seedGrants writes a mixed population: mostly exact allow grants, a slice
// of wildcard allows, and a small band of deny grants so the authorize
// phase exercises the deny pass.
func seedGrants(ctx context.Context, engine *grantkit.Engine, n int) error {
	for i := 0; i < n; i++ {
		var (
			grant grantkit.Grant
			err   error
		)
		switch {
		case i%20 == 0:
			grant, err = grantkit.NewGrant(grantkit.EffectDeny,
				"doc:delete", fmt.Sprintf("file:%d", i), "user:*", "")
		case i%5 == 0:
			grant, err = grantkit.NewGrant(grantkit.EffectAllow,
				"doc:*", fmt.Sprintf("file:%d", i), fmt.Sprintf("user:%d", i%1000), "")
		default:
			grant, err = grantkit.NewGrant(grantkit.EffectAllow,
				"doc:read", fmt.Sprintf("file:%d", i), fmt.Sprintf("user:%d", i%1000), "")
		}
		if err != nil {
			return err
		}
		if _, err := engine.CreateGrant(ctx, grant); err != nil {
			return err
		}
	}
	return nil
}

func runAuthorizePhase(ctx context.Context, engine *grantkit.Engine, grants, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(grants)
				req := grantkit.Request{
					Principal: fmt.Sprintf("user:%d", idx%1000),
					Action:    "doc:read",
					Resource:  fmt.Sprintf("file:%d", idx),
				}
				t0 := time.Now()
				_, err := engine.Authorize(ctx, req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runSweepPhase(ctx context.Context, engine *grantkit.Engine, partitions, concurrency int) (phaseStats, int64) {
	if _, err := engine.CreateLatches(ctx, partitions); err != nil {
		fmt.Fprintf(os.Stderr, "create latches failed: %v\n", err)
		os.Exit(1)
	}

	var (
		wg       sync.WaitGroup
		scanned  int64
		failures int64
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			id := fmt.Sprintf("sweeper-%d", worker)
			handler := func(_ context.Context, _ grantkit.Latch, grants []grantkit.Grant) error {
				atomic.AddInt64(&scanned, int64(len(grants)))
				return nil
			}
			report, err := engine.NewWorker(id, handler).Run(ctx)
			if err != nil {
				atomic.AddInt64(&failures, 1)
			}
			atomic.AddInt64(&failures, int64(report.Failed))
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	return phaseStats{
		total:    total,
		ops:      partitions,
		failures: failures,
		opsPerS:  float64(partitions) / total.Seconds(),
	}, scanned
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
