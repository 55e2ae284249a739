package grantkit

import "time"

// Config groups engine tunables. Zero values are replaced with defaults at
// Build time; a Config is never mutated after the engine is constructed.
type Config struct {
	Pagination PaginationConfig
	Latch      LatchConfig
	Trail      TrailConfig
	Metrics    MetricsConfig
}

// PaginationConfig bounds page sizes for authorize-internal pagination and
// for audit listings.
type PaginationConfig struct {
	// PageSize is the page size the engine uses for its internal listing
	// loops and as the audit default when the caller passes 0.
	PageSize int
	// MaxPageSize caps caller-supplied audit page sizes.
	MaxPageSize int
}

// LatchConfig tunes the latch coordinator.
type LatchConfig struct {
	// Lease is how long a claim remains exclusive before a crashed worker's
	// latch becomes reclaimable.
	Lease time.Duration
	// PageSize is the partition-scan page size used by workers.
	PageSize int
}

// TrailConfig controls the asynchronous decision-trail dispatcher.
type TrailConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	// Drops are counted and visible via [Engine.TrailDropped].
	DropIfFull bool
}

// MetricsConfig controls the engine counter set.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms additionally records the Authorize latency
	// histogram.
	EnableLatencyHistograms bool
}

const (
	defaultPageSize    = 100
	defaultMaxPageSize = 1000
	defaultLatchLease  = 30 * time.Second
	defaultTrailBuffer = 256
)

// DefaultConfig returns the baseline configuration the Builder starts from:
// trail and metrics enabled, latency histograms off, drop-if-full trail
// backpressure. Callers tweak fields and pass the result to
// [Builder.WithConfig].
func DefaultConfig() Config {
	return Config{
		Pagination: PaginationConfig{
			PageSize:    defaultPageSize,
			MaxPageSize: defaultMaxPageSize,
		},
		Latch: LatchConfig{
			Lease:    defaultLatchLease,
			PageSize: defaultPageSize,
		},
		Trail: TrailConfig{
			Enabled:    true,
			BufferSize: defaultTrailBuffer,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// normalize fills zero fields with defaults and clamps inconsistent values.
func (c Config) normalize() Config {
	if c.Pagination.PageSize <= 0 {
		c.Pagination.PageSize = defaultPageSize
	}
	if c.Pagination.MaxPageSize <= 0 {
		c.Pagination.MaxPageSize = defaultMaxPageSize
	}
	if c.Pagination.PageSize > c.Pagination.MaxPageSize {
		c.Pagination.PageSize = c.Pagination.MaxPageSize
	}
	if c.Latch.Lease <= 0 {
		c.Latch.Lease = defaultLatchLease
	}
	if c.Latch.PageSize <= 0 {
		c.Latch.PageSize = c.Pagination.PageSize
	}
	if c.Trail.Enabled && c.Trail.BufferSize <= 0 {
		c.Trail.BufferSize = defaultTrailBuffer
	}
	return c
}
