package grantkit

// Builder assembles an [Engine]. Configure it with the With* methods and
// call [Builder.Build] exactly once.
type Builder struct {
	config    Config
	storage   Storage
	trailSink TrailSink

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. Zero fields are filled with
// defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStorage sets the storage backend. Required.
func (b *Builder) WithStorage(s Storage) *Builder {
	b.storage = s
	return b
}

// WithTrailSink sets the sink receiving decision-trail events. Optional;
// without one, trail events are dropped by a no-op sink.
func (b *Builder) WithTrailSink(sink TrailSink) *Builder {
	b.trailSink = sink
	return b
}

// Build validates the configuration and constructs the engine. The returned
// engine owns the trail dispatcher; call [Engine.Close] on shutdown to
// flush it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrEngineNotReady
	}
	if b.storage == nil {
		return nil, ErrStorageRequired
	}
	b.built = true

	cfg := b.config.normalize()
	return &Engine{
		config:  cfg,
		storage: b.storage,
		trail:   newTrailDispatcher(cfg.Trail, b.trailSink),
		metrics: NewMetrics(cfg.Metrics),
	}, nil
}
