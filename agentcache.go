// Package agentcache provides a top-level convenience entry point for
// assembling the caching and state-persistence stack with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentcache"
//
//	stack, err := agentcache.New()
//	stack, err := agentcache.New(agentcache.WithConfig(cfg), agentcache.WithStateStore(store))
//
// Components can always be constructed individually from their own
// packages; the stack just wires the common composition.
package agentcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcache/config"
	"github.com/BaSui01/agentcache/internal/metrics"
	"github.com/BaSui01/agentcache/pool"
	"github.com/BaSui01/agentcache/querycache"
	"github.com/BaSui01/agentcache/state"
)

// Stack bundles the wired components.
type Stack struct {
	QueryCache  *querycache.QueryCache
	Pool        *pool.RequestPool
	Persistence *state.StatePersistence

	redis     *redis.Client
	ownsRedis bool
}

type options struct {
	cfg        config.Config
	logger     *zap.Logger
	redis      *redis.Client
	store      state.StateStore
	registerer prometheus.Registerer
	noMetrics  bool
}

// Option configures the stack created by [New].
type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRedisClient injects an existing Redis client instead of opening
// one from the configuration. The caller keeps ownership.
func WithRedisClient(rdb *redis.Client) Option {
	return func(o *options) { o.redis = rdb }
}

// WithStateStore sets the durable state store. Defaults to an
// in-memory store; production deployments pass a GormStateStore.
func WithStateStore(store state.StateStore) Option {
	return func(o *options) { o.store = store }
}

// WithRegisterer sets the Prometheus registerer for the stack metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithoutMetrics disables Prometheus registration entirely.
func WithoutMetrics() Option {
	return func(o *options) { o.noMetrics = true }
}

// New assembles a Stack.
func New(opts ...Option) (*Stack, error) {
	o := options{
		cfg:    config.Default(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var collector *metrics.Collector
	if !o.noMetrics {
		collector = metrics.NewCollector(o.cfg.MetricsNamespace, o.registerer, o.logger)
	}

	rdb := o.redis
	ownsRedis := false
	if rdb == nil {
		rdb = config.NewRedisClient(o.cfg.Redis)
		ownsRedis = true
	}

	store := o.store
	if store == nil {
		store = state.NewMemoryStateStore()
	}

	return &Stack{
		QueryCache:  querycache.New(rdb, o.cfg.QueryCache, o.logger, querycache.WithCollector(collector)),
		Pool:        pool.New(o.cfg.Pool, o.logger),
		Persistence: state.NewStatePersistence(store, o.cfg.State.Optimizer, o.logger, collector),
		redis:       rdb,
		ownsRedis:   ownsRedis,
	}, nil
}

// Redis returns the shared Redis client.
func (s *Stack) Redis() *redis.Client {
	return s.redis
}

// Close shuts the stack down, closing the Redis client only when the
// stack opened it.
func (s *Stack) Close() error {
	s.QueryCache.Close()
	if s.ownsRedis {
		return s.redis.Close()
	}
	return nil
}
