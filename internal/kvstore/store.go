// Package kvstore wraps an opaque external key/value store behind a
// thin adapter providing retry, write throttling, circuit breaking,
// and an optional read-through LRU cache. The store itself (e.g. a
// hosted datastore service) is treated as a black box per the
// runtime's scope: only Get/Set/Delete are required of it.
package kvstore

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	rterrors "github.com/iKryptonic/RBXStateMachine/internal/errors"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// ErrNotFound is returned by the underlying Store when a key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the abstract external key/value backend. Implementations
// are opaque to the runtime; a process memory map, a hosted
// datastore, or a Redis client can all satisfy it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Config tunes the adapter's resilience and caching behavior.
type Config struct {
	Retry          rterrors.RetryConfig
	CircuitBreaker rterrors.CircuitBreakerConfig
	// WriteRateLimit throttles Set/Delete calls per second; zero
	// disables throttling.
	WriteRateLimit rate.Limit
	WriteBurst     int
	// CacheSize bounds the read-through LRU; zero disables caching.
	CacheSize int
}

// DefaultConfig mirrors the defaults used elsewhere in the runtime.
func DefaultConfig() Config {
	breakerConfig := rterrors.DefaultCircuitBreakerConfig()
	// Get/Set/Delete wrap every backend failure as TransientError
	// before it reaches the breaker (see RetryWithLog below), so every
	// backend failure counts against the backing store's health, a
	// store rejecting a caller's own bad key/value included. IsTransient
	// keeps out only errors that are not transient, such as a
	// cancelled context.
	breakerConfig.ShouldTrip = rterrors.IsTransient
	return Config{
		Retry:          rterrors.DefaultRetryConfig(),
		CircuitBreaker: breakerConfig,
		WriteRateLimit: 50,
		WriteBurst:     10,
		CacheSize:      1024,
	}
}

// Adapter sits between the Persistence Controller and the abstract
// Store, handling retry/throttle and an optional read-through cache.
type Adapter struct {
	store    Store
	config   Config
	logger   logging.Logger
	breaker  *rterrors.CircuitBreaker
	limiter  *rate.Limiter
	cache    *lru.Cache[string, string]
}

// New builds an Adapter in front of store.
func New(name string, store Store, config Config, logger logging.Logger) *Adapter {
	logger = logging.OrNop(logger)

	a := &Adapter{
		store:   store,
		config:  config,
		logger:  logger,
		breaker: rterrors.NewCircuitBreaker(name, config.CircuitBreaker),
	}
	if config.WriteRateLimit > 0 {
		a.limiter = rate.NewLimiter(config.WriteRateLimit, config.WriteBurst)
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[string, string](config.CacheSize)
		if err != nil {
			logger.Warn("kvstore: failed to init read-through cache: %v", err)
		} else {
			a.cache = cache
		}
	}
	return a
}

// Get fetches key, consulting the read-through cache first and
// retrying transient failures against the backing store.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			return v, true, nil
		}
	}

	if err := a.breaker.Allow(); err != nil {
		return "", false, err
	}

	var value string
	var found = true
	err := rterrors.RetryWithLog(ctx, a.config.Retry, func(ctx context.Context) error {
		v, err := a.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return rterrors.NewTransientError(err, "kvstore get failed")
		}
		value = v
		return nil
	}, a.logger)
	a.breaker.Mark(err)
	if err != nil {
		return "", false, err
	}

	if found && a.cache != nil {
		a.cache.Add(key, value)
	}
	return value, found, nil
}

// Set writes key/value, rate limiting and retrying as configured.
// A successful write invalidates (refreshes) the cache entry.
func (a *Adapter) Set(ctx context.Context, key, value string) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := a.breaker.Allow(); err != nil {
		return err
	}

	err := rterrors.RetryWithLog(ctx, a.config.Retry, func(ctx context.Context) error {
		if err := a.store.Set(ctx, key, value); err != nil {
			return rterrors.NewTransientError(err, "kvstore set failed")
		}
		return nil
	}, a.logger)
	a.breaker.Mark(err)
	if err != nil {
		return err
	}

	if a.cache != nil {
		a.cache.Add(key, value)
	}
	return nil
}

// Delete removes key and evicts it from the cache regardless of
// whether the backing store call succeeds, since a failed delete is
// still retried and the cache should not mask that.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := a.breaker.Allow(); err != nil {
		return err
	}

	err := rterrors.RetryWithLog(ctx, a.config.Retry, func(ctx context.Context) error {
		if err := a.store.Delete(ctx, key); err != nil {
			return rterrors.NewTransientError(err, "kvstore delete failed")
		}
		return nil
	}, a.logger)
	a.breaker.Mark(err)

	if a.cache != nil {
		a.cache.Remove(key)
	}
	return err
}

// CacheLen reports how many entries are currently cached (0 when
// caching is disabled), useful for tests and metrics.
func (a *Adapter) CacheLen() int {
	if a.cache == nil {
		return 0
	}
	return a.cache.Len()
}
