package druginfo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/medsnap/rxscan/pkg/circuitbreaker"
	"github.com/medsnap/rxscan/pkg/workerpool"
)

// Observer records lookup outcomes per source.
type Observer interface {
	DrugLookup(source, result string)
}

// Lookup result labels.
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
	ResultCacheHit = "cache_hit"
)

// Validator runs the source chain with caching and per-source breakers.
type Validator struct {
	sources  []Source
	breakers map[string]*circuitbreaker.CircuitBreaker
	cache    Cache
	pool     *workerpool.Pool[string, *DrugInfo]
	observer Observer
	logger   *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(v *Validator) { v.cache = c }
}

// WithBreakers guards each source with the breaker of the same name from m.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(v *Validator) {
		for _, s := range v.sources {
			cb, err := m.GetOrCreate(s.Name(), circuitbreaker.DefaultConfig(s.Name()))
			if err != nil {
				v.logger.Warn("breaker unavailable", zap.String("source", s.Name()), zap.Error(err))
				continue
			}
			v.breakers[s.Name()] = cb
		}
	}
}

// WithObserver attaches a lookup observer.
func WithObserver(o Observer) Option {
	return func(v *Validator) { v.observer = o }
}

// NewValidator creates a validator and starts its batch worker pool. Sources
// are tried in order.
func NewValidator(sources []Source, poolCfg workerpool.Config, logger *zap.Logger, opts ...Option) (*Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		sources:  sources,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(v)
	}

	pool, err := workerpool.New(poolCfg, v.validateOne, logger)
	if err != nil {
		return nil, fmt.Errorf("create validation pool: %w", err)
	}
	pool.Start()
	v.pool = pool
	return v, nil
}

// Close stops the worker pool.
func (v *Validator) Close() error {
	return v.pool.Stop()
}

// Validate looks name up in the cache and then in each source. Unknown names
// yield the NotFound record. An error is returned only when every source
// failed; such results are not cached.
func (v *Validator) Validate(ctx context.Context, name string) (*DrugInfo, error) {
	key := CacheKey(name)
	if key == "" {
		return nil, ErrEmptyName
	}

	if v.cache != nil {
		info, ok, err := v.cache.Get(ctx, key)
		if err != nil {
			v.logger.Warn("drug cache read failed", zap.Error(err))
		} else if ok {
			v.observe("cache", ResultCacheHit)
			return info, nil
		}
	}

	var errs []error
	for _, src := range v.sources {
		info, err := v.lookup(ctx, src, name)
		if err != nil {
			v.observe(src.Name(), ResultError)
			v.logger.Warn("drug lookup failed",
				zap.String("source", src.Name()),
				zap.String("medicine", name),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if info == nil {
			v.observe(src.Name(), ResultNotFound)
			continue
		}
		v.observe(src.Name(), ResultFound)
		v.store(ctx, key, info)
		return info, nil
	}

	if len(v.sources) > 0 && len(errs) == len(v.sources) {
		return nil, fmt.Errorf("validate %q: %w", name, errors.Join(errs...))
	}

	info := NotFound(name)
	v.store(ctx, key, info)
	return info, nil
}

// ValidateAll validates every name on the worker pool. Lookup failures
// produce a not-validated entry instead of failing the batch.
func (v *Validator) ValidateAll(ctx context.Context, names []string) []BatchEntry {
	outcomes := v.pool.Map(ctx, names)
	out := make([]BatchEntry, len(names))
	for i, o := range outcomes {
		out[i].OriginalName = names[i]
		if o.Err == nil && o.Value != nil {
			out[i].DrugInfo = *o.Value
			continue
		}
		failed := NotFound(names[i])
		failed.GenericName = NotAvailable
		failed.Message = LookupFailMessage
		out[i].DrugInfo = *failed
	}
	return out
}

// validateOne is the pool function. Blank names in a batch are reported as
// not found rather than retried.
func (v *Validator) validateOne(ctx context.Context, name string) (*DrugInfo, error) {
	info, err := v.Validate(ctx, name)
	if errors.Is(err, ErrEmptyName) {
		return NotFound(name), nil
	}
	return info, err
}

func (v *Validator) lookup(ctx context.Context, src Source, name string) (*DrugInfo, error) {
	cb, ok := v.breakers[src.Name()]
	if !ok {
		return src.Lookup(ctx, name)
	}
	return circuitbreaker.Do(ctx, cb, func() (*DrugInfo, error) {
		return src.Lookup(ctx, name)
	})
}

func (v *Validator) store(ctx context.Context, key string, info *DrugInfo) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Set(ctx, key, info); err != nil {
		v.logger.Warn("drug cache write failed", zap.Error(err))
	}
}

func (v *Validator) observe(source, result string) {
	if v.observer != nil {
		v.observer.DrugLookup(source, result)
	}
}
