package coord

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/aws"
)

// FallbackStore routes calls to the shared primary store and degrades to a
// local MemoryStore while the primary is unavailable. Claims made during a
// degraded window are only deduplicated within this process.
type FallbackStore struct {
	primary  Store
	local    *MemoryStore
	logger   *log.Logger
	metrics  aws.Recorder
	degraded atomic.Bool
}

func NewFallbackStore(primary Store, local *MemoryStore, logger *log.Logger, metrics aws.Recorder) *FallbackStore {
	if metrics == nil {
		metrics = aws.NopRecorder{}
	}
	return &FallbackStore{
		primary: primary,
		local:   local,
		logger:  logger,
		metrics: metrics,
	}
}

// Degraded reports whether the last primary call failed with ErrUnavailable.
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FallbackStore) observe(ctx context.Context, err error) bool {
	if err != nil && errors.Is(err, ErrUnavailable) {
		if f.degraded.CompareAndSwap(false, true) {
			f.logger.Warn().Err(err).Msg("coordination store unavailable, using local fallback")
			f.metrics.Incr(ctx, aws.MetricCoordDegraded, nil)
		}
		return true
	}
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info().Msg("coordination store recovered")
	}
	return false
}

func (f *FallbackStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := f.primary.SetNX(ctx, key, value, ttl)
	if f.observe(ctx, err) {
		return f.local.SetNX(ctx, key, value, ttl)
	}
	return ok, err
}

func (f *FallbackStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := f.primary.Get(ctx, key)
	if f.observe(ctx, err) {
		return f.local.Get(ctx, key)
	}
	return val, found, err
}

func (f *FallbackStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if f.observe(ctx, err) {
		return f.local.Set(ctx, key, value, ttl)
	}
	return err
}

// Ping checks the primary and updates the degraded flag. It never fails;
// the local store is always reachable.
func (f *FallbackStore) Ping(ctx context.Context) error {
	f.observe(ctx, f.primary.Ping(ctx))
	return nil
}
