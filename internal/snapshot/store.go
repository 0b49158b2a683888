package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/fx"
	"github.com/bdpgmbv/rtve/internal/positions"
	"github.com/bdpgmbv/rtve/internal/prices"
	"github.com/bdpgmbv/rtve/pkg/types"
)

const (
	keyPrices    = "rtve:snapshot:prices"
	keyFx        = "rtve:snapshot:fx"
	keyPositions = "rtve:snapshot:positions"
)

const saveTimeout = 5 * time.Second

// KV is the slice of the Redis API the snapshotter uses
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store saves cache contents to Redis on a cadence and warms them back
// at startup. Redis is a best-effort accelerator: when it is missing
// or unreachable the engine starts cold and rebuilds from the streams.
type Store struct {
	client    KV
	prices    *prices.Cache
	fx        *fx.Cache
	positions *positions.Cache
	period    time.Duration

	logger   *logrus.Entry
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewStore(client KV, priceCache *prices.Cache, fxCache *fx.Cache, positionCache *positions.Cache, period time.Duration) *Store {
	return &Store{
		client:    client,
		prices:    priceCache,
		fx:        fxCache,
		positions: positionCache,
		period:    period,
		logger:    logrus.WithField("component", "snapshot"),
		stopChan:  make(chan struct{}),
	}
}

// Warm loads the caches from the last snapshot. Warming never fails:
// anything missing or unreadable is logged and skipped.
func (s *Store) Warm(ctx context.Context) {
	s.warmPrices(ctx)
	s.warmFx(ctx)
	s.warmPositions(ctx)
}

func (s *Store) warmPrices(ctx context.Context) {
	var ticks []types.PriceTick
	if !s.fetch(ctx, keyPrices, &ticks) {
		return
	}
	s.prices.Load(ticks)
	// rebuild the currency index so rate changes ripple immediately
	for _, tick := range ticks {
		s.fx.RegisterProductCurrency(tick.ProductID, tick.Currency)
	}
	s.logger.Infof("Warmed %d prices from snapshot", len(ticks))
}

func (s *Store) warmFx(ctx context.Context) {
	var rates []types.FxRate
	if !s.fetch(ctx, keyFx, &rates) {
		return
	}
	s.fx.Load(rates)
	s.logger.Infof("Warmed %d fx rates from snapshot", len(rates))
}

func (s *Store) warmPositions(ctx context.Context) {
	var snaps []types.PositionSnapshot
	if !s.fetch(ctx, keyPositions, &snaps) {
		return
	}
	s.positions.Load(snaps)
	s.logger.Infof("Warmed positions for %d accounts from snapshot", len(snaps))
}

func (s *Store) fetch(ctx context.Context, key string, out interface{}) bool {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.logger.Infof("No snapshot at %s, starting cold", key)
		return false
	}
	if err != nil {
		s.logger.Warnf("Snapshot fetch for %s failed, starting cold: %v", key, err)
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		s.logger.Warnf("Snapshot at %s is unreadable, starting cold: %v", key, err)
		return false
	}
	return true
}

// Save writes the current cache contents to Redis
func (s *Store) Save(ctx context.Context) error {
	var firstErr error
	for _, part := range []struct {
		key   string
		value interface{}
	}{
		{keyPrices, s.prices.Dump()},
		{keyFx, s.fx.Dump()},
		{keyPositions, s.positions.Dump()},
	} {
		payload, err := json.Marshal(part.value)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %s: %w", part.key, err)
		}
		if err := s.client.Set(ctx, part.key, payload, 0).Err(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to save snapshot %s: %w", part.key, err)
			}
		}
	}
	return firstErr
}

// Start saves periodically until Stop
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.saveWithTimeout()
			case <-s.stopChan:
				return
			}
		}
	}()
	s.logger.Infof("Snapshotter started, period %s", s.period)
}

// Stop halts the ticker and takes a final snapshot
func (s *Store) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.saveWithTimeout()
	s.logger.Info("Snapshotter stopped")
}

func (s *Store) saveWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.Save(ctx); err != nil {
		s.logger.Warnf("Snapshot save failed: %v", err)
	}
}
