package prices

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// Notifier receives the product ids whose cached price changed
type Notifier interface {
	Enqueue(productID int64) bool
}

// Marker records products that need a cold-store append
type Marker interface {
	MarkDirty(productID int64)
}

// Cache is the hot product -> latest tick map. Reads are lock-free;
// writes are single-key compare-and-swap upserts. Entries are never
// evicted, only surfaced as stale once they outlive the threshold.
type Cache struct {
	entries    sync.Map // int64 -> *entry
	staleAfter time.Duration

	notifier Notifier
	marker   Marker
	metrics  *monitor.Metrics
	logger   *logrus.Entry

	size atomic.Int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

type entry struct {
	tick types.PriceTick
}

// NewCache creates a price cache. notifier and marker receive change
// events on every accepted put.
func NewCache(staleAfter time.Duration, notifier Notifier, marker Marker, metrics *monitor.Metrics) *Cache {
	return &Cache{
		staleAfter: staleAfter,
		notifier:   notifier,
		marker:     marker,
		metrics:    metrics,
		logger:     logrus.WithField("component", "price-cache"),
		stopChan:   make(chan struct{}),
	}
}

// Put stores a tick if it supersedes the cached one and reports
// whether the stored entry changed. An accepted put is the single
// source of change notifications: it enqueues the product for
// revaluation and marks it dirty for persistence. Re-applying the
// identical tick is a no-op.
func (c *Cache) Put(tick types.PriceTick) bool {
	tick.Stale = time.Since(tick.Timestamp) > c.staleAfter
	nw := &entry{tick: tick}

	for {
		cur, loaded := c.entries.Load(tick.ProductID)
		if !loaded {
			if _, raced := c.entries.LoadOrStore(tick.ProductID, nw); raced {
				continue
			}
			c.size.Add(1)
			c.metrics.PriceCacheSize.Inc()
			break
		}

		cached := cur.(*entry).tick
		if !c.supersedes(tick, cached) {
			return false
		}
		if c.entries.CompareAndSwap(tick.ProductID, cur, nw) {
			break
		}
		// lost a race for this key, re-evaluate against the winner
	}

	c.logger.Debugf("Stored price for product %d at priority %d", tick.ProductID, tick.SourcePriority)
	if c.marker != nil {
		c.marker.MarkDirty(tick.ProductID)
	}
	if c.notifier != nil {
		c.notifier.Enqueue(tick.ProductID)
	}
	return true
}

// supersedes applies the replacement rule: later timestamps win, equal
// timestamps resolve to the better (lower) source priority, and a
// worse source can only replace a newer-stamped entry once the cached
// one has gone stale.
func (c *Cache) supersedes(incoming, cached types.PriceTick) bool {
	if incoming.Timestamp.Before(cached.Timestamp) {
		return false
	}
	if incoming.Timestamp.Equal(cached.Timestamp) {
		return incoming.SourcePriority < cached.SourcePriority
	}
	if incoming.SourcePriority <= cached.SourcePriority {
		return true
	}
	return time.Since(cached.Timestamp) > c.staleAfter
}

// Get returns the cached tick with its staleness computed at read time
func (c *Cache) Get(productID int64) (types.PriceTick, bool) {
	cur, ok := c.entries.Load(productID)
	if !ok {
		return types.PriceTick{}, false
	}
	tick := cur.(*entry).tick
	if time.Since(tick.Timestamp) > c.staleAfter {
		tick.Stale = true
	}
	return tick, true
}

// BulkGet returns the cached ticks for the given ids, skipping misses
func (c *Cache) BulkGet(ids []int64) map[int64]types.PriceTick {
	result := make(map[int64]types.PriceTick, len(ids))
	for _, id := range ids {
		if tick, ok := c.Get(id); ok {
			result[id] = tick
		}
	}
	return result
}

// Load warms the cache from a snapshot without raising change events
func (c *Cache) Load(ticks []types.PriceTick) {
	for _, tick := range ticks {
		if _, raced := c.entries.LoadOrStore(tick.ProductID, &entry{tick: tick}); !raced {
			c.size.Add(1)
			c.metrics.PriceCacheSize.Inc()
		}
	}
}

// Dump returns every cached tick for snapshotting
func (c *Cache) Dump() []types.PriceTick {
	var ticks []types.PriceTick
	c.entries.Range(func(_, v interface{}) bool {
		ticks = append(ticks, v.(*entry).tick)
		return true
	})
	return ticks
}

// Len returns the number of cached products
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// StartScanner begins the periodic pass that promotes entries past the
// threshold to stale and refreshes the stale-count gauge
func (c *Cache) StartScanner(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.scan()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the scanner
func (c *Cache) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Cache) scan() {
	var stale int64

	c.entries.Range(func(k, v interface{}) bool {
		cur := v.(*entry)
		if time.Since(cur.tick.Timestamp) <= c.staleAfter {
			return true
		}
		stale++
		if cur.tick.Stale {
			return true
		}
		promoted := cur.tick
		promoted.Stale = true
		// a concurrent put replacing the entry keeps its own flag
		c.entries.CompareAndSwap(k, v, &entry{tick: promoted})
		return true
	})

	c.metrics.PriceCacheStale.Set(float64(stale))
	if stale > 0 {
		c.logger.Debugf("Stale scan promoted to %d stale entries", stale)
	}
}
