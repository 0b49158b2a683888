package fx

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// Notifier receives the product ids affected by a rate change
type Notifier interface {
	Enqueue(productID int64) bool
}

// Cache is the hot pair -> rate map plus the currency -> products
// reverse index that drives the ripple. Inverse rates are derived on
// read, never stored.
type Cache struct {
	rates        sync.Map // string pair -> *rateEntry
	baseCurrency string

	indexMu sync.RWMutex
	index   map[string]map[int64]struct{} // currency -> product set

	notifier Notifier
	metrics  *monitor.Metrics
	logger   *logrus.Entry

	size atomic.Int64
}

type rateEntry struct {
	rate types.FxRate
}

// NewCache creates an FX cache pivoting through baseCurrency
func NewCache(baseCurrency string, notifier Notifier, metrics *monitor.Metrics) *Cache {
	return &Cache{
		baseCurrency: strings.ToUpper(baseCurrency),
		index:        make(map[string]map[int64]struct{}),
		notifier:     notifier,
		metrics:      metrics,
		logger:       logrus.WithField("component", "fx-cache"),
	}
}

// Put stores a rate and ripples a recompute over every product whose
// issue currency is either side of the pair. Re-applying the identical
// rate is a no-op; an older rate for a cached pair is rejected.
func (c *Cache) Put(rate types.FxRate) bool {
	rate.Pair = strings.ToUpper(rate.Pair)
	nw := &rateEntry{rate: rate}

	for {
		cur, loaded := c.rates.Load(rate.Pair)
		if !loaded {
			if _, raced := c.rates.LoadOrStore(rate.Pair, nw); raced {
				continue
			}
			c.size.Add(1)
			c.metrics.FxCacheSize.Inc()
			break
		}

		cached := cur.(*rateEntry).rate
		if rate.Timestamp.Before(cached.Timestamp) {
			return false
		}
		if rate.Timestamp.Equal(cached.Timestamp) && rate.Rate.Equal(cached.Rate) {
			return false
		}
		if c.rates.CompareAndSwap(rate.Pair, cur, nw) {
			break
		}
	}

	c.logger.Debugf("Stored rate %s=%s", rate.Pair, rate.Rate)
	c.ripple(rate.Base(), rate.Quote())
	return true
}

// ripple enqueues every product issued in either currency
func (c *Cache) ripple(currencies ...string) {
	if c.notifier == nil {
		return
	}
	seen := make(map[int64]struct{})
	for _, ccy := range currencies {
		for _, productID := range c.ProductsFor(ccy) {
			if _, dup := seen[productID]; dup {
				continue
			}
			seen[productID] = struct{}{}
			c.notifier.Enqueue(productID)
		}
	}
}

// Convert resolves from -> to through, in order: identity, the direct
// pair, the inverse pair, triangulation through the base currency, and
// finally 1.0 with a warning. The fallback keeps the hot path alive on
// missing market data; the counter makes it visible.
func (c *Cache) Convert(from, to string) decimal.Decimal {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		return decimal.NewFromInt(1)
	}

	if rate, ok := c.lookup(from + to); ok {
		return rate
	}
	if rate, ok := c.lookup(to + from); ok {
		return decimal.NewFromInt(1).Div(rate)
	}

	fromBase, okFrom := c.toBase(from)
	toBase, okTo := c.toBase(to)
	if okFrom && okTo {
		return fromBase.Div(toBase)
	}

	c.metrics.FxFallbacks.Inc()
	c.logger.Warnf("No conversion path %s->%s, falling back to 1.0", from, to)
	return decimal.NewFromInt(1)
}

// toBase resolves ccy -> base through either stored direction
func (c *Cache) toBase(ccy string) (decimal.Decimal, bool) {
	if ccy == c.baseCurrency {
		return decimal.NewFromInt(1), true
	}
	if rate, ok := c.lookup(ccy + c.baseCurrency); ok {
		return rate, true
	}
	if rate, ok := c.lookup(c.baseCurrency + ccy); ok {
		return decimal.NewFromInt(1).Div(rate), true
	}
	return decimal.Decimal{}, false
}

func (c *Cache) lookup(pair string) (decimal.Decimal, bool) {
	cur, ok := c.rates.Load(pair)
	if !ok {
		return decimal.Decimal{}, false
	}
	return cur.(*rateEntry).rate.Rate, true
}

// RegisterProductCurrency records a product's issue currency in the
// reverse index. Idempotent; called on every price-tick intake.
func (c *Cache) RegisterProductCurrency(productID int64, ccy string) {
	ccy = strings.ToUpper(ccy)

	c.indexMu.RLock()
	_, known := c.index[ccy][productID]
	c.indexMu.RUnlock()
	if known {
		return
	}

	c.indexMu.Lock()
	set, ok := c.index[ccy]
	if !ok {
		set = make(map[int64]struct{})
		c.index[ccy] = set
	}
	set[productID] = struct{}{}
	c.indexMu.Unlock()
}

// ProductsFor returns a copied snapshot of the products issued in ccy
func (c *Cache) ProductsFor(ccy string) []int64 {
	ccy = strings.ToUpper(ccy)

	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	set := c.index[ccy]
	if len(set) == 0 {
		return nil
	}
	products := make([]int64, 0, len(set))
	for productID := range set {
		products = append(products, productID)
	}
	return products
}

// Get returns the stored rate for a pair
func (c *Cache) Get(pair string) (types.FxRate, bool) {
	cur, ok := c.rates.Load(strings.ToUpper(pair))
	if !ok {
		return types.FxRate{}, false
	}
	return cur.(*rateEntry).rate, true
}

// Load warms the cache from a snapshot without rippling
func (c *Cache) Load(rates []types.FxRate) {
	for _, rate := range rates {
		rate.Pair = strings.ToUpper(rate.Pair)
		if _, raced := c.rates.LoadOrStore(rate.Pair, &rateEntry{rate: rate}); !raced {
			c.size.Add(1)
			c.metrics.FxCacheSize.Inc()
		}
	}
}

// Dump returns every stored rate for snapshotting
func (c *Cache) Dump() []types.FxRate {
	var rates []types.FxRate
	c.rates.Range(func(_, v interface{}) bool {
		rates = append(rates, v.(*rateEntry).rate)
		return true
	})
	return rates
}

// Len returns the number of cached pairs
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// BaseCurrency returns the configured pivot currency
func (c *Cache) BaseCurrency() string {
	return c.baseCurrency
}
