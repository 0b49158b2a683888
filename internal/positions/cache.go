package positions

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// Cache holds (account, product) -> quantity plus the
// product -> accounts reverse index the valuation fan-out reads.
// Quantities are signed; zero quantity evicts the entry, so absence
// and zero are the same thing to callers.
type Cache struct {
	books sync.Map // int64 accountID -> *book

	indexMu sync.RWMutex
	index   map[int64]map[int64]struct{} // productID -> account set

	metrics *monitor.Metrics
	logger  *logrus.Entry

	size atomic.Int64
}

// book is one account's position set. Its lock scopes every per-account
// guarantee, including snapshot replacement.
type book struct {
	mu         sync.RWMutex
	quantities map[int64]decimal.Decimal
}

// NewCache creates an empty position cache
func NewCache(metrics *monitor.Metrics) *Cache {
	return &Cache{
		index:   make(map[int64]map[int64]struct{}),
		metrics: metrics,
		logger:  logrus.WithField("component", "position-cache"),
	}
}

func (c *Cache) bookFor(accountID int64) *book {
	if cur, ok := c.books.Load(accountID); ok {
		return cur.(*book)
	}
	cur, _ := c.books.LoadOrStore(accountID, &book{quantities: make(map[int64]decimal.Decimal)})
	return cur.(*book)
}

// SetQuantity applies one delta. Zero removes the entry and drops the
// account from the product's reverse index.
func (c *Cache) SetQuantity(accountID, productID int64, qty decimal.Decimal) {
	b := c.bookFor(accountID)

	b.mu.Lock()
	_, had := b.quantities[productID]
	if qty.IsZero() {
		delete(b.quantities, productID)
	} else {
		b.quantities[productID] = qty
	}
	b.mu.Unlock()

	// primary first, index second; readers tolerate the gap
	if qty.IsZero() {
		if had {
			c.size.Add(-1)
			c.metrics.PositionCacheSize.Dec()
			c.unindex(productID, accountID)
		}
		return
	}
	if !had {
		c.size.Add(1)
		c.metrics.PositionCacheSize.Inc()
	}
	c.indexAccount(productID, accountID)
}

// GetQuantity returns the held quantity, zero when absent
func (c *Cache) GetQuantity(accountID, productID int64) decimal.Decimal {
	cur, ok := c.books.Load(accountID)
	if !ok {
		return decimal.Zero
	}
	b := cur.(*book)

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.quantities[productID]
}

// AccountPositions returns a consistent copy of one account's holdings
func (c *Cache) AccountPositions(accountID int64) map[int64]decimal.Decimal {
	cur, ok := c.books.Load(accountID)
	if !ok {
		return nil
	}
	b := cur.(*book)

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[int64]decimal.Decimal, len(b.quantities))
	for productID, qty := range b.quantities {
		out[productID] = qty
	}
	return out
}

// AccountsHolding returns a copied snapshot of the accounts holding a
// product
func (c *Cache) AccountsHolding(productID int64) []int64 {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	set := c.index[productID]
	if len(set) == 0 {
		return nil
	}
	accounts := make([]int64, 0, len(set))
	for accountID := range set {
		accounts = append(accounts, accountID)
	}
	return accounts
}

// BulkReplace swaps an account's entire position set in one step.
// Readers of the account see either the prior snapshot or the new one,
// never a mix. Zero-quantity entries are dropped on the way in.
func (c *Cache) BulkReplace(accountID int64, entries []types.PositionEntry) {
	replacement := make(map[int64]decimal.Decimal, len(entries))
	for _, e := range entries {
		if e.Quantity.IsZero() {
			continue
		}
		replacement[e.ProductID] = e.Quantity
	}

	b := c.bookFor(accountID)

	b.mu.Lock()
	prior := b.quantities
	b.quantities = replacement
	b.mu.Unlock()

	c.size.Add(int64(len(replacement) - len(prior)))
	c.metrics.PositionCacheSize.Add(float64(len(replacement) - len(prior)))

	for productID := range prior {
		if _, kept := replacement[productID]; !kept {
			c.unindex(productID, accountID)
		}
	}
	for productID := range replacement {
		c.indexAccount(productID, accountID)
	}

	c.logger.Debugf("Replaced positions for account %d: %d -> %d entries", accountID, len(prior), len(replacement))
}

// Load warms the cache from snapshots
func (c *Cache) Load(snapshots []types.PositionSnapshot) {
	for _, snap := range snapshots {
		c.BulkReplace(snap.AccountID, snap.Positions)
	}
}

// Dump returns every account's holdings for snapshotting
func (c *Cache) Dump() []types.PositionSnapshot {
	var snapshots []types.PositionSnapshot
	c.books.Range(func(k, v interface{}) bool {
		accountID := k.(int64)
		b := v.(*book)

		b.mu.RLock()
		entries := make([]types.PositionEntry, 0, len(b.quantities))
		for productID, qty := range b.quantities {
			entries = append(entries, types.PositionEntry{ProductID: productID, Quantity: qty})
		}
		b.mu.RUnlock()

		if len(entries) > 0 {
			snapshots = append(snapshots, types.PositionSnapshot{AccountID: accountID, Positions: entries})
		}
		return true
	})
	return snapshots
}

// Len returns the number of non-zero positions held
func (c *Cache) Len() int {
	return int(c.size.Load())
}

func (c *Cache) indexAccount(productID, accountID int64) {
	c.indexMu.RLock()
	_, known := c.index[productID][accountID]
	c.indexMu.RUnlock()
	if known {
		return
	}

	c.indexMu.Lock()
	set, ok := c.index[productID]
	if !ok {
		set = make(map[int64]struct{})
		c.index[productID] = set
	}
	set[accountID] = struct{}{}
	c.indexMu.Unlock()
}

func (c *Cache) unindex(productID, accountID int64) {
	c.indexMu.Lock()
	if set, ok := c.index[productID]; ok {
		delete(set, accountID)
		if len(set) == 0 {
			delete(c.index, productID)
		}
	}
	c.indexMu.Unlock()
}
