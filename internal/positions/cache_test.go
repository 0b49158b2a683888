package positions

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

func newTestCache() *Cache {
	return NewCache(monitor.NewMetricsWith(prometheus.NewRegistry()))
}

func TestSetAndGetQuantity(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 42, decimal.NewFromInt(100))

	assert.True(t, cache.GetQuantity(7, 42).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, cache.Len())
}

func TestAbsentQuantityIsZero(t *testing.T) {
	cache := newTestCache()

	assert.True(t, cache.GetQuantity(7, 42).IsZero())
	assert.True(t, cache.GetQuantity(999, 1).IsZero())
}

func TestShortPositionKept(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 42, decimal.NewFromInt(-250))

	assert.True(t, cache.GetQuantity(7, 42).Equal(decimal.NewFromInt(-250)))
	assert.Equal(t, []int64{7}, cache.AccountsHolding(42))
}

func TestZeroQuantityEvicts(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 42, decimal.NewFromInt(100))
	require.Equal(t, 1, cache.Len())
	require.Equal(t, []int64{7}, cache.AccountsHolding(42))

	cache.SetQuantity(7, 42, decimal.Zero)

	assert.True(t, cache.GetQuantity(7, 42).IsZero())
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.AccountsHolding(42))
}

func TestZeroQuantityOnAbsentEntryIsNoop(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 42, decimal.Zero)

	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.AccountsHolding(42))
}

func TestReverseIndexTracksHolders(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(1, 42, decimal.NewFromInt(10))
	cache.SetQuantity(2, 42, decimal.NewFromInt(20))
	cache.SetQuantity(3, 42, decimal.NewFromInt(30))
	cache.SetQuantity(1, 99, decimal.NewFromInt(5))

	assert.ElementsMatch(t, []int64{1, 2, 3}, cache.AccountsHolding(42))
	assert.ElementsMatch(t, []int64{1}, cache.AccountsHolding(99))

	cache.SetQuantity(2, 42, decimal.Zero)

	assert.ElementsMatch(t, []int64{1, 3}, cache.AccountsHolding(42))
}

func TestAccountsHoldingReturnsCopy(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(1, 42, decimal.NewFromInt(10))
	cache.SetQuantity(2, 42, decimal.NewFromInt(20))

	holders := cache.AccountsHolding(42)
	holders[0] = 12345

	assert.ElementsMatch(t, []int64{1, 2}, cache.AccountsHolding(42))
}

func TestBulkReplaceSwapsWholeBook(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 1, decimal.NewFromInt(10))
	cache.SetQuantity(7, 2, decimal.NewFromInt(20))

	cache.BulkReplace(7, []types.PositionEntry{
		{ProductID: 2, Quantity: decimal.NewFromInt(25)},
		{ProductID: 3, Quantity: decimal.NewFromInt(30)},
		{ProductID: 4, Quantity: decimal.Zero},
	})

	assert.True(t, cache.GetQuantity(7, 1).IsZero())
	assert.True(t, cache.GetQuantity(7, 2).Equal(decimal.NewFromInt(25)))
	assert.True(t, cache.GetQuantity(7, 3).Equal(decimal.NewFromInt(30)))
	assert.True(t, cache.GetQuantity(7, 4).IsZero())
	assert.Equal(t, 2, cache.Len())

	assert.Empty(t, cache.AccountsHolding(1))
	assert.ElementsMatch(t, []int64{7}, cache.AccountsHolding(2))
	assert.ElementsMatch(t, []int64{7}, cache.AccountsHolding(3))
	assert.Empty(t, cache.AccountsHolding(4))
}

func TestBulkReplaceDoesNotTouchOtherAccounts(t *testing.T) {
	cache := newTestCache()

	cache.SetQuantity(7, 1, decimal.NewFromInt(10))
	cache.SetQuantity(8, 1, decimal.NewFromInt(80))

	cache.BulkReplace(7, []types.PositionEntry{{ProductID: 2, Quantity: decimal.NewFromInt(20)}})

	assert.True(t, cache.GetQuantity(8, 1).Equal(decimal.NewFromInt(80)))
	assert.ElementsMatch(t, []int64{8}, cache.AccountsHolding(1))
}

func TestBulkReplaceAtomicUnderConcurrentReads(t *testing.T) {
	cache := newTestCache()

	old := []types.PositionEntry{
		{ProductID: 1, Quantity: decimal.NewFromInt(10)},
		{ProductID: 2, Quantity: decimal.NewFromInt(20)},
	}
	next := []types.PositionEntry{
		{ProductID: 3, Quantity: decimal.NewFromInt(30)},
	}
	cache.BulkReplace(7, old)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mixed bool
	var mu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				positions := cache.AccountPositions(7)
				_, hasOld := positions[1]
				_, hasNew := positions[3]
				if hasOld && hasNew {
					mu.Lock()
					mixed = true
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		cache.BulkReplace(7, next)
		cache.BulkReplace(7, old)
	}
	close(stop)
	wg.Wait()

	assert.False(t, mixed, "reader observed a half-applied snapshot")
}

func TestPositionCacheSizeGauge(t *testing.T) {
	metrics := monitor.NewMetricsWith(prometheus.NewRegistry())
	cache := NewCache(metrics)

	cache.SetQuantity(7, 1, decimal.NewFromInt(10))
	cache.SetQuantity(7, 2, decimal.NewFromInt(20))
	cache.SetQuantity(8, 1, decimal.NewFromInt(30))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PositionCacheSize))

	cache.SetQuantity(7, 2, decimal.Zero)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PositionCacheSize))

	cache.BulkReplace(7, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PositionCacheSize))
}

func TestDumpAndLoadRoundTrip(t *testing.T) {
	source := newTestCache()
	source.SetQuantity(7, 42, decimal.NewFromInt(100))
	source.SetQuantity(7, 43, decimal.NewFromInt(200))
	source.SetQuantity(9, 42, decimal.NewFromInt(50))

	target := newTestCache()
	target.Load(source.Dump())

	assert.True(t, target.GetQuantity(7, 42).Equal(decimal.NewFromInt(100)))
	assert.True(t, target.GetQuantity(7, 43).Equal(decimal.NewFromInt(200)))
	assert.True(t, target.GetQuantity(9, 42).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 3, target.Len())
	assert.ElementsMatch(t, []int64{7, 9}, target.AccountsHolding(42))
}

func TestConcurrentUpdatesSettle(t *testing.T) {
	cache := newTestCache()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(accountID int64) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				cache.SetQuantity(accountID, 42, decimal.NewFromInt(int64(i)))
			}
		}(int64(g + 1))
	}
	wg.Wait()

	assert.Equal(t, 8, cache.Len())
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, cache.AccountsHolding(42))
	for accountID := int64(1); accountID <= 8; accountID++ {
		assert.True(t, cache.GetQuantity(accountID, 42).Equal(decimal.NewFromInt(100)))
	}
}
