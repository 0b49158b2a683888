package prices

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

type fakeNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeNotifier) Enqueue(productID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, productID)
	return true
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type fakeMarker struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeMarker) MarkDirty(productID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, productID)
}

func (f *fakeMarker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func newTestCache(staleAfter time.Duration) (*Cache, *fakeNotifier, *fakeMarker) {
	notifier := &fakeNotifier{}
	marker := &fakeMarker{}
	metrics := monitor.NewMetricsWith(prometheus.NewRegistry())
	return NewCache(staleAfter, notifier, marker, metrics), notifier, marker
}

func tick(productID int64, price float64, priority int, ts time.Time) types.PriceTick {
	return types.PriceTick{
		ProductID:      productID,
		Price:          decimal.NewFromFloat(price),
		Currency:       "USD",
		AssetClass:     types.AssetClassEquity,
		SourcePriority: priority,
		Timestamp:      ts,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	cache, notifier, marker := newTestCache(30 * time.Minute)
	now := time.Now()

	assert.True(t, cache.Put(tick(42, 1.25, 2, now)))

	got, ok := cache.Get(42)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromFloat(1.25)))
	assert.False(t, got.Stale)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, 1, marker.count())

	_, ok = cache.Get(99)
	assert.False(t, ok)
}

func TestPutSupersedeRules(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		first    types.PriceTick
		second   types.PriceTick
		accepted bool
	}{
		{
			name:     "newer timestamp same priority wins",
			first:    tick(1, 1.00, 2, now),
			second:   tick(1, 1.10, 2, now.Add(time.Second)),
			accepted: true,
		},
		{
			name:     "older timestamp rejected",
			first:    tick(1, 1.00, 2, now),
			second:   tick(1, 1.10, 1, now.Add(-time.Second)),
			accepted: false,
		},
		{
			name:     "equal timestamp better priority wins",
			first:    tick(1, 1.00, 2, now),
			second:   tick(1, 1.10, 1, now),
			accepted: true,
		},
		{
			name:     "equal timestamp worse priority rejected",
			first:    tick(1, 1.00, 1, now),
			second:   tick(1, 1.10, 2, now),
			accepted: false,
		},
		{
			name:     "newer but worse priority rejected while fresh",
			first:    tick(1, 1.00, 1, now),
			second:   tick(1, 1.10, 3, now.Add(time.Second)),
			accepted: false,
		},
		{
			name:     "newer and better priority wins",
			first:    tick(1, 1.00, 3, now),
			second:   tick(1, 1.10, 1, now.Add(time.Second)),
			accepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, _, _ := newTestCache(30 * time.Minute)
			require.True(t, cache.Put(tt.first))
			assert.Equal(t, tt.accepted, cache.Put(tt.second))

			got, ok := cache.Get(1)
			require.True(t, ok)
			want := tt.first
			if tt.accepted {
				want = tt.second
			}
			assert.True(t, got.Price.Equal(want.Price))
			assert.Equal(t, want.SourcePriority, got.SourcePriority)
		})
	}
}

func TestWorseSourceReplacesStaleEntry(t *testing.T) {
	cache, _, _ := newTestCache(50 * time.Millisecond)
	old := time.Now().Add(-time.Second)

	require.True(t, cache.Put(tick(1, 1.00, 1, old)))
	// cached entry is past the threshold, a worse source may refresh it
	assert.True(t, cache.Put(tick(1, 1.10, 3, time.Now())))

	got, _ := cache.Get(1)
	assert.Equal(t, 3, got.SourcePriority)
}

func TestFinalStateIsMaxTimestampThenPriority(t *testing.T) {
	cache, _, _ := newTestCache(30 * time.Minute)
	base := time.Now()

	// shuffled arrival order, uniform source quality
	offsets := []int{3, 0, 4, 1, 2}
	for _, off := range offsets {
		cache.Put(tick(7, float64(off), 2, base.Add(time.Duration(off)*time.Second)))
	}
	got, ok := cache.Get(7)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromFloat(4)))

	// equal timestamps resolve to the best priority seen
	for _, priority := range []int{3, 1, 2} {
		cache.Put(tick(8, float64(priority), priority, base))
	}
	got, ok = cache.Get(8)
	require.True(t, ok)
	assert.Equal(t, 1, got.SourcePriority)
}

func TestDuplicatePutIsIdempotent(t *testing.T) {
	cache, notifier, marker := newTestCache(30 * time.Minute)
	one := tick(42, 1.25, 2, time.Now())

	assert.True(t, cache.Put(one))
	assert.False(t, cache.Put(one))

	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, 1, marker.count())
}

func TestStaleSurfacedOnRead(t *testing.T) {
	cache, _, _ := newTestCache(50 * time.Millisecond)
	cache.Put(tick(42, 1.25, 2, time.Now()))

	got, _ := cache.Get(42)
	assert.False(t, got.Stale)

	time.Sleep(80 * time.Millisecond)

	got, _ = cache.Get(42)
	assert.True(t, got.Stale)
}

func TestScannerPromotesAndCounts(t *testing.T) {
	notifier := &fakeNotifier{}
	marker := &fakeMarker{}
	metrics := monitor.NewMetricsWith(prometheus.NewRegistry())
	cache := NewCache(50*time.Millisecond, notifier, marker, metrics)

	cache.Put(tick(1, 1.0, 2, time.Now()))
	cache.Put(tick(2, 2.0, 2, time.Now()))

	time.Sleep(80 * time.Millisecond)
	cache.scan()

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PriceCacheStale))

	got, _ := cache.Get(1)
	assert.True(t, got.Stale)
	// promotion is not a change event
	assert.Equal(t, 2, notifier.count())
}

func TestBulkGet(t *testing.T) {
	cache, _, _ := newTestCache(30 * time.Minute)
	now := time.Now()
	cache.Put(tick(1, 1.0, 2, now))
	cache.Put(tick(2, 2.0, 2, now))

	got := cache.BulkGet([]int64{1, 2, 3})
	assert.Len(t, got, 2)
	assert.True(t, got[1].Price.Equal(decimal.NewFromInt(1)))
	assert.True(t, got[2].Price.Equal(decimal.NewFromInt(2)))
}

func TestLoadDoesNotNotify(t *testing.T) {
	cache, notifier, marker := newTestCache(30 * time.Minute)
	cache.Load([]types.PriceTick{
		tick(1, 1.0, 2, time.Now()),
		tick(2, 2.0, 2, time.Now()),
	})

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 0, notifier.count())
	assert.Equal(t, 0, marker.count())

	dump := cache.Dump()
	assert.Len(t, dump, 2)
}

func TestConcurrentPutsResolveByOrderingRule(t *testing.T) {
	cache, _, _ := newTestCache(30 * time.Minute)
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(off int) {
			defer wg.Done()
			cache.Put(tick(9, float64(off), 2, base.Add(time.Duration(off)*time.Millisecond)))
		}(i)
	}
	wg.Wait()

	got, ok := cache.Get(9)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(49)), "got %s", got.Price)
}
