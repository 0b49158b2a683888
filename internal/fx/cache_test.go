package fx

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

func (f *fakeNotifier) drain() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.ids
	f.ids = nil
	return ids
}

func newTestCache(base string) (*Cache, *fakeNotifier, *monitor.Metrics) {
	notifier := &fakeNotifier{}
	metrics := monitor.NewMetricsWith(prometheus.NewRegistry())
	return NewCache(base, notifier, metrics), notifier, metrics
}

func rate(pair string, value float64) types.FxRate {
	return types.FxRate{Pair: pair, Rate: decimal.NewFromFloat(value), Timestamp: time.Now()}
}

func TestConvertResolutionChain(t *testing.T) {
	cache, _, _ := newTestCache("USD")
	require.True(t, cache.Put(rate("EURUSD", 1.10)))
	require.True(t, cache.Put(rate("GBPUSD", 1.25)))
	require.True(t, cache.Put(rate("USDJPY", 150)))

	// identity
	assert.True(t, cache.Convert("USD", "USD").Equal(decimal.NewFromInt(1)))

	// direct
	assert.True(t, cache.Convert("EUR", "USD").Equal(decimal.NewFromFloat(1.10)))

	// inverse via reciprocal
	usdEur := cache.Convert("USD", "EUR")
	diff := usdEur.Mul(decimal.NewFromFloat(1.10)).Sub(decimal.NewFromInt(1)).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromFloat(1e-9)), "USD->EUR = %s", usdEur)

	// triangulation with two ccy->base legs
	eurGbp := cache.Convert("EUR", "GBP")
	want := decimal.NewFromFloat(1.10).Div(decimal.NewFromFloat(1.25))
	assert.True(t, eurGbp.Sub(want).Abs().LessThan(decimal.NewFromFloat(1e-9)), "EUR->GBP = %s", eurGbp)

	// triangulation where one leg is stored base->ccy
	eurJpy := cache.Convert("EUR", "JPY")
	want = decimal.NewFromFloat(1.10).Mul(decimal.NewFromInt(150))
	assert.True(t, eurJpy.Sub(want).Abs().LessThan(decimal.NewFromFloat(1e-6)), "EUR->JPY = %s", eurJpy)
}

func TestConvertFallsBackToOne(t *testing.T) {
	cache, _, metrics := newTestCache("USD")

	got := cache.Convert("CHF", "NOK")
	assert.True(t, got.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FxFallbacks))

	// one resolvable leg is not enough
	cache.Put(rate("CHFUSD", 1.05))
	got = cache.Convert("CHF", "NOK")
	assert.True(t, got.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.FxFallbacks))
}

func TestReciprocalProperty(t *testing.T) {
	cache, _, _ := newTestCache("USD")
	epsilon := decimal.NewFromFloat(1e-6)
	one := decimal.NewFromInt(1)

	for i, r := range []float64{1.10, 0.0072, 150.25, 0.9183, 19.4521} {
		ts := time.Now().Add(time.Duration(i) * time.Minute)
		require.True(t, cache.Put(types.FxRate{Pair: "ABCXYZ", Rate: decimal.NewFromFloat(r), Timestamp: ts}))

		product := cache.Convert("ABC", "XYZ").Mul(cache.Convert("XYZ", "ABC"))
		assert.True(t, product.Sub(one).Abs().LessThanOrEqual(epsilon), "rate %v product %s", r, product)
	}
}

func TestPutRipplesBothSides(t *testing.T) {
	cache, notifier, _ := newTestCache("USD")

	cache.RegisterProductCurrency(91, "EUR")
	cache.RegisterProductCurrency(92, "EUR")
	cache.RegisterProductCurrency(93, "USD")
	cache.RegisterProductCurrency(94, "JPY")

	require.True(t, cache.Put(rate("EURUSD", 1.20)))

	ids := notifier.drain()
	assert.ElementsMatch(t, []int64{91, 92, 93}, ids)
}

func TestRippleDeduplicatesProducts(t *testing.T) {
	cache, notifier, _ := newTestCache("USD")

	// product registered under both sides of the pair
	cache.RegisterProductCurrency(91, "EUR")
	cache.RegisterProductCurrency(91, "USD")

	cache.Put(rate("EURUSD", 1.20))

	assert.Equal(t, []int64{91}, notifier.drain())
}

func TestPutRejectsOlderAndDuplicateRates(t *testing.T) {
	cache, notifier, _ := newTestCache("USD")
	now := time.Now()

	first := types.FxRate{Pair: "EURUSD", Rate: decimal.NewFromFloat(1.10), Timestamp: now}
	require.True(t, cache.Put(first))
	cache.RegisterProductCurrency(91, "EUR")

	older := types.FxRate{Pair: "EURUSD", Rate: decimal.NewFromFloat(1.05), Timestamp: now.Add(-time.Second)}
	assert.False(t, cache.Put(older))

	assert.False(t, cache.Put(first)) // identical rate, no ripple

	got, ok := cache.Get("EURUSD")
	require.True(t, ok)
	assert.True(t, got.Rate.Equal(decimal.NewFromFloat(1.10)))
	assert.Empty(t, notifier.drain())
}

func TestRegisterProductCurrencyIdempotent(t *testing.T) {
	cache, _, _ := newTestCache("USD")

	for i := 0; i < 5; i++ {
		cache.RegisterProductCurrency(91, "eur")
	}
	assert.Equal(t, []int64{91}, cache.ProductsFor("EUR"))
	assert.Empty(t, cache.ProductsFor("USD"))
}

func TestLoadWarmsWithoutRipple(t *testing.T) {
	cache, notifier, _ := newTestCache("USD")
	cache.RegisterProductCurrency(91, "EUR")

	cache.Load([]types.FxRate{rate("EURUSD", 1.10), rate("GBPUSD", 1.25)})

	assert.Equal(t, 2, cache.Len())
	assert.Empty(t, notifier.drain())
	assert.Len(t, cache.Dump(), 2)
}
