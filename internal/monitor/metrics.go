package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the valuation engine
type Metrics struct {
	// Intake
	TicksReceived    *prometheus.CounterVec
	TicksParseErrors *prometheus.CounterVec
	DLQOffers        *prometheus.CounterVec

	// Valuation
	ValuationsSubmitted prometheus.Counter
	ValuationsDropped   prometheus.Counter
	ShardSkipped        prometheus.Counter
	RatelimitRejected   prometheus.Counter
	PriceMisses         prometheus.Counter
	HolderErrors        prometheus.Counter

	// FX
	FxFallbacks prometheus.Counter

	// Persistence
	ColdStoreErrors prometheus.Counter
	DirtyAlerts     prometheus.Counter

	// Lifecycle
	ForcedShutdown prometheus.Counter

	// Cache sizes
	PriceCacheSize    prometheus.Gauge
	PriceCacheStale   prometheus.Gauge
	FxCacheSize       prometheus.Gauge
	PositionCacheSize prometheus.Gauge

	// Flow depth
	DirtyProducts prometheus.Gauge
	MailboxDepth  prometheus.Gauge
	ConsumerLag   *prometheus.GaugeVec
}

// NewMetrics builds the engine's collectors and registers them on the
// default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on a caller-supplied
// registerer. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtve_ticks_received_total",
				Help: "Records fetched from the broker by topic",
			},
			[]string{"topic"},
		),

		TicksParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtve_ticks_parse_errors_total",
				Help: "Records that failed frame or JSON decoding by topic",
			},
			[]string{"topic"},
		),

		DLQOffers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtve_dlq_offers_total",
				Help: "Records offered to the dead-letter queue by error kind",
			},
			[]string{"kind"},
		),

		ValuationsSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_valuations_submitted_total",
				Help: "Valuations submitted to the conflation broadcaster",
			},
		),

		ValuationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_valuations_dropped_by_conflation_total",
				Help: "Valuations overwritten by a newer one inside a flush window",
			},
		),

		ShardSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_shard_skipped_total",
				Help: "Holder computations skipped because the account belongs to another shard",
			},
		),

		RatelimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_ratelimit_rejected_total",
				Help: "Work items dropped because admission permits were exhausted",
			},
		),

		PriceMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_price_misses_total",
				Help: "Recomputes abandoned because no price tick was cached",
			},
		),

		HolderErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_holder_errors_total",
				Help: "Per-holder valuation failures",
			},
		),

		FxFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_fx_fallback_conversions_total",
				Help: "Conversions that fell back to 1.0 because no rate path existed",
			},
		),

		ColdStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_coldstore_append_errors_total",
				Help: "Failed cold-store batch appends",
			},
		),

		DirtyAlerts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_dirty_set_alerts_total",
				Help: "Sustained dirty-set threshold breaches",
			},
		),

		ForcedShutdown: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtve_forced_shutdown_total",
				Help: "Shutdowns that exceeded the drain grace period",
			},
		),

		PriceCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_price_cache_size",
				Help: "Products with a cached price tick",
			},
		),

		PriceCacheStale: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_price_cache_stale",
				Help: "Cached price ticks older than the staleness threshold",
			},
		),

		FxCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_fx_cache_size",
				Help: "Currency pairs with a cached rate",
			},
		),

		PositionCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_position_cache_size",
				Help: "Non-zero (account, product) positions held",
			},
		),

		DirtyProducts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_dirty_products",
				Help: "Products awaiting a cold-store append",
			},
		),

		MailboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtve_mailbox_depth",
				Help: "Valuations pending across all conflation mailboxes",
			},
		),

		ConsumerLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtve_consumer_lag",
				Help: "Undelivered broker messages per consumer group",
			},
			[]string{"group"},
		),
	}

	reg.MustRegister(
		m.TicksReceived,
		m.TicksParseErrors,
		m.DLQOffers,
		m.ValuationsSubmitted,
		m.ValuationsDropped,
		m.ShardSkipped,
		m.RatelimitRejected,
		m.PriceMisses,
		m.HolderErrors,
		m.FxFallbacks,
		m.ColdStoreErrors,
		m.DirtyAlerts,
		m.ForcedShutdown,
		m.PriceCacheSize,
		m.PriceCacheStale,
		m.FxCacheSize,
		m.PositionCacheSize,
		m.DirtyProducts,
		m.MailboxDepth,
		m.ConsumerLag,
	)

	return m
}
