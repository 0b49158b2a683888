package coldstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// DirtySet tracks products whose latest price has not reached the cold
// store yet
type DirtySet struct {
	mu      sync.Mutex
	ids     map[int64]struct{}
	metrics *monitor.Metrics
}

func NewDirtySet(metrics *monitor.Metrics) *DirtySet {
	return &DirtySet{
		ids:     make(map[int64]struct{}),
		metrics: metrics,
	}
}

// MarkDirty records a product for the next flush
func (d *DirtySet) MarkDirty(productID int64) {
	d.mu.Lock()
	d.ids[productID] = struct{}{}
	d.metrics.DirtyProducts.Set(float64(len(d.ids)))
	d.mu.Unlock()
}

// Drain atomically empties the set and returns its contents
func (d *DirtySet) Drain() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ids) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(d.ids))
	for id := range d.ids {
		ids = append(ids, id)
	}
	d.ids = make(map[int64]struct{})
	d.metrics.DirtyProducts.Set(0)
	return ids
}

// Reinsert puts drained ids back after a failed append
func (d *DirtySet) Reinsert(ids []int64) {
	d.mu.Lock()
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	d.metrics.DirtyProducts.Set(float64(len(d.ids)))
	d.mu.Unlock()
}

// Size returns the number of pending products
func (d *DirtySet) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// TickSource supplies the current tick per product
type TickSource interface {
	BulkGet(ids []int64) map[int64]types.PriceTick
}

// Flusher drains the dirty set on a fixed cadence, reads the current
// tick for each product, and appends the batch to the cold store. A
// failed append reinserts the drained ids; a backlog above the alert
// threshold for longer than the alert window raises a counter.
type Flusher struct {
	dirty  *DirtySet
	source TickSource
	store  ColdStore
	period time.Duration

	alertThreshold int
	alertWindow    time.Duration
	breachSince    time.Time

	metrics *monitor.Metrics
	logger  *logrus.Entry

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewFlusher(dirty *DirtySet, source TickSource, store ColdStore, period time.Duration, alertThreshold int, alertWindow time.Duration, metrics *monitor.Metrics) *Flusher {
	return &Flusher{
		dirty:          dirty,
		source:         source,
		store:          store,
		period:         period,
		alertThreshold: alertThreshold,
		alertWindow:    alertWindow,
		metrics:        metrics,
		logger:         logrus.WithField("component", "flusher"),
		stopChan:       make(chan struct{}),
	}
}

// Start runs the flush ticker until Stop
func (f *Flusher) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.FlushOnce(context.Background())
			case <-f.stopChan:
				return
			}
		}
	}()
	f.logger.Infof("Persistence flusher started, period %s", f.period)
}

// Stop halts the ticker and makes a final flush attempt
func (f *Flusher) Stop() {
	close(f.stopChan)
	f.wg.Wait()
	f.FlushOnce(context.Background())
	f.logger.Info("Persistence flusher stopped")
}

// FlushOnce drains and appends a single batch
func (f *Flusher) FlushOnce(ctx context.Context) {
	ids := f.dirty.Drain()
	if len(ids) == 0 {
		f.checkAlert()
		return
	}

	ticks := f.source.BulkGet(ids)
	batch := make([]types.PriceTick, 0, len(ticks))
	for _, tick := range ticks {
		batch = append(batch, tick)
	}

	if err := f.store.AppendBatch(ctx, batch); err != nil {
		f.metrics.ColdStoreErrors.Inc()
		f.logger.Errorf("Cold store append failed for %d products: %v", len(batch), err)
		f.dirty.Reinsert(ids)
	} else if len(batch) > 0 {
		f.logger.Debugf("Appended %d prices to cold store", len(batch))
	}
	f.checkAlert()
}

// checkAlert raises at most one alert per window while the backlog
// stays above the threshold
func (f *Flusher) checkAlert() {
	size := f.dirty.Size()
	if size <= f.alertThreshold {
		f.breachSince = time.Time{}
		return
	}
	now := time.Now()
	if f.breachSince.IsZero() {
		f.breachSince = now
		return
	}
	if now.Sub(f.breachSince) >= f.alertWindow {
		f.metrics.DirtyAlerts.Inc()
		f.logger.Warnf("Dirty backlog %d above threshold %d for over %s", size, f.alertThreshold, f.alertWindow)
		f.breachSince = now
	}
}
