package valuation

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/bdpgmbv/rtve/internal/monitor"
)

// Queue is the valuation work queue. Admission is gated by a permit
// semaphore; a permit is held from Enqueue until the work item reaches
// a terminal state, so the outstanding count is the engine's sole
// backpressure signal. The channel capacity equals the permit count,
// which keeps Enqueue from ever blocking on send.
type Queue struct {
	items chan int64
	sem   *semaphore.Weighted

	outstanding  atomic.Int64
	onTransition func(productID int64, state WorkState)

	metrics *monitor.Metrics
	logger  *logrus.Entry
}

// NewQueue creates a queue admitting at most permits concurrent work
// items
func NewQueue(permits int64, metrics *monitor.Metrics) *Queue {
	return &Queue{
		items:   make(chan int64, permits),
		sem:     semaphore.NewWeighted(permits),
		metrics: metrics,
		logger:  logrus.WithField("component", "valuation-queue"),
	}
}

// Enqueue admits a recompute for the product. On permit exhaustion the
// work is skipped and counted; the next tick for the product will
// refresh state anyway.
func (q *Queue) Enqueue(productID int64) bool {
	if !q.sem.TryAcquire(1) {
		q.metrics.RatelimitRejected.Inc()
		return false
	}
	q.outstanding.Add(1)
	q.notify(productID, StateQueued)
	q.items <- productID
	return true
}

// Outstanding returns the number of admitted work items not yet
// terminal
func (q *Queue) Outstanding() int64 {
	return q.outstanding.Load()
}

func (q *Queue) release() {
	q.outstanding.Add(-1)
	q.sem.Release(1)
}

func (q *Queue) notify(productID int64, state WorkState) {
	if q.onTransition != nil {
		q.onTransition(productID, state)
	}
}
