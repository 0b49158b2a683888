package conflate

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// logical topic recorded on dead letters for failed emits
const emitTopic = "account.valuations"

// Sink receives one batch per account per flush
type Sink interface {
	Emit(accountID int64, batch []types.Valuation) error
}

// Broadcaster conflates valuations into per-account mailboxes and
// flushes them on a fixed period. Between two flushes only the latest
// valuation per (account, product) survives; the rest are dropped and
// counted. Submit is non-blocking and contends only within one
// account.
type Broadcaster struct {
	mailboxes sync.Map // int64 accountID -> *mailbox

	period        time.Duration
	sink          Sink
	dlq           types.DeadLetterSink
	maxRetries    int
	retryInterval time.Duration

	metrics *monitor.Metrics
	logger  *logrus.Entry

	depth    atomic.Int64
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type mailbox struct {
	mu     sync.Mutex
	latest map[int64]types.Valuation // productID -> latest valuation
}

// NewBroadcaster creates a broadcaster flushing to sink every period.
// Emit failures are retried maxRetries times with exponential backoff,
// then dead-lettered.
func NewBroadcaster(period time.Duration, sink Sink, dlq types.DeadLetterSink, maxRetries int, metrics *monitor.Metrics) *Broadcaster {
	return &Broadcaster{
		period:        period,
		sink:          sink,
		dlq:           dlq,
		maxRetries:    maxRetries,
		retryInterval: 500 * time.Millisecond,
		metrics:       metrics,
		logger:        logrus.WithField("component", "broadcaster"),
		stopChan:      make(chan struct{}),
	}
}

// Submit offers a valuation to its account's mailbox. When the mailbox
// already holds a valuation for the product, the one with the greater
// ComputedAt wins and the other is dropped.
func (b *Broadcaster) Submit(v types.Valuation) {
	box := b.boxFor(v.AccountID)

	box.mu.Lock()
	prev, occupied := box.latest[v.ProductID]
	if !occupied {
		box.latest[v.ProductID] = v
		box.mu.Unlock()
		b.depth.Add(1)
		b.metrics.MailboxDepth.Inc()
		return
	}
	if !v.ComputedAt.Before(prev.ComputedAt) {
		box.latest[v.ProductID] = v
	}
	box.mu.Unlock()

	b.metrics.ValuationsDropped.Inc()
}

// Depth returns the total number of pending mailbox entries
func (b *Broadcaster) Depth() int64 {
	return b.depth.Load()
}

// Start runs the flush ticker until Stop
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.Flush()
			case <-b.stopChan:
				return
			}
		}
	}()
	b.logger.Infof("Broadcaster started, flush period %s", b.period)
}

// Stop halts the ticker and flushes whatever is still pending
func (b *Broadcaster) Stop() {
	close(b.stopChan)
	b.wg.Wait()
	b.Flush()
	b.logger.Info("Broadcaster stopped")
}

// Flush detaches every non-empty mailbox and emits its contents as one
// batch per account. Batches for distinct accounts go out in no
// particular order.
func (b *Broadcaster) Flush() {
	b.mailboxes.Range(func(k, v interface{}) bool {
		accountID := k.(int64)
		box := v.(*mailbox)

		box.mu.Lock()
		if len(box.latest) == 0 {
			box.mu.Unlock()
			return true
		}
		detached := box.latest
		box.latest = make(map[int64]types.Valuation)
		box.mu.Unlock()

		b.depth.Add(-int64(len(detached)))
		b.metrics.MailboxDepth.Sub(float64(len(detached)))

		batch := make([]types.Valuation, 0, len(detached))
		for _, val := range detached {
			batch = append(batch, val)
		}
		b.emit(accountID, batch)
		return true
	})
}

func (b *Broadcaster) emit(accountID int64, batch []types.Valuation) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInterval
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return b.sink.Emit(accountID, batch)
	}, backoff.WithMaxRetries(bo, uint64(b.maxRetries)))
	if err == nil {
		return
	}

	b.logger.Errorf("Giving up emit for account %d after %d retries: %v", accountID, b.maxRetries, err)
	payload, marshalErr := json.Marshal(batch)
	if marshalErr != nil {
		payload = nil
	}
	b.dlq.Offer(emitTopic, strconv.FormatInt(accountID, 10), payload, err, types.KindProcessing)
}

func (b *Broadcaster) boxFor(accountID int64) *mailbox {
	if cur, ok := b.mailboxes.Load(accountID); ok {
		return cur.(*mailbox)
	}
	cur, _ := b.mailboxes.LoadOrStore(accountID, &mailbox{latest: make(map[int64]types.Valuation)})
	return cur.(*mailbox)
}
