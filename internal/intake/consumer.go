package intake

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/fx"
	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/internal/positions"
	"github.com/bdpgmbv/rtve/internal/prices"
	"github.com/bdpgmbv/rtve/pkg/bus"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// Broker is the slice of the message bus the intake uses
type Broker interface {
	PullSubscribe(subject, durable string) (*nats.Subscription, error)
	Fetch(sub *nats.Subscription) ([]*nats.Msg, error)
	ConsumerLag(stream, durable string) (int64, error)
}

// WorkProbe reports how much admitted valuation work is still in
// flight
type WorkProbe interface {
	Outstanding() int64
}

// Config carries the intake tunables
type Config struct {
	ClientID  string
	HighWater int64
}

// Consumer runs one pull loop per inbound topic. Records are decoded,
// validated, and dispatched synchronously into the caches; per-record
// failures go to the dead letter sink without blocking the batch, and
// the batch is acknowledged only once every record was handled. While
// the valuation backlog sits at the high-water mark the consumer stops
// polling and withholds acknowledgement.
type Consumer struct {
	broker    Broker
	dlq       types.DeadLetterSink
	probe     WorkProbe
	config    Config
	prices    *prices.Cache
	fx        *fx.Cache
	positions *positions.Cache

	metrics *monitor.Metrics
	logger  *logrus.Entry

	lagMu sync.RWMutex
	lags  map[string]int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer wires the intake against the broker and caches
func NewConsumer(broker Broker, dlq types.DeadLetterSink, probe WorkProbe, config Config, priceCache *prices.Cache, fxCache *fx.Cache, positionCache *positions.Cache, metrics *monitor.Metrics) *Consumer {
	return &Consumer{
		broker:    broker,
		dlq:       dlq,
		probe:     probe,
		config:    config,
		prices:    priceCache,
		fx:        fxCache,
		positions: positionCache,
		metrics:   metrics,
		logger:    logrus.WithField("component", "intake"),
		lags:      make(map[string]int64),
		stopChan:  make(chan struct{}),
	}
}

// Start launches one consume loop per topic
func (c *Consumer) Start() {
	topics := []struct {
		subject string
		handle  func([]byte) error
	}{
		{bus.SubjectPriceTicks, c.handlePriceTick},
		{bus.SubjectFxRates, c.handleFxRate},
		{bus.SubjectPositionUpdates, c.handlePositionDelta},
		{bus.SubjectPositionEOD, c.handlePositionSnapshot},
	}
	for _, topic := range topics {
		c.wg.Add(1)
		go c.consume(topic.subject, topic.handle)
	}
	c.logger.Infof("Intake started on %d topics", len(topics))
}

// Stop halts polling. In-flight batches finish dispatching first.
func (c *Consumer) Stop() {
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Intake stopped")
}

// Lags returns the last sampled consumer lag per durable group
func (c *Consumer) Lags() map[string]int64 {
	c.lagMu.RLock()
	defer c.lagMu.RUnlock()
	out := make(map[string]int64, len(c.lags))
	for group, lag := range c.lags {
		out[group] = lag
	}
	return out
}

func (c *Consumer) consume(subject string, handle func([]byte) error) {
	defer c.wg.Done()

	durable := bus.Durable(c.config.ClientID, subject)
	stream, err := bus.StreamForSubject(subject)
	if err != nil {
		c.logger.Errorf("Unroutable subject %s: %v", subject, err)
		return
	}

	sub, err := c.broker.PullSubscribe(subject, durable)
	if err != nil {
		c.logger.Errorf("Failed to subscribe to %s: %v", subject, err)
		return
	}
	c.logger.Infof("Consuming %s as %s", subject, durable)

	for {
		if c.stopped() {
			return
		}
		if !c.waitBelowHighWater() {
			return
		}

		msgs, err := c.broker.Fetch(sub)
		if err != nil {
			c.logger.Errorf("Fetch failed for %s: %v", subject, err)
			if !c.pause(time.Second) {
				return
			}
			continue
		}
		if len(msgs) == 0 {
			c.sampleLag(stream, durable)
			continue
		}

		for _, msg := range msgs {
			c.metrics.TicksReceived.WithLabelValues(subject).Inc()
			if err := handle(msg.Data); err != nil {
				kind := types.KindOf(err)
				if kind == types.KindParse {
					c.metrics.TicksParseErrors.WithLabelValues(subject).Inc()
				}
				c.dlq.Offer(subject, msg.Subject, msg.Data, err, kind)
			}
		}

		// ack is withheld until the backlog clears; with ack-all
		// consumers the last message covers the whole batch
		if !c.waitBelowHighWater() {
			return
		}
		if err := msgs[len(msgs)-1].Ack(); err != nil {
			c.logger.Debugf("Ack failed for %s: %v", subject, err)
		}
		c.sampleLag(stream, durable)
	}
}

func (c *Consumer) handlePriceTick(payload []byte) error {
	var tick types.PriceTick
	if err := types.DecodeFrame(payload, &tick); err != nil {
		return types.Classify(types.KindParse, err)
	}
	if err := tick.Validate(); err != nil {
		return types.Classify(types.KindValidation, err)
	}
	c.prices.Put(tick)
	c.fx.RegisterProductCurrency(tick.ProductID, tick.Currency)
	return nil
}

func (c *Consumer) handleFxRate(payload []byte) error {
	var rate types.FxRate
	if err := types.DecodeFrame(payload, &rate); err != nil {
		return types.Classify(types.KindParse, err)
	}
	if err := rate.Validate(); err != nil {
		return types.Classify(types.KindValidation, err)
	}
	c.fx.Put(rate)
	return nil
}

func (c *Consumer) handlePositionDelta(payload []byte) error {
	var delta types.PositionDelta
	if err := types.DecodeFrame(payload, &delta); err != nil {
		return types.Classify(types.KindParse, err)
	}
	if err := delta.Validate(); err != nil {
		return types.Classify(types.KindValidation, err)
	}
	c.positions.SetQuantity(delta.AccountID, delta.ProductID, delta.Quantity)
	return nil
}

func (c *Consumer) handlePositionSnapshot(payload []byte) error {
	var snap types.PositionSnapshot
	if err := types.DecodeFrame(payload, &snap); err != nil {
		return types.Classify(types.KindParse, err)
	}
	if err := snap.Validate(); err != nil {
		return types.Classify(types.KindValidation, err)
	}
	c.positions.BulkReplace(snap.AccountID, snap.Positions)
	return nil
}

func (c *Consumer) sampleLag(stream, durable string) {
	lag, err := c.broker.ConsumerLag(stream, durable)
	if err != nil {
		c.logger.Debugf("Lag sample failed for %s: %v", durable, err)
		return
	}
	c.lagMu.Lock()
	c.lags[durable] = lag
	c.lagMu.Unlock()
	c.metrics.ConsumerLag.WithLabelValues(durable).Set(float64(lag))
}

// waitBelowHighWater blocks while the valuation backlog is at or above
// the high-water mark. It returns false when stopped.
func (c *Consumer) waitBelowHighWater() bool {
	for c.probe.Outstanding() >= c.config.HighWater {
		if !c.pause(10 * time.Millisecond) {
			return false
		}
	}
	return true
}

func (c *Consumer) pause(d time.Duration) bool {
	select {
	case <-c.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}
