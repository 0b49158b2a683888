package valuation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/fx"
	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/internal/positions"
	"github.com/bdpgmbv/rtve/internal/prices"
	"github.com/bdpgmbv/rtve/internal/pricing"
	"github.com/bdpgmbv/rtve/internal/shard"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// Submitter accepts computed valuations for conflation
type Submitter interface {
	Submit(v types.Valuation)
}

// Config carries the engine's tunables
type Config struct {
	PoolSize     int
	BaseCurrency string
}

// Engine drains the work queue with a bounded worker pool. For each
// product it joins the price tick against the holders of the product,
// prices every holder this shard owns, and submits the valuations for
// conflation. A failure in one holder's computation never aborts the
// others.
type Engine struct {
	config    Config
	queue     *Queue
	prices    *prices.Cache
	fx        *fx.Cache
	positions *positions.Cache
	registry  *pricing.Registry
	router    *shard.Router
	submitter Submitter

	metrics *monitor.Metrics
	logger  *logrus.Entry

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEngine wires the valuation core together
func NewEngine(config Config, queue *Queue, priceCache *prices.Cache, fxCache *fx.Cache, positionCache *positions.Cache, registry *pricing.Registry, router *shard.Router, submitter Submitter, metrics *monitor.Metrics) *Engine {
	return &Engine{
		config:    config,
		queue:     queue,
		prices:    priceCache,
		fx:        fxCache,
		positions: positionCache,
		registry:  registry,
		router:    router,
		submitter: submitter,
		metrics:   metrics,
		logger:    logrus.WithField("component", "valuation-engine"),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the worker pool
func (e *Engine) Start() {
	for i := 0; i < e.config.PoolSize; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	e.logger.Infof("Valuation engine started with %d workers", e.config.PoolSize)
}

// Stop terminates the worker pool without draining. Call Drain first
// for a graceful shutdown.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.logger.Info("Valuation engine stopped")
}

// Drain blocks until every admitted work item is terminal or the
// context expires
func (e *Engine) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.queue.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	e.logger.Debugf("Worker %d started", id)

	for {
		select {
		case <-e.stopChan:
			e.logger.Debugf("Worker %d stopped", id)
			return
		case productID := <-e.queue.items:
			e.process(productID)
		}
	}
}

func (e *Engine) process(productID int64) {
	defer e.queue.release()
	e.queue.notify(productID, StateDispatched)

	tick, ok := e.prices.Get(productID)
	if !ok {
		e.metrics.PriceMisses.Inc()
		e.queue.notify(productID, StateDone)
		return
	}
	e.fx.RegisterProductCurrency(productID, tick.Currency)

	holders := e.positions.AccountsHolding(productID)
	if len(holders) == 0 {
		e.queue.notify(productID, StateDone)
		return
	}

	e.queue.notify(productID, StateComputing)
	strategy := e.registry.Resolve(tick.AssetClass)

	var submitted, failed int
	for _, accountID := range holders {
		if !e.router.Owns(accountID) {
			e.metrics.ShardSkipped.Inc()
			continue
		}
		ok, err := e.computeHolder(accountID, tick, strategy)
		if err != nil {
			failed++
			e.metrics.HolderErrors.Inc()
			e.logger.WithFields(logrus.Fields{
				"account": accountID,
				"product": productID,
			}).Errorf("Holder valuation failed: %v", err)
			continue
		}
		if ok {
			submitted++
		}
	}

	if submitted > 0 {
		e.queue.notify(productID, StateBroadcastQueued)
	}
	if failed > 0 && submitted == 0 {
		e.queue.notify(productID, StateFailed)
		return
	}
	e.queue.notify(productID, StateDone)
}

// computeHolder prices one holding and submits the valuation. A zero
// quantity is skipped; the reverse index may briefly list an account
// whose position was just removed.
func (e *Engine) computeHolder(accountID int64, tick types.PriceTick, strategy pricing.Strategy) (submitted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			submitted = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	quantity := e.positions.GetQuantity(accountID, tick.ProductID)
	if quantity.IsZero() {
		return false, nil
	}

	fxRate := e.fx.Convert(tick.Currency, e.config.BaseCurrency)
	marketValue := strategy.MarketValue(quantity, tick, fxRate)

	e.submitter.Submit(types.Valuation{
		AccountID:   accountID,
		ProductID:   tick.ProductID,
		MarketValue: marketValue,
		PriceUsed:   tick.Price,
		FxRateUsed:  fxRate,
		Source:      tick.Source,
		ComputedAt:  time.Now(),
	})
	e.metrics.ValuationsSubmitted.Inc()
	return true, nil
}
