package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/pkg/types"
)

// Strategy computes a market value for one holding. Implementations
// must be pure: no I/O, no mutation, safe for concurrent use.
type Strategy interface {
	Name() string
	Supports(class types.AssetClass) bool
	MarketValue(quantity decimal.Decimal, tick types.PriceTick, fxRate decimal.Decimal) decimal.Decimal
}

// NaiveStrategy is the reference path: exact decimal arithmetic,
// quantity x price x fxRate. It supports every asset class.
type NaiveStrategy struct{}

func (NaiveStrategy) Name() string { return "naive-decimal" }

func (NaiveStrategy) Supports(types.AssetClass) bool { return true }

func (NaiveStrategy) MarketValue(quantity decimal.Decimal, tick types.PriceTick, fxRate decimal.Decimal) decimal.Decimal {
	return quantity.Mul(tick.Price).Mul(fxRate)
}

// Registry dispatches by asset class to the first registered strategy
// that supports it, falling back to the naive path.
type Registry struct {
	strategies []Strategy
	fallback   Strategy
	logger     *logrus.Entry
}

// NewRegistry creates a registry with the fixed-point fast path
// installed ahead of the naive fallback
func NewRegistry() *Registry {
	r := &Registry{
		fallback: NaiveStrategy{},
		logger:   logrus.WithField("component", "pricing"),
	}
	r.Register(FixedPointStrategy{})
	return r
}

// Register appends a strategy. Resolution order is registration order.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	r.logger.Debugf("Registered pricing strategy %s", s.Name())
}

// Resolve returns the first strategy supporting the class, or the
// naive fallback when none does
func (r *Registry) Resolve(class types.AssetClass) Strategy {
	for _, s := range r.strategies {
		if s.Supports(class) {
			return s
		}
	}
	return r.fallback
}
