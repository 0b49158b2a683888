package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Asset classes carried on price ticks
type AssetClass string

const (
	AssetClassEquity     AssetClass = "EQUITY"
	AssetClassFX         AssetClass = "FX"
	AssetClassCash       AssetClass = "CASH"
	AssetClassFXForward  AssetClass = "FX_FORWARD"
	AssetClassEquitySwap AssetClass = "EQUITY_SWAP"
	AssetClassBond       AssetClass = "BOND"
)

// Valid reports whether a is a known asset class
func (a AssetClass) Valid() bool {
	switch a {
	case AssetClassEquity, AssetClassFX, AssetClassCash,
		AssetClassFXForward, AssetClassEquitySwap, AssetClassBond:
		return true
	}
	return false
}

// PriceTick is one price observation for a product
type PriceTick struct {
	ProductID      int64           `json:"product_id"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	AssetClass     AssetClass      `json:"asset_class"`
	Source         string          `json:"source,omitempty"`
	SourcePriority int             `json:"source_priority"` // 1 = highest quality
	Timestamp      time.Time       `json:"timestamp"`
	Stale          bool            `json:"stale"`
}

// Validate checks tick invariants
func (t PriceTick) Validate() error {
	if t.ProductID <= 0 {
		return fmt.Errorf("invalid product id %d", t.ProductID)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("negative price %s for product %d", t.Price, t.ProductID)
	}
	if len(t.Currency) != 3 {
		return fmt.Errorf("invalid currency %q for product %d", t.Currency, t.ProductID)
	}
	if !t.AssetClass.Valid() {
		return fmt.Errorf("unknown asset class %q for product %d", t.AssetClass, t.ProductID)
	}
	if t.SourcePriority < 1 {
		return fmt.Errorf("invalid source priority %d for product %d", t.SourcePriority, t.ProductID)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp for product %d", t.ProductID)
	}
	return nil
}

// FxRate is one exchange-rate observation for a currency pair.
// Pair is base followed by quote, e.g. "EURUSD" quotes USD per EUR.
// The inverse rate is derived on read, never stored.
type FxRate struct {
	Pair      string          `json:"pair"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks rate invariants
func (r FxRate) Validate() error {
	if len(r.Pair) != 6 {
		return fmt.Errorf("invalid pair %q", r.Pair)
	}
	if !r.Rate.IsPositive() {
		return fmt.Errorf("non-positive rate %s for pair %s", r.Rate, r.Pair)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp for pair %s", r.Pair)
	}
	return nil
}

// Base returns the pair's base currency
func (r FxRate) Base() string {
	return r.Pair[:3]
}

// Quote returns the pair's quote currency
func (r FxRate) Quote() string {
	return r.Pair[3:]
}
