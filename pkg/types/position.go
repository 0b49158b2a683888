package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionDelta is one quantity update for an (account, product) key.
// Quantity is signed; short positions are negative. A zero quantity
// clears the position.
type PositionDelta struct {
	AccountID int64           `json:"account_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Validate checks delta invariants
func (d PositionDelta) Validate() error {
	if d.AccountID <= 0 {
		return fmt.Errorf("invalid account id %d", d.AccountID)
	}
	if d.ProductID <= 0 {
		return fmt.Errorf("invalid product id %d for account %d", d.ProductID, d.AccountID)
	}
	return nil
}

// PositionEntry is one (product, quantity) row inside a snapshot
type PositionEntry struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// PositionSnapshot is a full end-of-day position set for one account.
// BusinessDate is opaque to the engine and only carried through.
type PositionSnapshot struct {
	AccountID    int64           `json:"account_id"`
	BusinessDate string          `json:"business_date"`
	Positions    []PositionEntry `json:"positions"`
}

// Validate checks snapshot invariants
func (s PositionSnapshot) Validate() error {
	if s.AccountID <= 0 {
		return fmt.Errorf("invalid account id %d", s.AccountID)
	}
	for _, p := range s.Positions {
		if p.ProductID <= 0 {
			return fmt.Errorf("invalid product id %d in snapshot for account %d", p.ProductID, s.AccountID)
		}
	}
	return nil
}

// Valuation is one computed market value for an (account, product) key.
// Valuations are derived, held only in conflation mailboxes between
// flushes, and emitted latest-wins.
type Valuation struct {
	AccountID   int64           `json:"account_id"`
	ProductID   int64           `json:"product_id"`
	MarketValue decimal.Decimal `json:"market_value"`
	PriceUsed   decimal.Decimal `json:"price_used"`
	FxRateUsed  decimal.Decimal `json:"fx_rate_used"`
	Source      string          `json:"source"`
	ComputedAt  time.Time       `json:"computed_at"`
}
