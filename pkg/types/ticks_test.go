package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPriceTickValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		tick    PriceTick
		wantErr bool
	}{
		{
			name: "valid equity tick",
			tick: PriceTick{
				ProductID:      42,
				Price:          decimal.NewFromFloat(1.25),
				Currency:       "USD",
				AssetClass:     AssetClassEquity,
				SourcePriority: 2,
				Timestamp:      now,
			},
			wantErr: false,
		},
		{
			name: "valid zero price",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.Zero,
				Currency:       "EUR",
				AssetClass:     AssetClassBond,
				SourcePriority: 1,
				Timestamp:      now,
			},
			wantErr: false,
		},
		{
			name: "negative price",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.NewFromFloat(-0.01),
				Currency:       "USD",
				AssetClass:     AssetClassEquity,
				SourcePriority: 1,
				Timestamp:      now,
			},
			wantErr: true,
		},
		{
			name: "unknown asset class",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.NewFromInt(1),
				Currency:       "USD",
				AssetClass:     AssetClass("CRYPTO"),
				SourcePriority: 1,
				Timestamp:      now,
			},
			wantErr: true,
		},
		{
			name: "bad currency",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.NewFromInt(1),
				Currency:       "US",
				AssetClass:     AssetClassFX,
				SourcePriority: 1,
				Timestamp:      now,
			},
			wantErr: true,
		},
		{
			name: "missing product id",
			tick: PriceTick{
				Price:          decimal.NewFromInt(1),
				Currency:       "USD",
				AssetClass:     AssetClassEquity,
				SourcePriority: 1,
				Timestamp:      now,
			},
			wantErr: true,
		},
		{
			name: "zero source priority",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.NewFromInt(1),
				Currency:       "USD",
				AssetClass:     AssetClassEquity,
				SourcePriority: 0,
				Timestamp:      now,
			},
			wantErr: true,
		},
		{
			name: "missing timestamp",
			tick: PriceTick{
				ProductID:      7,
				Price:          decimal.NewFromInt(1),
				Currency:       "USD",
				AssetClass:     AssetClassEquity,
				SourcePriority: 1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tick.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFxRateValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		rate    FxRate
		wantErr bool
	}{
		{
			name:    "valid rate",
			rate:    FxRate{Pair: "EURUSD", Rate: decimal.NewFromFloat(1.10), Timestamp: now},
			wantErr: false,
		},
		{
			name:    "zero rate",
			rate:    FxRate{Pair: "EURUSD", Rate: decimal.Zero, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "negative rate",
			rate:    FxRate{Pair: "EURUSD", Rate: decimal.NewFromFloat(-1.10), Timestamp: now},
			wantErr: true,
		},
		{
			name:    "short pair",
			rate:    FxRate{Pair: "EUR", Rate: decimal.NewFromInt(1), Timestamp: now},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			rate:    FxRate{Pair: "EURUSD", Rate: decimal.NewFromInt(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rate.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFxRatePairSides(t *testing.T) {
	r := FxRate{Pair: "EURUSD", Rate: decimal.NewFromFloat(1.10), Timestamp: time.Now()}
	assert.Equal(t, "EUR", r.Base())
	assert.Equal(t, "USD", r.Quote())
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")

	parse := Classify(KindParse, cause)
	assert.Equal(t, KindParse, KindOf(parse))
	assert.True(t, errors.Is(parse, cause))

	validation := Classify(KindValidation, cause)
	assert.Equal(t, KindValidation, KindOf(validation))

	// unclassified errors default to the transient kind
	assert.Equal(t, KindProcessing, KindOf(cause))

	assert.Nil(t, Classify(KindParse, nil))
}
