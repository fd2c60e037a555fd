package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState holds the live fields of the instrument currently displayed.
// Fields are ordered for cache-line efficiency: hot fields (prices) first.
type MarketState struct {
	// Hot fields (rewritten on every tick)
	LastPrice          decimal.Decimal `json:"last_price"`
	MarkPrice          decimal.Decimal `json:"mark_price"`
	IndexPrice         decimal.Decimal `json:"index_price"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	High24h            decimal.Decimal `json:"high_24h"`
	Low24h             decimal.Decimal `json:"low_24h"`
	Volume24h          decimal.Decimal `json:"volume_24h"`
	Seq                uint64          `json:"seq"` // Ticks applied since engine start
	UpdatedAt          time.Time       `json:"updated_at"`

	// Cold fields (no internal updater)
	Symbol          string          `json:"symbol"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	NextFundingTime string          `json:"next_funding_time"`
}

// DefaultMarketState returns the values a fresh trading view starts with.
func DefaultMarketState() MarketState {
	return MarketState{
		Symbol:             "BTCUSDT",
		LastPrice:          decimal.RequireFromString("66432.50"),
		High24h:            decimal.RequireFromString("67892.45"),
		Low24h:             decimal.RequireFromString("65021.32"),
		Volume24h:          decimal.RequireFromString("32456789.21"),
		PriceChangePercent: decimal.RequireFromString("2.31"),
		MarkPrice:          decimal.RequireFromString("66435.75"),
		IndexPrice:         decimal.RequireFromString("66430.25"),
		FundingRate:        decimal.RequireFromString("0.0012"),
		NextFundingTime:    "05:32:11",
	}
}

// DefaultFavorites is the favorites set a new user starts with.
var DefaultFavorites = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

// WithinRange reports whether High24h >= LastPrice >= Low24h.
func (m *MarketState) WithinRange() bool {
	return m.High24h.GreaterThanOrEqual(m.LastPrice) && m.LastPrice.GreaterThanOrEqual(m.Low24h)
}

// Spread returns MarkPrice - IndexPrice
func (m *MarketState) Spread() decimal.Decimal {
	return m.MarkPrice.Sub(m.IndexPrice)
}

// RangePosition returns where LastPrice sits inside [Low24h, High24h] as 0..1.
// A collapsed range yields nil.
func (m *MarketState) RangePosition() *decimal.Decimal {
	width := m.High24h.Sub(m.Low24h)
	if !width.IsPositive() {
		return nil
	}
	pos := m.LastPrice.Sub(m.Low24h).Div(width)
	return &pos
}

// ChangeDirection returns "positive", "negative", or "neutral"
func (m *MarketState) ChangeDirection() string {
	if m.PriceChangePercent.IsPositive() {
		return "positive"
	}
	if m.PriceChangePercent.IsNegative() {
		return "negative"
	}
	return "neutral"
}

// ChangePercentFrom computes 100 * (price - base) / base.
// A zero base yields zero.
func ChangePercentFrom(price, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return price.Sub(base).Div(base).Mul(decimal.NewFromInt(100))
}
