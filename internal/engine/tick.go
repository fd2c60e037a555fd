package engine

import (
	"time"

	"market_go/internal/domain"

	"github.com/shopspring/decimal"
)

// drawPlaces bounds the precision of random draws so prices stay readable.
const drawPlaces = 8

// Draw holds the random inputs of one tick.
type Draw struct {
	PriceDelta  decimal.Decimal // Added to LastPrice
	MarkOffset  decimal.Decimal // MarkPrice = LastPrice + MarkOffset
	IndexOffset decimal.Decimal // IndexPrice = LastPrice + IndexOffset
	VolumeStep  decimal.Decimal // Added to Volume24h, never negative
}

// uniform returns a value in [lo, hi). Caller must hold e.mu.
func (e *Engine) uniform(lo, hi float64) decimal.Decimal {
	v := lo + e.rng.Float64()*(hi-lo)
	return decimal.NewFromFloat(v).Round(drawPlaces)
}

// draw samples the inputs of one tick. Caller must hold e.mu.
func (e *Engine) draw() Draw {
	p := e.params
	return Draw{
		PriceDelta:  e.uniform(-p.PriceJitter, p.PriceJitter),
		MarkOffset:  e.uniform(-p.DerivedJitter, p.DerivedJitter),
		IndexOffset: e.uniform(-p.DerivedJitter, p.DerivedJitter),
		VolumeStep:  e.uniform(0, p.MaxVolumeStep),
	}
}

// Tick performs one simulated price update.
func (e *Engine) Tick() {
	start := time.Now()
	snap := e.applyLocked(nil)

	if e.metrics != nil {
		e.metrics.RecordTick(time.Since(start).Nanoseconds())
	}
	e.publish(snap)
}

// ApplyDraw applies a tick with caller-supplied random inputs.
func (e *Engine) ApplyDraw(d Draw) domain.MarketState {
	snap := e.applyLocked(&d)
	e.publish(snap)
	return snap
}

// applyLocked applies d, or a fresh draw when d is nil, under the write lock.
func (e *Engine) applyLocked(d *Draw) domain.MarketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d == nil {
		drawn := e.draw()
		d = &drawn
	}
	return e.apply(*d)
}

// apply mutates the state with one tick. Caller must hold e.mu.
func (e *Engine) apply(d Draw) domain.MarketState {
	s := &e.state

	s.LastPrice = s.LastPrice.Add(d.PriceDelta)
	s.MarkPrice = s.LastPrice.Add(d.MarkOffset)
	s.IndexPrice = s.LastPrice.Add(d.IndexOffset)

	s.PriceChangePercent = domain.ChangePercentFrom(s.LastPrice, decimal.NewFromFloat(e.params.ReferenceBasePrice))

	if s.LastPrice.GreaterThan(s.High24h) {
		s.High24h = s.LastPrice
	}
	if s.LastPrice.LessThan(s.Low24h) {
		s.Low24h = s.LastPrice
	}

	if d.VolumeStep.IsPositive() {
		s.Volume24h = s.Volume24h.Add(d.VolumeStep)
	}

	s.Seq++
	s.UpdatedAt = time.Now()
	return *s
}
