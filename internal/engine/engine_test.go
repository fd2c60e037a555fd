package engine

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market_go/internal/domain"
	"market_go/internal/infra"

	"github.com/shopspring/decimal"
)

func newTestEngine(opts Options) *Engine {
	if opts.Initial.Symbol == "" {
		opts.Initial = domain.DefaultMarketState()
	}
	if opts.Favorites == nil {
		opts.Favorites = domain.DefaultFavorites
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(42))
	}
	return NewEngine(opts)
}

func TestEngine_ToggleFavorite(t *testing.T) {
	e := newTestEngine(Options{})

	if e.ToggleFavorite("BTCUSDT") {
		t.Error("BTCUSDT should be removed")
	}
	if got := e.Favorites(); !reflect.DeepEqual(got, []string{"ETHUSDT", "SOLUSDT"}) {
		t.Errorf("Expected [ETHUSDT SOLUSDT], got %v", got)
	}

	if !e.ToggleFavorite("BTCUSDT") {
		t.Error("BTCUSDT should be added back")
	}
	if got := e.Favorites(); !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}) {
		t.Errorf("Expected [BTCUSDT ETHUSDT SOLUSDT], got %v", got)
	}
}

func TestEngine_ToggleFavorite_Idempotent(t *testing.T) {
	e := newTestEngine(Options{})

	for _, sym := range []string{"BTCUSDT", "DOGEUSDT", ""} {
		before := e.IsFavorite(sym)
		e.ToggleFavorite(sym)
		e.ToggleFavorite(sym)
		if e.IsFavorite(sym) != before {
			t.Errorf("%q: membership changed after double toggle", sym)
		}
	}

	if len(e.Favorites()) != 3 {
		t.Errorf("Expected 3 favorites, got %v", e.Favorites())
	}
}

func TestEngine_FavoritesNoDuplicates(t *testing.T) {
	e := newTestEngine(Options{Favorites: []string{"BTCUSDT", "BTCUSDT", "ETHUSDT"}})

	if got := e.Favorites(); len(got) != 2 {
		t.Errorf("Expected 2 unique favorites, got %v", got)
	}
}

func TestEngine_SwitchSymbol(t *testing.T) {
	e := newTestEngine(Options{})
	before := e.Snapshot()

	if err := e.SwitchSymbol("ETHUSDT"); err != nil {
		t.Fatalf("SwitchSymbol failed: %v", err)
	}

	after := e.Snapshot()
	if after.Symbol != "ETHUSDT" {
		t.Errorf("Expected ETHUSDT, got %s", after.Symbol)
	}

	// Numeric fields are untouched
	after.Symbol = before.Symbol
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Numeric state changed on symbol switch:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestEngine_SwitchSymbol_Invalid(t *testing.T) {
	t.Run("empty symbol", func(t *testing.T) {
		e := newTestEngine(Options{})
		if err := e.SwitchSymbol(""); !errors.Is(err, domain.ErrInvalidSymbol) {
			t.Errorf("Expected ErrInvalidSymbol, got %v", err)
		}
		if e.CurrentSymbol() != "BTCUSDT" {
			t.Error("Symbol should be unchanged after rejected switch")
		}
	})

	t.Run("any symbol without registry", func(t *testing.T) {
		e := newTestEngine(Options{})
		if err := e.SwitchSymbol("ANYTHING"); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	})

	t.Run("unknown symbol with registry", func(t *testing.T) {
		e := newTestEngine(Options{KnownSymbols: []string{"BTCUSDT", "ETHUSDT"}})
		if err := e.SwitchSymbol("XRPUSDT"); !errors.Is(err, domain.ErrInvalidSymbol) {
			t.Errorf("Expected ErrInvalidSymbol, got %v", err)
		}
		if err := e.SwitchSymbol("ETHUSDT"); err != nil {
			t.Errorf("Expected known symbol to be accepted, got %v", err)
		}
	})
}

func TestEngine_ApplyDraw_ForcedRise(t *testing.T) {
	initial := domain.DefaultMarketState()
	price := decimal.RequireFromString("66432.50")
	initial.LastPrice = price
	initial.High24h = price
	initial.Low24h = price
	e := newTestEngine(Options{Initial: initial})

	snap := e.ApplyDraw(Draw{PriceDelta: decimal.NewFromInt(100)})

	if !snap.LastPrice.Equal(decimal.RequireFromString("66532.50")) {
		t.Errorf("Expected last 66532.50, got %v", snap.LastPrice)
	}
	if !snap.High24h.Equal(snap.LastPrice) {
		t.Errorf("Expected high == last, got high %v last %v", snap.High24h, snap.LastPrice)
	}
	if !snap.Low24h.Equal(price) {
		t.Errorf("Expected low unchanged at %v, got %v", price, snap.Low24h)
	}

	// (66532.5 - 65000) / 65000 * 100
	want := decimal.RequireFromString("1532.5").Div(decimal.NewFromInt(65000)).Mul(decimal.NewFromInt(100))
	if !snap.PriceChangePercent.Equal(want) {
		t.Errorf("Expected change %v, got %v", want, snap.PriceChangePercent)
	}
}

func TestEngine_ApplyDraw_ForcedFall(t *testing.T) {
	e := newTestEngine(Options{})
	before := e.Snapshot()

	snap := e.ApplyDraw(Draw{
		PriceDelta:  decimal.NewFromInt(-5000),
		MarkOffset:  decimal.NewFromInt(3),
		IndexOffset: decimal.NewFromInt(-2),
	})

	if !snap.Low24h.Equal(snap.LastPrice) {
		t.Errorf("Expected low == last, got low %v last %v", snap.Low24h, snap.LastPrice)
	}
	if !snap.High24h.Equal(before.High24h) {
		t.Error("High should be unchanged on a fall")
	}
	if !snap.MarkPrice.Sub(snap.LastPrice).Equal(decimal.NewFromInt(3)) {
		t.Errorf("Mark offset wrong: %v", snap.MarkPrice.Sub(snap.LastPrice))
	}
	if !snap.IndexPrice.Sub(snap.LastPrice).Equal(decimal.NewFromInt(-2)) {
		t.Errorf("Index offset wrong: %v", snap.IndexPrice.Sub(snap.LastPrice))
	}
	if snap.ChangeDirection() != "negative" {
		t.Errorf("Expected negative change, got %s", snap.ChangeDirection())
	}
}

func TestEngine_Tick_Invariants(t *testing.T) {
	e := newTestEngine(Options{})
	ref := decimal.NewFromInt(65000)

	prev := e.Snapshot()
	for i := 0; i < 1000; i++ {
		e.Tick()
		s := e.Snapshot()

		if !s.WithinRange() {
			t.Fatalf("tick %d: high %v >= last %v >= low %v violated", i, s.High24h, s.LastPrice, s.Low24h)
		}
		if s.Volume24h.LessThan(prev.Volume24h) {
			t.Fatalf("tick %d: volume decreased %v -> %v", i, prev.Volume24h, s.Volume24h)
		}
		if s.LastPrice.Sub(prev.LastPrice).Abs().GreaterThan(decimal.NewFromInt(10)) {
			t.Fatalf("tick %d: price moved more than 10", i)
		}
		if s.MarkPrice.Sub(s.LastPrice).Abs().GreaterThan(decimal.NewFromInt(5)) {
			t.Fatalf("tick %d: mark offset out of range", i)
		}
		if s.IndexPrice.Sub(s.LastPrice).Abs().GreaterThan(decimal.NewFromInt(5)) {
			t.Fatalf("tick %d: index offset out of range", i)
		}
		if !s.PriceChangePercent.Equal(domain.ChangePercentFrom(s.LastPrice, ref)) {
			t.Fatalf("tick %d: change percent not computed from fixed baseline", i)
		}
		if s.Seq != prev.Seq+1 {
			t.Fatalf("tick %d: seq %d, want %d", i, s.Seq, prev.Seq+1)
		}
		prev = s
	}

	if prev.Symbol != "BTCUSDT" {
		t.Error("Ticks must not change the symbol")
	}
	if !prev.FundingRate.Equal(decimal.RequireFromString("0.0012")) || prev.NextFundingTime != "05:32:11" {
		t.Error("Funding fields must stay static")
	}
}

func TestEngine_Subscribe(t *testing.T) {
	e := newTestEngine(Options{})

	ch := e.Subscribe()
	e.Tick()

	select {
	case snap := <-ch:
		if snap.Seq != 1 {
			t.Errorf("Expected seq 1, got %d", snap.Seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for update")
	}

	e.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestEngine_StartSimulation(t *testing.T) {
	var updates atomic.Int64
	metrics := infra.NewMetrics()
	e := newTestEngine(Options{
		Params:   Params{Interval: 10 * time.Millisecond, PriceJitter: 10, DerivedJitter: 5, MaxVolumeStep: 10000},
		Metrics:  metrics,
		OnUpdate: func(domain.MarketState) { updates.Add(1) },
	})

	sim, err := e.StartSimulation(context.Background())
	if err != nil {
		t.Fatalf("StartSimulation failed: %v", err)
	}
	if !e.Running() || !metrics.Snapshot().SimulationRunning {
		t.Error("Expected simulation running")
	}

	time.Sleep(60 * time.Millisecond)

	if err := sim.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if e.Running() || metrics.Snapshot().SimulationRunning {
		t.Error("Expected simulation stopped")
	}

	ticks := updates.Load()
	if ticks == 0 {
		t.Fatal("Expected at least one tick")
	}
	if metrics.Snapshot().TicksApplied != uint64(ticks) {
		t.Errorf("Metrics ticks %d != updates %d", metrics.Snapshot().TicksApplied, ticks)
	}

	// No ticks after stop
	time.Sleep(30 * time.Millisecond)
	if updates.Load() != ticks {
		t.Error("Ticks continued after Stop")
	}

	if err := sim.Stop(); !errors.Is(err, domain.ErrSimulationNotRunning) {
		t.Errorf("Expected ErrSimulationNotRunning on second stop, got %v", err)
	}
}

func TestEngine_StartSimulation_Twice(t *testing.T) {
	var updates atomic.Int64
	e := newTestEngine(Options{
		Params:   Params{Interval: 40 * time.Millisecond, PriceJitter: 10},
		OnUpdate: func(domain.MarketState) { updates.Add(1) },
	})

	first, err := e.StartSimulation(context.Background())
	if err != nil {
		t.Fatalf("StartSimulation failed: %v", err)
	}
	defer first.Stop()

	second, err := e.StartSimulation(context.Background())
	if !errors.Is(err, domain.ErrSimulationAlreadyRunning) {
		t.Errorf("Expected ErrSimulationAlreadyRunning, got %v", err)
	}
	if second != first {
		t.Error("Second start should return the live handle")
	}

	// One cadence yields ~5 ticks in 210ms; two interleaved cadences would yield ~10
	time.Sleep(210 * time.Millisecond)
	if n := updates.Load(); n > 7 {
		t.Errorf("Expected a single cadence, got %d ticks", n)
	}
}

func TestEngine_StartSimulation_ContextCancel(t *testing.T) {
	e := newTestEngine(Options{Params: Params{Interval: 5 * time.Millisecond}})
	ctx, cancel := context.WithCancel(context.Background())

	sim, err := e.StartSimulation(ctx)
	if err != nil {
		t.Fatalf("StartSimulation failed: %v", err)
	}

	cancel()
	select {
	case <-sim.Done():
	case <-time.After(time.Second):
		t.Fatal("simulation did not stop on context cancel")
	}

	// Restart after stop is allowed
	sim2, err := e.StartSimulation(context.Background())
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if sim2 == sim {
		t.Error("Restart should create a new handle")
	}
	sim2.Stop()
}

func TestEngine_DumpState(t *testing.T) {
	e := newTestEngine(Options{})
	e.Tick()

	path := filepath.Join(t.TempDir(), "dump.json")
	if err := e.DumpState(path); err != nil {
		t.Fatalf("DumpState failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read dump: %v", err)
	}
	if len(data) == 0 {
		t.Error("dump is empty")
	}
}

func TestEngine_LastPrice(t *testing.T) {
	e := newTestEngine(Options{})

	snap := e.ApplyDraw(Draw{PriceDelta: decimal.NewFromInt(-1)})
	if !e.LastPrice().Equal(snap.LastPrice) {
		t.Errorf("LastPrice() = %v, want %v", e.LastPrice(), snap.LastPrice)
	}
	if !e.LastPrice().Equal(decimal.RequireFromString("66431.5")) {
		t.Errorf("Expected 66431.5, got %v", e.LastPrice())
	}
}

func TestEngine_SubscribeChurnDuringTicks(t *testing.T) {
	e := newTestEngine(Options{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ch := e.Subscribe()
				e.Unsubscribe(ch)
			}
		}()
	}

	var panics int
	for i := 0; i < 20000; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					panics++
				}
			}()
			e.Tick()
		}()
	}
	close(stop)
	wg.Wait()

	if panics > 0 {
		t.Fatalf("Tick panicked %d times while subscribers churned", panics)
	}
}

func TestEngine_SnapshotConsistentDuringSimulation(t *testing.T) {
	params := DefaultParams()
	params.Interval = time.Millisecond
	e := newTestEngine(Options{Params: params})
	ref := decimal.NewFromFloat(params.ReferenceBasePrice)
	maxOffset := decimal.NewFromFloat(params.DerivedJitter)

	sim, err := e.StartSimulation(context.Background())
	if err != nil {
		t.Fatalf("StartSimulation failed: %v", err)
	}
	defer sim.Stop()

	deadline := time.Now().Add(100 * time.Millisecond)
	errs := make(chan string, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				s := e.Snapshot()
				switch {
				case !s.WithinRange():
					errs <- "high >= last >= low violated"
					return
				case s.MarkPrice.Sub(s.LastPrice).Abs().GreaterThan(maxOffset):
					errs <- "mark offset out of range"
					return
				case s.IndexPrice.Sub(s.LastPrice).Abs().GreaterThan(maxOffset):
					errs <- "index offset out of range"
					return
				case s.Seq > 0 && !s.PriceChangePercent.Equal(domain.ChangePercentFrom(s.LastPrice, ref)):
					errs <- "change percent does not match last price"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	if e.Snapshot().Seq == 0 {
		t.Error("Expected ticks during the read loop")
	}
}
