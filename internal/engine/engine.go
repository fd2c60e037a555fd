package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"market_go/internal/domain"
	"market_go/internal/infra"

	"github.com/shopspring/decimal"
)

// Params controls the simulated tick process.
type Params struct {
	Interval           time.Duration
	PriceJitter        float64 // LastPrice moves by U[-PriceJitter, +PriceJitter] per tick
	DerivedJitter      float64 // Mark/index offset from LastPrice, U[-DerivedJitter, +DerivedJitter]
	MaxVolumeStep      float64 // Volume grows by U[0, MaxVolumeStep] per tick
	ReferenceBasePrice float64 // Fixed baseline for PriceChangePercent
}

// DefaultParams returns the reference tick parameters.
func DefaultParams() Params {
	return Params{
		Interval:           3 * time.Second,
		PriceJitter:        10,
		DerivedJitter:      5,
		MaxVolumeStep:      10000,
		ReferenceBasePrice: 65000,
	}
}

// Options configures a new Engine. Zero values fall back to defaults.
type Options struct {
	Initial      domain.MarketState
	Favorites    []string
	KnownSymbols []string // Empty = any non-empty symbol is accepted
	Params       Params
	Rand         *rand.Rand
	Metrics      *infra.Metrics

	// Boundary: used to notify UI or other systems of state changes
	OnUpdate func(domain.MarketState)
}

// Engine owns the market state of the displayed instrument and the user's favorites.
// All reads and writes go through mu, so a reader never observes half a tick.
type Engine struct {
	mu        sync.RWMutex
	state     domain.MarketState
	favorites map[string]struct{}
	registry  map[string]struct{}
	params    Params
	rng       *rand.Rand
	metrics   *infra.Metrics
	onUpdate  func(domain.MarketState)

	subMu       sync.Mutex
	subscribers []chan domain.MarketState

	simMu sync.Mutex
	sim   *Simulation
}

// NewEngine creates an engine instance. Construct one per application and pass it to consumers.
func NewEngine(opts Options) *Engine {
	params := opts.Params
	def := DefaultParams()
	if params.Interval <= 0 {
		params.Interval = def.Interval
	}
	if params.ReferenceBasePrice == 0 {
		params.ReferenceBasePrice = def.ReferenceBasePrice
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		state:     opts.Initial,
		favorites: make(map[string]struct{}, len(opts.Favorites)),
		params:    params,
		rng:       rng,
		metrics:   opts.Metrics,
		onUpdate:  opts.OnUpdate,
	}
	for _, s := range opts.Favorites {
		e.favorites[s] = struct{}{}
	}
	if len(opts.KnownSymbols) > 0 {
		e.registry = make(map[string]struct{}, len(opts.KnownSymbols))
		for _, s := range opts.KnownSymbols {
			e.registry[s] = struct{}{}
		}
	}
	return e
}

// Snapshot returns a copy of every market field.
func (e *Engine) Snapshot() domain.MarketState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// CurrentSymbol returns the instrument currently displayed.
func (e *Engine) CurrentSymbol() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Symbol
}

func (e *Engine) LastPrice() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.LastPrice
}

// SwitchSymbol changes the displayed instrument. Numeric fields are shared across
// symbols and are left untouched.
func (e *Engine) SwitchSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("switch symbol: %w", domain.ErrInvalidSymbol)
	}
	if e.registry != nil {
		if _, ok := e.registry[symbol]; !ok {
			return fmt.Errorf("switch symbol %s: %w", symbol, domain.ErrInvalidSymbol)
		}
	}

	e.mu.Lock()
	e.state.Symbol = symbol
	snap := e.state
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSymbolSwitch()
	}
	e.publish(snap)
	return nil
}

// ToggleFavorite removes symbol from favorites if present, otherwise adds it.
// Returns the new membership.
func (e *Engine) ToggleFavorite(symbol string) bool {
	e.mu.Lock()
	_, ok := e.favorites[symbol]
	if ok {
		delete(e.favorites, symbol)
	} else {
		e.favorites[symbol] = struct{}{}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordFavoriteToggle()
	}
	return !ok
}

// IsFavorite reports whether symbol is in the favorites set.
func (e *Engine) IsFavorite(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.favorites[symbol]
	return ok
}

// Favorites returns the favorites set sorted by symbol.
func (e *Engine) Favorites() []string {
	e.mu.RLock()
	result := make([]string, 0, len(e.favorites))
	for s := range e.favorites {
		result = append(result, s)
	}
	e.mu.RUnlock()

	sort.Strings(result)
	return result
}

// Subscribe returns a channel that receives a snapshot after every state change
func (e *Engine) Subscribe() chan domain.MarketState {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	ch := make(chan domain.MarketState, 10)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel
func (e *Engine) Unsubscribe(ch chan domain.MarketState) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish notifies the callback and subscribers. Must be called without mu held.
func (e *Engine) publish(snap domain.MarketState) {
	if e.onUpdate != nil {
		e.onUpdate(snap)
	}

	// Sends happen under subMu so Unsubscribe cannot close a channel mid-send.
	// None of them block.
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- snap:
		default:
			// Skip if channel is full
		}
	}
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (e *Engine) DumpState(filename string) error {
	slog.Info("Dumping market state...", slog.String("file", filename))

	data := struct {
		State     domain.MarketState `json:"state"`
		Favorites []string           `json:"favorites"`
		DumpedAt  time.Time          `json:"dumped_at"`
	}{
		State:     e.Snapshot(),
		Favorites: e.Favorites(),
		DumpedAt:  time.Now(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("failed to write state dump: %w", err)
	}
	return nil
}

// Running reports whether a tick loop is active.
func (e *Engine) Running() bool {
	e.simMu.Lock()
	defer e.simMu.Unlock()
	return e.sim != nil && e.sim.alive()
}

// StartSimulation starts the periodic price tick loop. Calling it while a loop is
// active starts nothing and returns the live handle with ErrSimulationAlreadyRunning.
// The loop ends when ctx is cancelled or the handle is stopped.
func (e *Engine) StartSimulation(ctx context.Context) (*Simulation, error) {
	e.simMu.Lock()
	defer e.simMu.Unlock()

	if e.sim != nil && e.sim.alive() {
		return e.sim, domain.ErrSimulationAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	sim := &Simulation{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.sim = sim

	if e.metrics != nil {
		e.metrics.SetSimulationRunning(true)
	}
	slog.Info("Market simulation started",
		slog.String("symbol", e.CurrentSymbol()),
		slog.Duration("interval", e.params.Interval))

	go e.run(ctx, sim)
	return sim, nil
}

func (e *Engine) run(ctx context.Context, sim *Simulation) {
	ticker := time.NewTicker(e.params.Interval)
	defer func() {
		ticker.Stop()
		if e.metrics != nil {
			e.metrics.SetSimulationRunning(false)
		}
		close(sim.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("SIMULATION_PANIC_DETECTED", slog.Any("panic", r))
			if e.metrics != nil {
				e.metrics.RecordError()
			}
			if err := e.DumpState("panic_dump.json"); err != nil {
				slog.Error("Failed to dump state", slog.Any("error", err))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Market simulation stopping...")
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Simulation is the handle of a running tick loop.
type Simulation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the tick loop and waits for it to exit.
// Stopping an already finished loop returns ErrSimulationNotRunning.
func (s *Simulation) Stop() error {
	if !s.alive() {
		return domain.ErrSimulationNotRunning
	}
	s.cancel()
	<-s.done
	return nil
}

// Done is closed once the tick loop has exited.
func (s *Simulation) Done() <-chan struct{} {
	return s.done
}

func (s *Simulation) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
