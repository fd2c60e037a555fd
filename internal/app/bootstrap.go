package app

import (
	"fmt"
	"log/slog"

	"market_go/internal/engine"
	"market_go/internal/infra"
	"market_go/internal/infra/storage"
	"market_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Engine  *engine.Engine
	Market  *service.MarketService
	Theme   *service.ThemeService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at path and wires every collaborator once
func (b *Bootstrap) Initialize(path string) error {
	slog.Info("🚀 Bootstrapping Market Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith wires the application from an already loaded config
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Restore preferences
	favorites, err := service.LoadFavorites(store, cfg.Market.Favorites)
	if err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	theme, err := service.NewThemeService(store)
	if err != nil {
		return err
	}
	b.Theme = theme

	// 5. Market engine (one per application)
	b.Metrics = infra.NewMetrics()
	b.Engine = engine.NewEngine(engine.Options{
		Initial:      cfg.InitialState(),
		Favorites:    favorites,
		KnownSymbols: cfg.Market.KnownSymbols,
		Params: engine.Params{
			Interval:           cfg.SimulationInterval(),
			PriceJitter:        cfg.Simulation.PriceJitter.InexactFloat64(),
			DerivedJitter:      cfg.Simulation.DerivedJitter.InexactFloat64(),
			MaxVolumeStep:      cfg.Simulation.MaxVolumeStep.InexactFloat64(),
			ReferenceBasePrice: cfg.Simulation.ReferenceBasePrice.InexactFloat64(),
		},
		Metrics: b.Metrics,
	})
	b.Market = service.NewMarketService(b.Engine, store)
	slog.Info("✅ Market engine ready",
		slog.String("symbol", cfg.Market.Symbol),
		slog.Int("favorites", len(favorites)))

	return nil
}

// Close releases resources opened by Initialize
func (b *Bootstrap) Close() error {
	if b.Storage != nil {
		return b.Storage.Close()
	}
	return nil
}
