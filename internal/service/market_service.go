package service

import (
	"fmt"
	"log/slog"
	"sync"

	"market_go/internal/domain"
	"market_go/internal/engine"
)

// MarketService fronts the engine for UI callers and keeps favorites persisted.
type MarketService struct {
	engine *engine.Engine
	repo   domain.FavoriteRepository

	toggleMu sync.Mutex // serializes toggle, persist and revert
}

// NewMarketService creates a new MarketService. repo may be nil (favorites kept in memory only).
func NewMarketService(eng *engine.Engine, repo domain.FavoriteRepository) *MarketService {
	return &MarketService{
		engine: eng,
		repo:   repo,
	}
}

// LoadFavorites returns the persisted favorites, seeding the store with defaults on first run
func LoadFavorites(repo domain.FavoriteRepository, defaults []string) ([]string, error) {
	if repo == nil {
		return defaults, nil
	}

	has, err := repo.HasFavorites()
	if err != nil {
		return nil, err
	}
	if has {
		return repo.ListFavorites()
	}

	for _, s := range defaults {
		if err := repo.SetFavorite(s, true); err != nil {
			return nil, err
		}
	}
	return defaults, nil
}

// Snapshot returns the current market state
func (s *MarketService) Snapshot() domain.MarketState {
	return s.engine.Snapshot()
}

// SwitchSymbol changes the displayed instrument
func (s *MarketService) SwitchSymbol(symbol string) error {
	if err := s.engine.SwitchSymbol(symbol); err != nil {
		return err
	}
	slog.Info("Symbol switched", slog.String("symbol", symbol))
	return nil
}

// ToggleFavorite flips membership in the engine, then persists it.
// On a persistence failure the in-memory toggle is reverted.
func (s *MarketService) ToggleFavorite(symbol string) (bool, error) {
	s.toggleMu.Lock()
	defer s.toggleMu.Unlock()

	isFav := s.engine.ToggleFavorite(symbol)
	if s.repo == nil {
		return isFav, nil
	}

	if err := s.repo.SetFavorite(symbol, isFav); err != nil {
		s.engine.ToggleFavorite(symbol)
		return !isFav, fmt.Errorf("toggle favorite %s: %w", symbol, err)
	}
	return isFav, nil
}

// IsFavorite reports whether symbol is a favorite
func (s *MarketService) IsFavorite(symbol string) bool {
	return s.engine.IsFavorite(symbol)
}

// Favorites returns the favorites set sorted by symbol
func (s *MarketService) Favorites() []string {
	return s.engine.Favorites()
}

// Engine exposes the underlying engine for subscribers
func (s *MarketService) Engine() *engine.Engine {
	return s.engine
}
