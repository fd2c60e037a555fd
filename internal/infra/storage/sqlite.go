package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"market_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists user preferences: the favorites set and key-value settings.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
// An empty path resolves to the OS user config directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		path, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.FavoriteSymbol{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "MarketGo", "data", "market.db"), nil
}

// Close releases the underlying database handle
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Favorite Operations
// ======================================================================================

// SetFavorite records the favorite status of a symbol, creating the row if needed
func (s *Storage) SetFavorite(symbol string, isFavorite bool) error {
	fav := domain.FavoriteSymbol{Symbol: symbol}
	err := s.db.Where(domain.FavoriteSymbol{Symbol: symbol}).
		Assign(map[string]interface{}{"is_favorite": isFavorite, "updated_at": time.Now()}).
		FirstOrCreate(&fav).Error
	if err != nil {
		return domain.NewStorageError("set_favorite", err)
	}
	return nil
}

// GetFavorite returns the persisted row for symbol, or nil if never recorded
func (s *Storage) GetFavorite(symbol string) (*domain.FavoriteSymbol, error) {
	var fav domain.FavoriteSymbol
	err := s.db.First(&fav, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, domain.NewStorageError("get_favorite", err)
	}
	return &fav, nil
}

// ListFavorites returns every symbol currently marked favorite, sorted
func (s *Storage) ListFavorites() ([]string, error) {
	var symbols []string
	err := s.db.Model(&domain.FavoriteSymbol{}).
		Where("is_favorite = ?", true).
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, domain.NewStorageError("list_favorites", err)
	}
	return symbols, nil
}

// HasFavorites reports whether any favorite row was ever recorded.
// Distinguishes a first run from a user who removed every favorite.
func (s *Storage) HasFavorites() (bool, error) {
	var count int64
	if err := s.db.Model(&domain.FavoriteSymbol{}).Count(&count).Error; err != nil {
		return false, domain.NewStorageError("count_favorites", err)
	}
	return count > 0, nil
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	if err := s.db.Save(&config).Error; err != nil {
		return domain.NewStorageError("save_config", err)
	}
	return nil
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, domain.NewStorageError("load_config", err)
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
