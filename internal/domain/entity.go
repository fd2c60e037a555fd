package domain

import (
	"time"
)

// FavoriteSymbol is a persisted row of the user's favorites set
type FavoriteSymbol struct {
	Symbol     string    `gorm:"primaryKey" json:"symbol"`
	IsFavorite bool      `json:"is_favorite" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preference keys stored in AppConfig
const (
	PrefThemeDark = "theme-dark"
)
