package domain

// FavoriteRepository persists the favorites set across restarts
type FavoriteRepository interface {
	SetFavorite(symbol string, isFavorite bool) error
	ListFavorites() ([]string, error)
	HasFavorites() (bool, error)
}

// PreferenceRepository is a key-value store for UI preferences (theme, etc.)
type PreferenceRepository interface {
	SaveConfig(key, value string) error
	LoadConfigMap() (map[string]string, error)
}
