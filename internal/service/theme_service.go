package service

import (
	"fmt"
	"strconv"
	"sync"

	"market_go/internal/domain"
)

// ThemeService holds the persisted dark-theme flag. Dark is the default.
type ThemeService struct {
	mu     sync.RWMutex
	isDark bool
	repo   domain.PreferenceRepository
}

// NewThemeService loads the flag from repo; a missing or malformed value means dark.
func NewThemeService(repo domain.PreferenceRepository) (*ThemeService, error) {
	s := &ThemeService{isDark: true, repo: repo}
	if repo == nil {
		return s, nil
	}

	prefs, err := repo.LoadConfigMap()
	if err != nil {
		return nil, fmt.Errorf("load theme preference: %w", err)
	}
	if v, ok := prefs[domain.PrefThemeDark]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.isDark = b
		}
	}
	return s, nil
}

// IsDark returns the current theme flag
func (s *ThemeService) IsDark() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isDark
}

// ToggleTheme flips the flag and persists it. Returns the new value.
func (s *ThemeService) ToggleTheme() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := !s.isDark
	if s.repo != nil {
		if err := s.repo.SaveConfig(domain.PrefThemeDark, strconv.FormatBool(next)); err != nil {
			return s.isDark, fmt.Errorf("toggle theme: %w", err)
		}
	}
	s.isDark = next
	return next, nil
}
