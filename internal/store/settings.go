package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/oj"
)

// SettingsVersion is the current settings schema version.
const SettingsVersion = 2

// Settings is the versioned user-settings object.
type Settings struct {
	Version              int     `json:"version"`
	Theme                string  `json:"theme"`
	AggregationThreshold int     `json:"aggregationThreshold"`
	CornerRadius         float64 `json:"cornerRadius"`
	FollowSymlinks       bool    `json:"followSymlinks"`
}

func DefaultSettings() Settings {
	return Settings{
		Version:              SettingsVersion,
		Theme:                "underground",
		AggregationThreshold: 28,
		CornerRadius:         6,
	}
}

// SettingsStore persists Settings at a fixed path.
type SettingsStore struct {
	path string
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load reads settings. A missing file yields defaults; an unreadable
// file is backed up and reinitialized; an older or unknown schema is
// migrated field by field.
func (s *SettingsStore) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	parsed, err := oj.Parse(data)
	if err != nil {
		if backupErr := backupCorrupt(s.path); backupErr != nil {
			return Settings{}, backupErr
		}
		return DefaultSettings(), nil
	}
	raw, ok := parsed.(map[string]any)
	if !ok {
		if backupErr := backupCorrupt(s.path); backupErr != nil {
			return Settings{}, backupErr
		}
		return DefaultSettings(), nil
	}
	return migrate(raw), nil
}

// migrate folds a raw settings document onto the current schema:
// unknown fields reset to defaults, recognizable ones carry over.
func migrate(raw map[string]any) Settings {
	out := DefaultSettings()
	if theme, ok := raw["theme"].(string); ok && theme != "" {
		out.Theme = theme
	}
	if v, ok := asInt(raw["aggregationThreshold"]); ok && v > 0 {
		out.AggregationThreshold = v
	}
	if v, ok := asFloat(raw["cornerRadius"]); ok && v > 0 {
		out.CornerRadius = v
	}
	if v, ok := raw["followSymlinks"].(bool); ok {
		out.FollowSymlinks = v
	}
	out.Version = SettingsVersion
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Save writes settings to disk.
func (s *SettingsStore) Save(settings Settings) error {
	settings.Version = SettingsVersion
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(oj.JSON(settings, 2)), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
