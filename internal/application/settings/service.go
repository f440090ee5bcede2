package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

// ValidationError rejects a settings value before anything is saved.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Defaults fill settings that were never saved, e.g. from OPENAI_API_KEY or
// the config file. They are not persisted.
type Defaults struct {
	APIKey      string
	WatchFolder string
}

// View is the settings state safe to show in a UI.
type View struct {
	APIKeySet   bool   `json:"api_key_set"`
	APIKeyHint  string `json:"api_key_hint,omitempty"`
	WatchFolder string `json:"watch_folder"`
}

// Service holds the process-wide settings. Reads are served from memory;
// writes go to the store first.
type Service struct {
	repo   records.SettingsRepository
	logger *slog.Logger

	mu        sync.RWMutex
	apiKey    string
	folder    string
	listeners []func(folder string)
}

func NewService(repo records.SettingsRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With("component", "settings")}
}

// Load reads saved settings, falling back to d for unset keys.
func (s *Service) Load(ctx context.Context, d Defaults) error {
	saved, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	key := strings.TrimSpace(saved[records.SettingAPIKey])
	if key == "" {
		key = strings.TrimSpace(d.APIKey)
	}
	folder := saved[records.SettingWatchFolder]
	if folder == "" {
		folder = d.WatchFolder
	}

	s.mu.Lock()
	s.apiKey, s.folder = key, folder
	s.mu.Unlock()

	s.logger.Info("settings loaded", "api_key_set", key != "", "watch_folder", folder)
	return nil
}

// APIKey implements ai.KeySource.
func (s *Service) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

func (s *Service) WatchFolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder
}

func (s *Service) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{APIKeySet: s.apiKey != "", APIKeyHint: MaskKey(s.apiKey), WatchFolder: s.folder}
}

func (s *Service) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ValidationError{Field: "api key", Reason: "must not be empty"}
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return &ValidationError{Field: "api key", Reason: "must not contain whitespace"}
	}
	if err := s.repo.SaveSetting(ctx, records.SettingAPIKey, key); err != nil {
		return fmt.Errorf("saving api key: %w", err)
	}
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	s.logger.Info("api key updated", "hint", MaskKey(key))
	return nil
}

// SetWatchFolder saves an existing directory as the watch folder and tells
// listeners. An empty folder stops watching.
func (s *Service) SetWatchFolder(ctx context.Context, folder string) error {
	folder = strings.TrimSpace(folder)
	if folder != "" {
		abs, err := filepath.Abs(folder)
		if err != nil {
			return &ValidationError{Field: "watch folder", Reason: err.Error()}
		}
		info, err := os.Stat(abs)
		if err != nil {
			return &ValidationError{Field: "watch folder", Reason: "does not exist"}
		}
		if !info.IsDir() {
			return &ValidationError{Field: "watch folder", Reason: "is not a directory"}
		}
		folder = abs
	}
	if err := s.repo.SaveSetting(ctx, records.SettingWatchFolder, folder); err != nil {
		return fmt.Errorf("saving watch folder: %w", err)
	}

	s.mu.Lock()
	s.folder = folder
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("watch folder updated", "watch_folder", folder)
	for _, fn := range listeners {
		fn(folder)
	}
	return nil
}

// OnWatchFolderChange registers fn to run after each successful
// SetWatchFolder.
func (s *Service) OnWatchFolderChange(fn func(folder string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// MaskKey keeps the prefix and the last four characters of a key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	prefix := key[:3]
	return prefix + "..." + key[len(key)-4:]
}
