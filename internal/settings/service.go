// Package settings loads, validates and persists the versioned user
// settings blob.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-workbench/internal/marketdata/bus"
	"market-workbench/internal/model"

	"go.uber.org/zap"
)

// ErrInvalidSettings wraps every rejected save or import.
var ErrInvalidSettings = errors.New("invalid settings")

// Service owns the settings row. It keeps the last loaded or saved value
// as the current settings.
type Service struct {
	store  model.SettingsStore
	logger *zap.Logger
	now    func() time.Time
	topic  *bus.Topic[model.UserSettings]

	mu      sync.RWMutex
	current model.UserSettings
}

// NewService creates a service backed by store. now may be nil.
func NewService(store model.SettingsStore, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	s := &Service{
		store:  store,
		logger: logger.With(zap.String("component", "settings")),
		now:    now,
		topic:  bus.NewTopic[model.UserSettings]("settings.changed", logger),
	}
	s.current = s.Defaults()
	return s
}

// Changed publishes every saved or reset value.
func (s *Service) Changed() *bus.Topic[model.UserSettings] { return s.topic }

// Defaults returns the factory settings.
func (s *Service) Defaults() model.UserSettings {
	return model.DefaultSettings(s.now().UnixMilli())
}

// Current returns the last loaded or saved settings.
func (s *Service) Current() model.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the stored settings. A missing, unreadable or invalid row
// yields the defaults. Rows written by an older version are merged over
// the defaults and written back.
func (s *Service) Load(ctx context.Context) model.UserSettings {
	loaded, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("failed to load settings, using defaults", zap.Error(err))
		loaded = s.Defaults()
	}
	s.setCurrent(loaded)
	return loaded
}

func (s *Service) load(ctx context.Context) (model.UserSettings, error) {
	raw, err := s.store.GetSettings(ctx)
	if err != nil {
		return model.UserSettings{}, err
	}

	var stored model.UserSettings
	if err := json.Unmarshal(raw, &stored); err != nil {
		return model.UserSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	if stored.Version < model.SettingsVersion {
		// older rows may lack fields
		migrated := s.Defaults()
		if err := json.Unmarshal(raw, &migrated); err != nil {
			return model.UserSettings{}, fmt.Errorf("decode settings: %w", err)
		}
		if err := migrated.Validate(); err != nil {
			return model.UserSettings{}, err
		}
		s.logger.Info("migrating settings",
			zap.Int("from", stored.Version), zap.Int("to", model.SettingsVersion))
		return s.Save(ctx, migrated)
	}
	if err := stored.Validate(); err != nil {
		return model.UserSettings{}, err
	}
	return stored, nil
}

// Save validates v, stamps the version and time, and persists it.
func (s *Service) Save(ctx context.Context, v model.UserSettings) (model.UserSettings, error) {
	v.Version = model.SettingsVersion
	v.LastUpdated = s.now().UnixMilli()
	if err := v.Validate(); err != nil {
		return model.UserSettings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.SaveSettings(ctx, data); err != nil {
		return model.UserSettings{}, fmt.Errorf("save settings: %w", err)
	}
	s.setCurrent(v)
	s.topic.Publish(v)
	return v, nil
}

// Update applies a partial JSON document over the current settings and
// saves the result.
func (s *Service) Update(ctx context.Context, patch []byte) (model.UserSettings, error) {
	next := s.Current()
	if err := json.Unmarshal(patch, &next); err != nil {
		return model.UserSettings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s.Save(ctx, next)
}

// Reset deletes the stored row and returns the defaults.
func (s *Service) Reset(ctx context.Context) (model.UserSettings, error) {
	if err := s.store.ClearSettings(ctx); err != nil {
		return model.UserSettings{}, fmt.Errorf("reset settings: %w", err)
	}
	d := s.Defaults()
	s.setCurrent(d)
	s.topic.Publish(d)
	return d, nil
}

// Export returns the current settings as indented JSON.
func (s *Service) Export() ([]byte, error) {
	return json.MarshalIndent(s.Current(), "", "  ")
}

// Import parses, validates and saves a backup produced by Export.
func (s *Service) Import(ctx context.Context, data []byte) (model.UserSettings, error) {
	var v model.UserSettings
	if err := json.Unmarshal(data, &v); err != nil {
		return model.UserSettings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s.Save(ctx, v)
}

// Close closes the change topic.
func (s *Service) Close() { s.topic.Close() }

func (s *Service) setCurrent(v model.UserSettings) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}
