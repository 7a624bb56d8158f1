package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const settingsID = "user-settings"

// SaveSettings stores the settings blob and stamps it with the current time.
func (s *Store) SaveSettings(ctx context.Context, data []byte) error {
	defer s.observe("save_settings")()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, data, last_updated) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, last_updated = excluded.last_updated`,
		settingsID, string(data), s.nowMs())
	if err != nil {
		return fmt.Errorf("sqlite save settings: %w", err)
	}
	return nil
}

// GetSettings returns the stored blob or ErrNotFound.
func (s *Store) GetSettings(ctx context.Context) ([]byte, error) {
	defer s.observe("get_settings")()
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM settings WHERE id = ?`, settingsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get settings: %w", err)
	}
	return []byte(data), nil
}

// GetSettingsLastUpdated returns when settings were last saved, in epoch ms.
func (s *Store) GetSettingsLastUpdated(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.GetContext(ctx, &ts, `SELECT last_updated FROM settings WHERE id = ?`, settingsID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite get settings timestamp: %w", err)
	}
	return ts, nil
}

// ClearSettings deletes the stored settings.
func (s *Store) ClearSettings(ctx context.Context) error {
	defer s.observe("clear_settings")()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE id = ?`, settingsID); err != nil {
		return fmt.Errorf("sqlite clear settings: %w", err)
	}
	return nil
}
