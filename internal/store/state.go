package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetState returns a system_state value, or ("", false, nil) if unset.
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.DB.Get(&value, `SELECT value FROM system_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a system_state value.
func (s *Store) SetState(key, value string) error {
	_, err := s.DB.Exec(`
		INSERT INTO system_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set state %s: %w", key, err)
	}
	return nil
}

// GetStateBool reads a system_state flag, defaulting to false when unset.
func (s *Store) GetStateBool(key string) (bool, error) {
	v, ok, err := s.GetState(key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

// SetStateBool upserts a system_state flag.
func (s *Store) SetStateBool(key string, value bool) error {
	if value {
		return s.SetState(key, "true")
	}
	return s.SetState(key, "false")
}

// GetStateTime reads a system_state value parsed as RFC3339.
func (s *Store) GetStateTime(key string) (time.Time, bool, error) {
	v, ok, err := s.GetState(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse state %s: %w", key, err)
	}
	return t, true, nil
}

// SetStateTime upserts a system_state value as RFC3339.
func (s *Store) SetStateTime(key string, value time.Time) error {
	return s.SetState(key, value.UTC().Format(time.RFC3339))
}
