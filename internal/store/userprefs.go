package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetUserLang returns the node's preferred language, defaulting to
// DefaultLanguage when no preference was ever recorded.
func (s *Store) GetUserLang(nodeID string) (string, error) {
	var lang string
	err := s.DB.Get(&lang, `SELECT language FROM user_preferences WHERE node_id = ?`, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultLanguage, nil
	}
	if err != nil {
		return DefaultLanguage, fmt.Errorf("store: get user lang: %w", err)
	}
	return lang, nil
}

// SetUserLang persists the node's language preference (§4.4 "#osmlang").
func (s *Store) SetUserLang(nodeID, lang string) error {
	_, err := s.DB.Exec(`
		INSERT INTO user_preferences (node_id, language) VALUES (?, ?)
		ON CONFLICT(node_id) DO UPDATE SET language = excluded.language
	`, nodeID, lang)
	if err != nil {
		return fmt.Errorf("store: set user lang: %w", err)
	}
	return nil
}
