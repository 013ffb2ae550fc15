package store

import (
	"fmt"
	"time"
)

// UpsertPosition records (or updates) a node's latest GPS fix. seen_count is
// incremented on every call so PositionCache.seen_count and §4.4's
// "#osmnodes" listing can show participation, not just recency.
func (s *Store) UpsertPosition(nodeID string, lat, lon float64, receivedAt time.Time) error {
	_, err := s.DB.Exec(`
		INSERT INTO positions (node_id, lat, lon, received_at, seen_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(node_id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			received_at = excluded.received_at,
			seen_count = positions.seen_count + 1
	`, nodeID, lat, lon, receivedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: upsert position: %w", err)
	}
	return nil
}

// GetPosition returns a node's last known fix, or sql.ErrNoRows if none.
func (s *Store) GetPosition(nodeID string) (*Position, error) {
	p := &Position{}
	row := s.DB.QueryRowx(`SELECT * FROM positions WHERE node_id = ?`, nodeID)
	if err := row.StructScan(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListAllPositions returns every known position, most recently seen first,
// up to limit rows. Used by PositionCache.Rehydrate; "#osmnodes" reads the
// rehydrated in-memory cache.
func (s *Store) ListAllPositions(limit int) ([]*Position, error) {
	rows, err := s.DB.Queryx(`SELECT * FROM positions ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list positions: %w", err)
	}
	defer rows.Close()

	positions := []*Position{}
	for rows.Next() {
		p := &Position{}
		if err := rows.StructScan(p); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// PurgePositionsOlderThan deletes positions whose fix is older than maxAge,
// returning the number of rows removed.
func (s *Store) PurgePositionsOlderThan(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	res, err := s.DB.Exec(`DELETE FROM positions WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge positions: %w", err)
	}
	return res.RowsAffected()
}
