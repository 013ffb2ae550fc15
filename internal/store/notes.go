package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
	"github.com/jmoiron/sqlx"
)

var noteColumns = []string{
	"id", "queue_id", "node_id", "created_at", "lat", "lon",
	"text_original", "text_normalized", "status",
	"osm_note_id", "osm_note_url", "sent_at", "last_error", "notified_sent",
}

// ErrDuplicate is returned by CreateNote when an identical note from the
// same node, at the same place, within the same duplicate-window bucket
// already exists.
var ErrDuplicate = errors.New("store: duplicate note")

// DuplicateCoordEpsilon and DuplicateBucketSeconds define the duplicate
// window: same node, same normalized text, coordinates within epsilon,
// same floor(epoch/bucket) bucket.
const (
	DuplicateCoordEpsilon  = 1e-4
	DuplicateBucketSeconds = 120
)

// Bucket returns the duplicate-window bucket for a wall-clock instant.
func Bucket(t time.Time) int64 {
	return t.Unix() / DuplicateBucketSeconds
}

// CreateNote persists a new pending note. Duplicate detection and insertion
// happen inside a single transaction so that concurrent callers observe
// them atomically: a racing duplicate cannot slip in between the check
// and the write.
//
// The queue_id is derived from the row's AUTOINCREMENT primary key rather
// than a count(*)+1 scheme, which would race under concurrent inserts
// — the display format "Q-NNNN" is preserved.
func (s *Store) CreateNote(nodeID string, lat, lon float64, textOriginal, textNormalized string, createdAt time.Time) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.Beginx()
	if err != nil {
		return nil, fmt.Errorf("store: begin create note: %w", err)
	}
	defer tx.Rollback()

	dup, err := findDuplicate(tx, nodeID, textNormalized, lat, lon, Bucket(createdAt))
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicate
	}

	res, err := tx.Exec(
		`INSERT INTO notes (queue_id, node_id, created_at, lat, lon, text_original, text_normalized, status, notified_sent)
		 VALUES ('', ?, ?, ?, ?, ?, ?, 'pending', 0)`,
		nodeID, createdAt.UTC(), lat, lon, textOriginal, textNormalized,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert note: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: last insert id: %w", err)
	}

	queueID := fmt.Sprintf("Q-%04d", id)
	if _, err := tx.Exec(`UPDATE notes SET queue_id = ? WHERE id = ?`, queueID, id); err != nil {
		return nil, fmt.Errorf("store: assign queue id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit create note: %w", err)
	}

	return &Note{
		ID:             id,
		QueueID:        queueID,
		NodeID:         nodeID,
		CreatedAt:      createdAt.UTC(),
		Lat:            lat,
		Lon:            lon,
		TextOriginal:   textOriginal,
		TextNormalized: textNormalized,
		Status:         StatusPending,
	}, nil
}

func findDuplicate(tx *sqlx.Tx, nodeID, textNormalized string, lat, lon float64, bucket int64) (bool, error) {
	rows, err := tx.Queryx(
		`SELECT lat, lon, created_at FROM notes WHERE node_id = ? AND text_normalized = ?`,
		nodeID, textNormalized,
	)
	if err != nil {
		return false, fmt.Errorf("store: duplicate lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rlat, rlon float64
		var createdAt time.Time
		if err := rows.Scan(&rlat, &rlon, &createdAt); err != nil {
			return false, fmt.Errorf("store: duplicate scan: %w", err)
		}
		if math.Abs(rlat-lat) < DuplicateCoordEpsilon &&
			math.Abs(rlon-lon) < DuplicateCoordEpsilon &&
			Bucket(createdAt) == bucket {
			return true, nil
		}
	}
	return false, rows.Err()
}

// CheckDuplicate is the read-only variant of the check embedded in
// CreateNote, exposed for callers (and tests) that need to probe without
// writing.
func (s *Store) CheckDuplicate(nodeID, textNormalized string, lat, lon float64, bucket int64) (bool, error) {
	tx, err := s.DB.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	return findDuplicate(tx, nodeID, textNormalized, lat, lon, bucket)
}

func scanNote(row interface{ StructScan(dest interface{}) error }) (*Note, error) {
	n := &Note{}
	if err := row.StructScan(n); err != nil {
		return nil, err
	}
	return n, nil
}

// scanNoteColumns scans a row produced by a squirrel-built query selecting
// noteColumns in order. Unlike scanNote it takes plain *sql.Rows/*sql.Row
// (squirrel's StmtCache does not return sqlx types), so nullable columns are
// scanned through sql.Null* and copied out by hand.
func scanNoteColumns(row interface{ Scan(dest ...interface{}) error }) (*Note, error) {
	n := &Note{}
	var osmNoteID sql.NullInt64
	var osmNoteURL sql.NullString
	var sentAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&n.ID, &n.QueueID, &n.NodeID, &n.CreatedAt, &n.Lat, &n.Lon,
		&n.TextOriginal, &n.TextNormalized, &n.Status,
		&osmNoteID, &osmNoteURL, &sentAt, &lastError, &n.NotifiedSent,
	)
	if err != nil {
		return nil, err
	}

	if osmNoteID.Valid {
		n.OSMNoteID = &osmNoteID.Int64
	}
	if osmNoteURL.Valid {
		n.OSMNoteURL = &osmNoteURL.String
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if lastError.Valid {
		n.LastError = &lastError.String
	}
	return n, nil
}

// GetPendingNotes returns up to limit pending notes ordered ascending by
// created_at, the order the Submitter must drain them in.
func (s *Store) GetPendingNotes(limit int) ([]*Note, error) {
	rows, err := s.DB.Queryx(
		`SELECT * FROM notes WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get pending notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*Note, 0, limit)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan pending note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetNoteByQueueID fetches a single note, or sql.ErrNoRows if absent.
func (s *Store) GetNoteByQueueID(queueID string) (*Note, error) {
	row := s.DB.QueryRowx(`SELECT * FROM notes WHERE queue_id = ?`, queueID)
	n, err := scanNote(row)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// MarkNoteSent transitions a note pending -> sent (invariant I2: at most
// once). osmNoteID/url/sentAt are recorded from the remote API response.
func (s *Store) MarkNoteSent(queueID string, osmNoteID int64, osmNoteURL string, sentAt time.Time) error {
	res, err := s.DB.Exec(
		`UPDATE notes SET status = 'sent', osm_note_id = ?, osm_note_url = ?, sent_at = ?, last_error = NULL
		 WHERE queue_id = ? AND status = 'pending'`,
		osmNoteID, osmNoteURL, sentAt.UTC(), queueID,
	)
	if err != nil {
		return fmt.Errorf("store: mark note sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		log.Warnf("store: MarkNoteSent(%s) affected no rows (already sent or missing)", queueID)
	}
	return nil
}

// RecordNoteError stores the last failure reason on a still-pending note.
func (s *Store) RecordNoteError(queueID string, reason string) error {
	_, err := s.DB.Exec(`UPDATE notes SET last_error = ? WHERE queue_id = ?`, reason, queueID)
	if err != nil {
		return fmt.Errorf("store: record note error: %w", err)
	}
	return nil
}

// MarkNotified sets notified_sent once a DM about this note's outcome has
// been successfully delivered (invariant I3).
func (s *Store) MarkNotified(queueID string) error {
	_, err := s.DB.Exec(`UPDATE notes SET notified_sent = 1 WHERE queue_id = ?`, queueID)
	if err != nil {
		return fmt.Errorf("store: mark notified: %w", err)
	}
	return nil
}

// NotesAwaitingSentNotification returns sent notes whose sender has not yet
// been told their note succeeded.
func (s *Store) NotesAwaitingSentNotification() ([]*Note, error) {
	rows, err := s.DB.Queryx(`SELECT * FROM notes WHERE status = 'sent' AND notified_sent = 0 ORDER BY sent_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: notes awaiting sent notification: %w", err)
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// NotesAwaitingFailureNotification returns pending notes that have
// exhausted their retry budget (last_error carries the "failed after"
// marker) and have not yet been told their note failed.
func (s *Store) NotesAwaitingFailureNotification(failureMarker string) ([]*Note, error) {
	rows, err := s.DB.Queryx(
		`SELECT * FROM notes WHERE status = 'pending' AND notified_sent = 0 AND last_error LIKE ? ORDER BY created_at ASC`,
		"%"+failureMarker+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("store: notes awaiting failure notification: %w", err)
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// TotalQueueSize returns the number of pending notes.
func (s *Store) TotalQueueSize() (int, error) {
	var n int
	if err := s.DB.Get(&n, `SELECT count(*) FROM notes WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("store: total queue size: %w", err)
	}
	return n, nil
}

// ListNodeNotes returns the most recent notes submitted by node, newest
// first. Built with squirrel on the shared stmtCache, like NodeStats, and
// scanned through scanNoteColumns in noteColumns order.
func (s *Store) ListNodeNotes(nodeID string, limit int) ([]*Note, error) {
	rows, err := sq.Select(noteColumns...).
		From("notes").
		Where(sq.Eq{"node_id": nodeID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		RunWith(s.stmtCache).
		Query()
	if err != nil {
		return nil, fmt.Errorf("store: list node notes: %w", err)
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		n, err := scanNoteColumns(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// NodeStats is the result of NodeStats: counts of a node's admitted notes.
type NodeStats struct {
	TotalNotes int
	TodayNotes int
	Pending    int
	Sent       int
}

// NodeStats computes per-node counters with two aggregate queries instead of
// loading every note into Go. "Today" is evaluated in the given IANA
// timezone; created_at is stored as a naive UTC timestamp, so the day
// boundary is computed in loc and converted to UTC before filtering.
func (s *Store) NodeStats(nodeID string, loc *time.Location) (*NodeStats, error) {
	stats := &NodeStats{}

	totals := sq.Select(
		"count(*)",
		"count(*) FILTER (WHERE status = 'pending')",
		"count(*) FILTER (WHERE status = 'sent')",
	).From("notes").
		Where(sq.Eq{"node_id": nodeID}).
		RunWith(s.stmtCache).
		QueryRow()
	if err := totals.Scan(&stats.TotalNotes, &stats.Pending, &stats.Sent); err != nil {
		return nil, fmt.Errorf("store: node stats totals: %w", err)
	}

	now := time.Now().In(loc)
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	dayEnd := dayStart.Add(24 * time.Hour)

	today := sq.Select("count(*)").From("notes").
		Where(sq.Eq{"node_id": nodeID}).
		Where(sq.GtOrEq{"created_at": dayStart}).
		Where(sq.Lt{"created_at": dayEnd}).
		RunWith(s.stmtCache).
		QueryRow()
	if err := today.Scan(&stats.TodayNotes); err != nil {
		return nil, fmt.Errorf("store: node stats today: %w", err)
	}

	return stats, nil
}

// AdjustPendingCreatedAtBy shifts created_at forward (or back) by offset for
// every pending note. Sent notes are never touched — they carry the
// timestamp the remote API observed. Offsets smaller than a
// second are a deliberate no-op (clock jitter, not an NTP correction).
func (s *Store) AdjustPendingCreatedAtBy(offset time.Duration) error {
	if offset > -time.Second && offset < time.Second {
		return nil
	}

	rows, err := s.DB.Queryx(`SELECT id, created_at FROM notes WHERE status = 'pending'`)
	if err != nil {
		return fmt.Errorf("store: adjust created_at scan: %w", err)
	}

	type shift struct {
		id  int64
		new time.Time
	}
	var shifts []shift
	for rows.Next() {
		var id int64
		var createdAt time.Time
		if err := rows.Scan(&id, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("store: adjust created_at row: %w", err)
		}
		shifts = append(shifts, shift{id: id, new: createdAt.Add(offset)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := s.DB.Beginx()
	if err != nil {
		return fmt.Errorf("store: adjust created_at begin: %w", err)
	}
	defer tx.Rollback()

	for _, sh := range shifts {
		if _, err := tx.Exec(`UPDATE notes SET created_at = ? WHERE id = ? AND status = 'pending'`, sh.new.UTC(), sh.id); err != nil {
			return fmt.Errorf("store: adjust created_at update: %w", err)
		}
	}

	return tx.Commit()
}
