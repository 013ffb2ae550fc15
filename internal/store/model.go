// Package store owns the gateway's durable relational state: the note
// queue, the position history, per-user language preference, and a small
// key/value table for process-wide flags that must survive a restart.
package store

import "time"

// NoteStatus is the lifecycle state of a queued note. A note transitions
// pending -> sent exactly once and is never deleted.
type NoteStatus string

const (
	StatusPending NoteStatus = "pending"
	StatusSent    NoteStatus = "sent"
)

// Note is a single queued (or already submitted) map annotation.
type Note struct {
	ID             int64      `db:"id"`
	QueueID        string     `db:"queue_id"`
	NodeID         string     `db:"node_id"`
	CreatedAt      time.Time  `db:"created_at"`
	Lat            float64    `db:"lat"`
	Lon            float64    `db:"lon"`
	TextOriginal   string     `db:"text_original"`
	TextNormalized string     `db:"text_normalized"`
	Status         NoteStatus `db:"status"`
	OSMNoteID      *int64     `db:"osm_note_id"`
	OSMNoteURL     *string    `db:"osm_note_url"`
	SentAt         *time.Time `db:"sent_at"`
	LastError      *string    `db:"last_error"`
	NotifiedSent   bool       `db:"notified_sent"`
}

// Position is the latest known GPS fix for a mesh node.
type Position struct {
	NodeID     string    `db:"node_id"`
	Lat        float64   `db:"lat"`
	Lon        float64   `db:"lon"`
	ReceivedAt time.Time `db:"received_at"`
	SeenCount  int       `db:"seen_count"`
}

// Reserved system_state keys.
const (
	StateLastBroadcastDate     = "last_broadcast_date"
	StateStartupTimestamp      = "startup_timestamp"
	StateTimeCorrectionApplied = "time_correction_applied"
)

// Default language for a node with no stored preference.
const DefaultLanguage = "es"
