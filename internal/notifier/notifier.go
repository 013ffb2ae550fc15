// Package notifier delivers command responses and unsolicited DMs through
// the TransportAdapter, applying a per-node anti-spam ring and coalescing
// overflow sent-notifications into a single summary.
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/internal/geocoder"
	"github.com/angoca/lora-osmnotes-gateway/internal/i18n"
	"github.com/angoca/lora-osmnotes-gateway/internal/metrics"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
	"github.com/angoca/lora-osmnotes-gateway/internal/transport"
	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

const (
	// ringWindow and ringCapacity bound the anti-spam admission: at most
	// ringCapacity DMs per node within ringWindow.
	ringWindow   = 60 * time.Second
	ringCapacity = 3
)

// Notifier sends DM replies and sent/failed submission notifications.
type Notifier struct {
	adapter  transport.Adapter
	store    *store.Store
	geocoder *geocoder.Geocoder

	mu   sync.Mutex
	ring map[string][]time.Time
}

func New(adapter transport.Adapter, st *store.Store) *Notifier {
	return &Notifier{adapter: adapter, store: st, ring: make(map[string][]time.Time)}
}

// SetGeocoder attaches the optional reverse-geocoding collaborator used to
// resolve a place name for note_sent DMs. With a nil (or never-attached)
// geocoder the place is blank and noteSentText leaves the note_sent_place
// suffix out.
func (n *Notifier) SetGeocoder(g *geocoder.Geocoder) {
	n.geocoder = g
}

// admit reports whether nodeID may receive one more DM right now, and
// records the admission if so.
func (n *Notifier) admit(nodeID string, now time.Time) bool {
	return n.admitN(nodeID, now, 1)
}

// admitN reports whether nodeID has room for count more DMs within the ring
// window right now, and if so, reserves all count slots atomically — either
// every DM in a batch is admitted together, or none are, so a caller can
// fall back to a single coalesced summary instead of admitting part of a
// batch and dropping the rest.
func (n *Notifier) admitN(nodeID string, now time.Time, count int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := now.Add(-ringWindow)
	events := n.ring[nodeID]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept)+count > ringCapacity {
		n.ring[nodeID] = kept
		return false
	}
	for i := 0; i < count; i++ {
		kept = append(kept, now)
	}
	n.ring[nodeID] = kept
	return true
}

// deliver appends the mandatory disclaimer suffix and sends text as a DM.
func (n *Notifier) deliver(nodeID, locale, text string) bool {
	full := text + "\n" + i18n.Translate(locale, i18n.DisclaimerKey)
	return n.adapter.SendDM(nodeID, full)
}

// SendReply delivers a command response, dropping it silently if the
// node's anti-spam ring is full.
func (n *Notifier) SendReply(nodeID, text string) {
	if !n.admit(nodeID, time.Now()) {
		metrics.NotificationsDropped.Inc()
		return
	}
	if n.deliver(nodeID, n.lang(nodeID), text) {
		metrics.NotificationsSent.Inc()
	} else {
		log.Debugf("notifier: reply to %s not delivered (disconnected)", nodeID)
	}
}

func (n *Notifier) lang(nodeID string) string {
	lang, err := n.store.GetUserLang(nodeID)
	if err != nil {
		return store.DefaultLanguage
	}
	return lang
}

// ProcessSentNotifications reads notes with status=sent and
// notified_sent=0, DMs each originating node its success message, and on
// delivery marks the row notified. Items that could not be delivered
// because the radio is disconnected are left unmarked and retried next
// cycle. When a node's ring is full, its individual DMs are coalesced into
// a single summary.
func (n *Notifier) ProcessSentNotifications() error {
	notes, err := n.store.NotesAwaitingSentNotification()
	if err != nil {
		return err
	}

	byNode := make(map[string][]*store.Note)
	for _, note := range notes {
		byNode[note.NodeID] = append(byNode[note.NodeID], note)
	}

	now := time.Now()
	for nodeID, nodeNotes := range byNode {
		locale := n.lang(nodeID)

		if len(nodeNotes) <= ringCapacity && n.admitN(nodeID, now, len(nodeNotes)) {
			for _, note := range nodeNotes {
				text := n.noteSentText(locale, note)
				if n.deliver(nodeID, locale, text) {
					metrics.NotificationsSent.Inc()
					if err := n.store.MarkNotified(note.QueueID); err != nil {
						log.Errorf("notifier: mark notified %s: %v", note.QueueID, err)
					}
				}
			}
			continue
		}

		summary := i18n.Translate(locale, "summary_sent", len(nodeNotes))
		if n.deliver(nodeID, locale, summary) {
			metrics.NotificationsSent.Inc()
			for _, note := range nodeNotes {
				if err := n.store.MarkNotified(note.QueueID); err != nil {
					log.Errorf("notifier: mark notified %s: %v", note.QueueID, err)
				}
			}
		}
	}
	return nil
}

// noteSentText formats the success DM, reverse-geocoding the note's
// position into a place name when a geocoder is attached. A lookup
// failure (rate-limited, upstream down, no geocoder attached) simply
// leaves the place out rather than blocking the notification.
func (n *Notifier) noteSentText(locale string, note *store.Note) string {
	place := ""
	if n.geocoder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		desc, err := n.geocoder.Describe(ctx, note.Lat, note.Lon)
		cancel()
		if err != nil {
			log.Debugf("notifier: geocode %s: %v", note.QueueID, err)
		} else {
			place = desc
		}
	}

	placeSuffix := ""
	if place != "" {
		placeSuffix = i18n.Translate(locale, "note_sent_place", place)
	}

	url := ""
	if note.OSMNoteURL != nil {
		url = *note.OSMNoteURL
	}
	return i18n.Translate(locale, "note_sent", note.QueueID, url, placeSuffix)
}

// ProcessFailedNotifications does the symmetric work for items that
// reached the retry cap (last_error begins with the "failed after"
// marker recorded by the submitter).
func (n *Notifier) ProcessFailedNotifications() error {
	const failureMarker = "failed after"

	notes, err := n.store.NotesAwaitingFailureNotification(failureMarker)
	if err != nil {
		return err
	}

	for _, note := range notes {
		locale := n.lang(note.NodeID)
		reason := ""
		if note.LastError != nil {
			reason = *note.LastError
		}
		text := i18n.Translate(locale, "note_failed", note.QueueID, reason)

		if !n.admit(note.NodeID, time.Now()) {
			metrics.NotificationsDropped.Inc()
			continue
		}
		if n.deliver(note.NodeID, locale, text) {
			metrics.NotificationsSent.Inc()
			if err := n.store.MarkNotified(note.QueueID); err != nil {
				log.Errorf("notifier: mark notified %s: %v", note.QueueID, err)
			}
		}
	}
	return nil
}
