// Package submitter moves notes from pending to sent by POSTing them to
// the remote OSM Notes API, applying a global rate gate, a per-item retry
// cap, and HTTP-status error classification.
package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/internal/gatewaybus"
	"github.com/angoca/lora-osmnotes-gateway/internal/i18n"
	"github.com/angoca/lora-osmnotes-gateway/internal/metrics"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

const (
	// MaxRetries: after this many failed attempts a note's error is
	// finalized and it is skipped until operator intervention.
	MaxRetries = 3
	// RetryDelay separates attempts on the same item across drains.
	RetryDelay = 60 * time.Second
	// minGateInterval is the minimum spacing between outbound submissions.
	minGateInterval = 3 * time.Second
)

// Config carries the remote endpoint and submission mode.
type Config struct {
	NotesURL string
	DryRun   bool
	Timeout  time.Duration
}

// noteCreateResponse mirrors the OSM Notes API's creation response shape.
type noteCreateResponse struct {
	Properties struct {
		ID int64 `json:"id"`
	} `json:"properties"`
	Error string `json:"error"`
}

// retryState tracks per-item attempts across drain cycles, in memory.
type retryState struct {
	attempts  int
	lastTried time.Time
}

// Submitter posts queued notes to the remote Notes endpoint.
type Submitter struct {
	cfg    Config
	client http.Client
	store  *store.Store
	bus    *gatewaybus.Bus

	gateMu   sync.Mutex
	lastSend time.Time

	retryMu sync.Mutex
	retries map[string]*retryState
}

func New(cfg Config, st *store.Store) *Submitter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Submitter{
		cfg:     cfg,
		client:  http.Client{Timeout: cfg.Timeout},
		store:   st,
		retries: make(map[string]*retryState),
	}
}

// SetBus attaches the optional event publisher. A nil (or never-attached)
// bus is handled by gatewaybus.Bus itself — every Publish call is a no-op.
func (s *Submitter) SetBus(bus *gatewaybus.Bus) {
	s.bus = bus
}

// processPending drains up to limit pending notes, oldest first, honouring
// the global rate gate and per-item retry caps. Returns the count of notes
// successfully submitted.
func (s *Submitter) processPending(ctx context.Context, limit int) (int, error) {
	notes, err := s.store.GetPendingNotes(limit)
	if err != nil {
		return 0, fmt.Errorf("submitter: list pending: %w", err)
	}

	sent := 0
	for _, n := range notes {
		if s.retryExhausted(n.QueueID) {
			continue
		}
		if !s.readyForRetry(n.QueueID) {
			continue
		}

		s.waitForGate()

		ok := s.submitOne(ctx, n)
		if ok {
			sent++
		}
	}
	return sent, nil
}

// ProcessPending is the exported entry point used by the orchestrator.
func (s *Submitter) ProcessPending(ctx context.Context, limit int) (int, error) {
	return s.processPending(ctx, limit)
}

func (s *Submitter) retryExhausted(queueID string) bool {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	st, ok := s.retries[queueID]
	return ok && st.attempts >= MaxRetries
}

func (s *Submitter) readyForRetry(queueID string) bool {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	st, ok := s.retries[queueID]
	if !ok {
		return true
	}
	return time.Since(st.lastTried) >= RetryDelay
}

func (s *Submitter) recordAttempt(queueID string) int {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	st, ok := s.retries[queueID]
	if !ok {
		st = &retryState{}
		s.retries[queueID] = st
	}
	st.attempts++
	st.lastTried = time.Now()
	return st.attempts
}

// waitForGate blocks until at least minGateInterval has passed since the
// last submission, enforcing the global rate gate via a monotonic
// timestamp.
func (s *Submitter) waitForGate() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	elapsed := time.Since(s.lastSend)
	if elapsed < minGateInterval {
		time.Sleep(minGateInterval - elapsed)
	}
	s.lastSend = time.Now()
}

// submitOne submits a single note and updates Store accordingly, returning
// whether it reached "sent".
func (s *Submitter) submitOne(ctx context.Context, n *store.Note) bool {
	locale, err := s.store.GetUserLang(n.NodeID)
	if err != nil {
		locale = store.DefaultLanguage
	}
	body := n.TextNormalized + i18n.Translate(locale, "attribution_footer")

	osmID, osmURL, err := s.post(ctx, n.Lat, n.Lon, body)
	if err == nil {
		if err := s.store.MarkNoteSent(n.QueueID, osmID, osmURL, time.Now()); err != nil {
			log.Errorf("submitter: mark sent %s: %v", n.QueueID, err)
			return false
		}
		metrics.SubmissionsSucceeded.Inc()
		s.bus.Publish(gatewaybus.EventNoteSent, n.NodeID, n.QueueID, osmURL)
		return true
	}

	metrics.SubmissionsFailed.Inc()
	attempts := s.recordAttempt(n.QueueID)
	reason := classifyError(err)
	if attempts >= MaxRetries {
		reason = fmt.Sprintf("failed after %d attempts: %s", attempts, reason)
		s.bus.Publish(gatewaybus.EventNoteFailed, n.NodeID, n.QueueID, reason)
	}
	if rerr := s.store.RecordNoteError(n.QueueID, reason); rerr != nil {
		log.Errorf("submitter: record error %s: %v", n.QueueID, rerr)
	}
	return false
}

// post performs the HTTP submission, or short-circuits with a deterministic
// mock result in dry-run mode.
func (s *Submitter) post(ctx context.Context, lat, lon float64, body string) (id int64, url string, err error) {
	if s.cfg.DryRun {
		return 999999, "https://www.openstreetmap.org/note/999999", nil
	}

	payload := map[string]interface{}{
		"lat":  lat,
		"lon":  lon,
		"text": body,
	}
	buf := &bytes.Buffer{}
	if encErr := json.NewEncoder(buf).Encode(payload); encErr != nil {
		return 0, "", &submitError{kind: "encode", message: encErr.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.NotesURL, buf)
	if err != nil {
		return 0, "", &submitError{kind: "request", message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", &submitError{kind: "timeout", message: err.Error()}
		}
		return 0, "", &submitError{kind: "connection", message: err.Error()}
	}
	defer res.Body.Close()

	var decoded noteCreateResponse
	_ = json.NewDecoder(res.Body).Decode(&decoded)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, "", &submitError{kind: "http", status: res.StatusCode, message: decoded.Error}
	}

	noteURL := fmt.Sprintf("https://www.openstreetmap.org/note/%d", decoded.Properties.ID)
	return decoded.Properties.ID, noteURL, nil
}

type submitError struct {
	kind    string
	status  int
	message string
}

func (e *submitError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("%s error (status %d)", e.kind, e.status)
}

// classifyError maps a submission error to the user-facing reason chosen
// by status code.
func classifyError(err error) string {
	se, ok := err.(*submitError)
	if !ok {
		return err.Error()
	}

	switch se.kind {
	case "timeout":
		return "request timed out"
	case "connection":
		return "connection error"
	case "http":
		switch se.status {
		case http.StatusBadRequest:
			return "invalid request"
		case http.StatusForbidden:
			return "denied (rate)"
		case http.StatusTooManyRequests:
			return "too many requests"
		case http.StatusInternalServerError:
			return "server error"
		case http.StatusServiceUnavailable:
			return "unavailable"
		}
		if se.message != "" {
			return se.message
		}
		return fmt.Sprintf("unexpected status %d", se.status)
	default:
		return se.Error()
	}
}
