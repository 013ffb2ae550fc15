package submitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/internal/store"
)

func setup(t *testing.T, dbName string) *store.Store {
	t.Helper()
	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("mkdir testdata: %v", err)
	}
	// dbName is unused: the store singleton is bound to the first path it
	// is opened with, so every test in this package shares one DB file.
	_ = dbName
	st, err := store.Open("testdata/submitter_test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestDryRunSubmissionSucceeds(t *testing.T) {
	st := setup(t, "dryrun")
	note, err := st.CreateNote("!aaaaaaaa", 1, 1, "bache", "bache", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	sub := New(Config{DryRun: true}, st)
	sent, err := sub.ProcessPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 note sent, got %d", sent)
	}

	updated, err := st.GetNoteByQueueID(note.QueueID)
	if err != nil {
		t.Fatalf("GetNoteByQueueID: %v", err)
	}
	if updated.Status != store.StatusSent {
		t.Errorf("expected status sent, got %s", updated.Status)
	}
	if updated.OSMNoteID == nil || *updated.OSMNoteID != 999999 {
		t.Errorf("expected dry-run note id 999999, got %v", updated.OSMNoteID)
	}
}

func TestSuccessfulHTTPSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"properties": map[string]interface{}{"id": 123},
		})
	}))
	defer server.Close()

	st := setup(t, "live")
	note, err := st.CreateNote("!bbbbbbbb", 2, 2, "bache2", "bache2", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	sub := New(Config{NotesURL: server.URL}, st)
	sent, err := sub.ProcessPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 note sent, got %d", sent)
	}

	updated, err := st.GetNoteByQueueID(note.QueueID)
	if err != nil {
		t.Fatalf("GetNoteByQueueID: %v", err)
	}
	if updated.OSMNoteID == nil || *updated.OSMNoteID != 123 {
		t.Errorf("expected note id 123, got %v", updated.OSMNoteID)
	}
}

func TestFailureRecordsErrorAndRespectsRetryDelay(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	st := setup(t, "failure")
	note, err := st.CreateNote("!cccccccc", 3, 3, "bache3", "bache3", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	sub := New(Config{NotesURL: server.URL}, st)
	if _, err := sub.ProcessPending(context.Background(), 10); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	updated, err := st.GetNoteByQueueID(note.QueueID)
	if err != nil {
		t.Fatalf("GetNoteByQueueID: %v", err)
	}
	if updated.Status != store.StatusPending {
		t.Errorf("expected status to remain pending after a failed submission")
	}
	if updated.LastError == nil || *updated.LastError == "" {
		t.Error("expected last_error to be recorded")
	}

	// A second drain immediately after should not retry yet (cooldown).
	if _, err := sub.ProcessPending(context.Background(), 10); err != nil {
		t.Fatalf("ProcessPending (2): %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the retry cooldown to suppress a second attempt, got %d calls", calls)
	}
}
