package store

import (
	"os"
	"testing"
	"time"
)

// setup opens the package-wide Store singleton against a throwaway file
// under testdata/.
func setup(t *testing.T) *Store {
	t.Helper()
	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("mkdir testdata: %v", err)
	}
	st, err := Open("testdata/gateway_test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestCreateNoteAssignsQueueID(t *testing.T) {
	st := setup(t)

	note, err := st.CreateNote("!aaaaaaaa", 40.0, -3.0, "hola", "hola", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.QueueID == "" || note.QueueID[:2] != "Q-" {
		t.Errorf("expected queue id of the form Q-NNNN, got %q", note.QueueID)
	}
	if note.Status != StatusPending {
		t.Errorf("expected new note to be pending, got %s", note.Status)
	}
}

func TestCreateNoteDetectsDuplicate(t *testing.T) {
	st := setup(t)
	now := time.Now()

	if _, err := st.CreateNote("!bbbbbbbb", 10.0, 20.0, "bache", "bache", now); err != nil {
		t.Fatalf("first CreateNote: %v", err)
	}

	_, err := st.CreateNote("!bbbbbbbb", 10.00001, 20.00001, "bache", "bache", now.Add(5*time.Second))
	if err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate for a near-identical note, got %v", err)
	}
}

func TestCreateNoteDistinctBucketsAreNotDuplicates(t *testing.T) {
	st := setup(t)
	now := time.Now()

	if _, err := st.CreateNote("!cccccccc", 1.0, 1.0, "a", "a", now); err != nil {
		t.Fatalf("first CreateNote: %v", err)
	}

	_, err := st.CreateNote("!cccccccc", 1.0, 1.0, "a", "a", now.Add(200*time.Second))
	if err != nil {
		t.Errorf("expected a note 200s later (different bucket) to be accepted, got %v", err)
	}
}

func TestMarkNoteSentAndNotified(t *testing.T) {
	st := setup(t)

	note, err := st.CreateNote("!dddddddd", 5.0, 5.0, "baden", "baden", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if err := st.MarkNoteSent(note.QueueID, 42, "https://www.openstreetmap.org/note/42", time.Now()); err != nil {
		t.Fatalf("MarkNoteSent: %v", err)
	}

	pending, err := st.NotesAwaitingSentNotification()
	if err != nil {
		t.Fatalf("NotesAwaitingSentNotification: %v", err)
	}
	found := false
	for _, n := range pending {
		if n.QueueID == note.QueueID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s to be awaiting sent notification", note.QueueID)
	}

	if err := st.MarkNotified(note.QueueID); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	again, err := st.NotesAwaitingSentNotification()
	if err != nil {
		t.Fatalf("NotesAwaitingSentNotification (2): %v", err)
	}
	for _, n := range again {
		if n.QueueID == note.QueueID {
			t.Errorf("expected %s to no longer be awaiting notification", note.QueueID)
		}
	}
}

func TestUserLangDefaultsWhenUnset(t *testing.T) {
	st := setup(t)

	lang, err := st.GetUserLang("!eeeeeeee")
	if err != nil {
		t.Fatalf("GetUserLang: %v", err)
	}
	if lang != DefaultLanguage {
		t.Errorf("expected default language %q, got %q", DefaultLanguage, lang)
	}

	if err := st.SetUserLang("!eeeeeeee", "en"); err != nil {
		t.Fatalf("SetUserLang: %v", err)
	}
	lang, err = st.GetUserLang("!eeeeeeee")
	if err != nil {
		t.Fatalf("GetUserLang (2): %v", err)
	}
	if lang != "en" {
		t.Errorf("expected en, got %q", lang)
	}
}

func TestAdjustPendingCreatedAtBy(t *testing.T) {
	st := setup(t)

	note, err := st.CreateNote("!ffffffff", 2.0, 2.0, "x", "x", time.Now())
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if err := st.AdjustPendingCreatedAtBy(2 * time.Minute); err != nil {
		t.Fatalf("AdjustPendingCreatedAtBy: %v", err)
	}

	adjusted, err := st.GetNoteByQueueID(note.QueueID)
	if err != nil {
		t.Fatalf("GetNoteByQueueID: %v", err)
	}
	if !adjusted.CreatedAt.After(note.CreatedAt) {
		t.Errorf("expected created_at to move forward after a +2m adjustment")
	}
}
