package orchestrator

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/internal/commandparser"
	"github.com/angoca/lora-osmnotes-gateway/internal/notifier"
	"github.com/angoca/lora-osmnotes-gateway/internal/positioncache"
	"github.com/angoca/lora-osmnotes-gateway/internal/ratelimiter"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
	"github.com/angoca/lora-osmnotes-gateway/internal/submitter"
	"github.com/angoca/lora-osmnotes-gateway/internal/transport"
)

func setup(t *testing.T) (*Orchestrator, *transport.DryRunAdapter, *positioncache.Cache, *store.Store) {
	t.Helper()
	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("mkdir testdata: %v", err)
	}
	st, err := store.Open("testdata/orchestrator_test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	positions := positioncache.New(st)
	parser := commandparser.New(st, positions, ratelimiter.New(), nil)
	sub := submitter.New(submitter.Config{DryRun: true}, st)
	adapter := transport.NewDryRunAdapter()
	notif := notifier.New(adapter, st)

	o := New(Config{WorkerInterval: time.Minute, SubmitterDrainLimit: 10}, Deps{
		Store:     st,
		Positions: positions,
		Parser:    parser,
		Submitter: sub,
		Notifier:  notif,
		Adapter:   adapter,
	})
	o.adapter.Subscribe(o.onText, o.onPosition)
	return o, adapter, positions, st
}

func TestOnPositionUpdatesCache(t *testing.T) {
	o, adapter, positions, _ := setup(t)
	_ = o
	adapter.InjectPosition("!aaaaaaaa", 10.0, 20.0)

	fix, ok := positions.Get("!aaaaaaaa")
	if !ok {
		t.Fatal("expected a position fix to be recorded")
	}
	if fix.Lat != 10.0 || fix.Lon != 20.0 {
		t.Errorf("unexpected fix: %+v", fix)
	}
}

func TestOnTextQueuesAndRepliesForANote(t *testing.T) {
	o, adapter, positions, st := setup(t)
	_ = o
	if err := positions.Update("!bbbbbbbb", 1.0, 1.0, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	adapter.InjectText("!bbbbbbbb", "#osmnote hay un bache")

	// One ack DM for the queued note, plus a second, synchronous
	// success-with-URL DM once the immediate submission attempt lands.
	if len(adapter.SentDMs) != 2 {
		t.Fatalf("expected 2 DMs (ack + success), got %d", len(adapter.SentDMs))
	}
	if !strings.Contains(adapter.SentDMs[1].Text, "999999") {
		t.Errorf("expected the success DM to carry the dry-run note URL, got %q", adapter.SentDMs[1].Text)
	}

	notes, err := st.GetPendingNotes(10)
	if err != nil {
		t.Fatalf("GetPendingNotes: %v", err)
	}
	// The immediate synchronous submission attempt runs in dry-run mode
	// and should have moved the note straight to sent.
	if len(notes) != 0 {
		t.Errorf("expected the note to be submitted immediately in dry-run mode, %d still pending", len(notes))
	}
}

func TestOnTextIgnoresUnrelatedMessages(t *testing.T) {
	o, adapter, _, _ := setup(t)
	_ = o
	adapter.InjectText("!cccccccc", "buenos días a todos")
	if len(adapter.SentDMs) != 0 {
		t.Errorf("expected no reply for unrelated chatter, got %d", len(adapter.SentDMs))
	}
}

func TestAbs(t *testing.T) {
	if abs(-5*time.Second) != 5*time.Second {
		t.Error("abs of a negative duration should be positive")
	}
	if abs(5*time.Second) != 5*time.Second {
		t.Error("abs of a positive duration should be unchanged")
	}
}

func TestMaybeDailyBroadcastSendsOncePerDay(t *testing.T) {
	o, adapter, _, _ := setup(t)
	o.cfg.BroadcastLocale = "es"

	o.maybeDailyBroadcast()
	if len(adapter.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(adapter.Broadcasts))
	}

	o.maybeDailyBroadcast()
	if len(adapter.Broadcasts) != 1 {
		t.Errorf("expected the second call on the same day to be a no-op, got %d broadcasts", len(adapter.Broadcasts))
	}
}
