package positioncache

import (
	"os"
	"testing"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/internal/store"
)

func setup(t *testing.T) *store.Store {
	t.Helper()
	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("mkdir testdata: %v", err)
	}
	st, err := store.Open("testdata/positioncache_test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestGradeForAge(t *testing.T) {
	cases := []struct {
		age   time.Duration
		grade Grade
	}{
		{5 * time.Second, Fresh},
		{15 * time.Second, Fresh},
		{16 * time.Second, Approximate},
		{120 * time.Second, Approximate},
		{121 * time.Second, Stale},
	}
	for _, c := range cases {
		if got := GradeForAge(c.age); got != c.grade {
			t.Errorf("GradeForAge(%s) = %v, want %v", c.age, got, c.grade)
		}
	}
}

func TestUpdateAndGet(t *testing.T) {
	st := setup(t)
	c := New(st)

	now := time.Now()
	if err := c.Update("!aaaaaaaa", 1.5, 2.5, now); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fix, ok := c.Get("!aaaaaaaa")
	if !ok {
		t.Fatal("expected fix to be present")
	}
	if fix.Lat != 1.5 || fix.Lon != 2.5 {
		t.Errorf("unexpected fix coordinates: %+v", fix)
	}
	if fix.SeenCount != 1 {
		t.Errorf("expected seen count 1, got %d", fix.SeenCount)
	}

	if err := c.Update("!aaaaaaaa", 1.6, 2.6, now.Add(time.Second)); err != nil {
		t.Fatalf("Update (2): %v", err)
	}
	fix, _ = c.Get("!aaaaaaaa")
	if fix.SeenCount != 2 {
		t.Errorf("expected seen count 2 after a second update, got %d", fix.SeenCount)
	}
}

func TestRehydrateLoadsFromStore(t *testing.T) {
	st := setup(t)
	now := time.Now()
	if err := st.UpsertPosition("!bbbbbbbb", 9.0, 9.0, now); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	c := New(st)
	if err := c.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	fix, ok := c.Get("!bbbbbbbb")
	if !ok {
		t.Fatal("expected rehydrated fix to be present")
	}
	if fix.Lat != 9.0 {
		t.Errorf("unexpected lat after rehydrate: %f", fix.Lat)
	}
}

func TestPurgeDropsStaleFixesFromCacheAndStore(t *testing.T) {
	st := setup(t)
	c := New(st)
	now := time.Now()

	if err := c.Update("!stale", 3, 3, now.Add(-Max24h-time.Hour)); err != nil {
		t.Fatalf("Update stale: %v", err)
	}
	if err := c.Update("!fresh", 4, 4, now); err != nil {
		t.Fatalf("Update fresh: %v", err)
	}

	n, err := c.Purge(Max24h)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 position purged, got %d", n)
	}

	if _, ok := c.Get("!stale"); ok {
		t.Error("expected the stale fix to be gone from the in-memory cache")
	}
	if _, ok := c.Get("!fresh"); !ok {
		t.Error("expected the fresh fix to survive the purge")
	}

	c2 := New(st)
	if err := c2.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if _, ok := c2.Get("!stale"); ok {
		t.Error("expected the stale fix to be gone from the Store too")
	}
}

func TestAllSortedByRecency(t *testing.T) {
	st := setup(t)
	c := New(st)
	now := time.Now()

	if err := c.Update("!older", 1, 1, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Update older: %v", err)
	}
	if err := c.Update("!newer", 2, 2, now); err != nil {
		t.Fatalf("Update newer: %v", err)
	}

	all := c.All()
	idxOlder, idxNewer := -1, -1
	for i, f := range all {
		if f.NodeID == "!older" {
			idxOlder = i
		}
		if f.NodeID == "!newer" {
			idxNewer = i
		}
	}
	if idxOlder == -1 || idxNewer == -1 {
		t.Fatalf("expected both fixes in All(), got %+v", all)
	}
	if idxNewer > idxOlder {
		t.Errorf("expected newer fix to sort before older fix")
	}
}
