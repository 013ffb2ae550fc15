package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServerServesMetricsAndHealthz(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	srv.httpServer.Addr = "127.0.0.1:19091"
	srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	// Give the listener goroutine a moment to bind.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19091/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp2, err := http.Get("http://127.0.0.1:19091/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp2.StatusCode)
	}
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(NotesAdmitted)
	NotesAdmitted.Inc()
	after := testutil.ToFloat64(NotesAdmitted)
	if after != before+1 {
		t.Errorf("expected NotesAdmitted to increment by 1, got %f -> %f", before, after)
	}
}
