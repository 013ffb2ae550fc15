// Package metrics exposes the gateway's purely observational debug HTTP
// surface: Prometheus counters/gauges on /metrics and a liveness probe on
// /healthz, served by a gorilla/mux router (both teacher dependencies). No
// component's correctness depends on this package.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

var (
	NotesAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notes_admitted_total",
		Help: "Notes accepted into the pending queue.",
	})

	NotesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_notes_rejected_total",
		Help: "Notes rejected during ingress, by reason.",
	}, []string{"reason"})

	NotesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notes_duplicate_total",
		Help: "Notes identified as duplicates of an already-queued note.",
	})

	SubmissionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_submissions_succeeded_total",
		Help: "Notes successfully submitted to the remote Notes API.",
	})

	SubmissionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_submissions_failed_total",
		Help: "Note submission attempts that failed.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notifications_sent_total",
		Help: "DMs delivered to mesh nodes.",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notifications_dropped_total",
		Help: "DMs dropped by the per-node anti-spam ring.",
	})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "#osmnote commands rejected by the sliding-window limiter.",
	})

	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_queue_pending_size",
		Help: "Current number of pending notes awaiting submission.",
	})
)

// Server serves /metrics and /healthz on addr.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a metrics server on addr.
func NewServer(addr string) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", healthzHandler)

	return &Server{httpServer: &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start runs the server in a new goroutine, logging (but not panicking on)
// a post-Shutdown ErrServerClosed.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics: server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
