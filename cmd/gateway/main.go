// Command gateway runs the LoRa mesh to OpenStreetMap Notes bridge: it
// loads configuration, opens the durable store, wires the ingress
// pipeline to a radio TransportAdapter, and runs the worker loop until a
// termination signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/angoca/lora-osmnotes-gateway/internal/commandparser"
	"github.com/angoca/lora-osmnotes-gateway/internal/config"
	"github.com/angoca/lora-osmnotes-gateway/internal/gatewaybus"
	"github.com/angoca/lora-osmnotes-gateway/internal/geocoder"
	"github.com/angoca/lora-osmnotes-gateway/internal/metrics"
	"github.com/angoca/lora-osmnotes-gateway/internal/notifier"
	"github.com/angoca/lora-osmnotes-gateway/internal/orchestrator"
	"github.com/angoca/lora-osmnotes-gateway/internal/positioncache"
	"github.com/angoca/lora-osmnotes-gateway/internal/ratelimiter"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
	"github.com/angoca/lora-osmnotes-gateway/internal/submitter"
	"github.com/angoca/lora-osmnotes-gateway/internal/transport"
	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

func main() {
	var flagGops bool
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := config.Load(); err != nil {
		log.Fatalf("config: %s", err.Error())
	}
	log.SetLogLevel(config.Keys.LogLevel)

	st, err := store.Open(config.Keys.DataDir)
	if err != nil {
		log.Fatalf("store: %s", err.Error())
	}

	positions := positioncache.New(st)
	limiter := ratelimiter.New()
	parser := commandparser.New(st, positions, limiter, probeInternet)
	parser.GPSBypass = config.Keys.GPSValidationDisabled
	parser.BypassLat = config.Keys.GPSFallbackLat
	parser.BypassLon = config.Keys.GPSFallbackLon

	sub := submitter.New(submitter.Config{
		NotesURL: config.Keys.NotesAPIURL,
		DryRun:   config.Keys.DryRun,
	}, st)

	// The radio transport driver is an external collaborator; this process
	// runs against the dry-run adapter until a concrete mesh driver is
	// wired in.
	adapter := transport.NewDryRunAdapter()
	notif := notifier.New(adapter, st)
	notif.SetGeocoder(geocoder.New(geocoder.Config{
		BaseURL: config.Keys.GeocoderURL,
		Locale:  config.Keys.Language,
	}))

	var bus *gatewaybus.Bus
	if config.Keys.NATSURL != "" {
		bus, err = gatewaybus.Connect(config.Keys.NATSURL)
		if err != nil {
			log.Warnf("gatewaybus: %s", err.Error())
		}
	}
	sub.SetBus(bus)

	orch := orchestrator.New(orchestrator.Config{
		WorkerInterval:        config.Keys.WorkerInterval,
		SubmitterDrainLimit:   10,
		DailyBroadcastEnabled: config.Keys.DailyBroadcastEnabled,
		PositionMaxAge:        positioncache.Max,
		BroadcastLocale:       config.Keys.Language,
	}, orchestrator.Deps{
		Store:     st,
		Positions: positions,
		Parser:    parser,
		Submitter: sub,
		Notifier:  notif,
		Adapter:   adapter,
		Bus:       bus,
	})

	if err := orch.Start(); err != nil {
		log.Fatalf("orchestrator: %s", err.Error())
	}

	var metricsServer *metrics.Server
	if config.Keys.MetricsAddr != "" {
		metricsServer = metrics.NewServer(config.Keys.MetricsAddr)
		metricsServer.Start()
		log.Infof("metrics: listening at %s", config.Keys.MetricsAddr)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		log.Info("shutting down")
		orch.Stop()
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}
	}()

	log.Info("gateway running")
	wg.Wait()
	log.Info("graceful shutdown completed")
}

// probeInternet is the live Internet probe used by "#osmstatus": a
// 3s-timeout GET against a well-known endpoint.
func probeInternet() bool {
	client := http.Client{Timeout: 3 * time.Second}
	res, err := client.Get("https://www.openstreetmap.org/")
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode < 500
}
