// Package orchestrator owns component lifetime and the periodic worker
// loop: it wires Store, PositionCache, CommandParser, Submitter and
// Notifier to a TransportAdapter, and runs the time-correction routine
// described below.
package orchestrator

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/angoca/lora-osmnotes-gateway/internal/commandparser"
	"github.com/angoca/lora-osmnotes-gateway/internal/gatewaybus"
	"github.com/angoca/lora-osmnotes-gateway/internal/i18n"
	"github.com/angoca/lora-osmnotes-gateway/internal/metrics"
	"github.com/angoca/lora-osmnotes-gateway/internal/notifier"
	"github.com/angoca/lora-osmnotes-gateway/internal/positioncache"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
	"github.com/angoca/lora-osmnotes-gateway/internal/submitter"
	"github.com/angoca/lora-osmnotes-gateway/internal/transport"
	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

// Config carries the knobs the orchestrator's worker cycle needs.
type Config struct {
	WorkerInterval        time.Duration
	SubmitterDrainLimit   int
	DailyBroadcastEnabled bool
	PositionMaxAge        time.Duration
	BroadcastLocale       string
}

// Orchestrator owns the worker scheduler and the packet callback wiring.
type Orchestrator struct {
	cfg Config

	store     *store.Store
	positions *positioncache.Cache
	parser    *commandparser.Parser
	submitter *submitter.Submitter
	notifier  *notifier.Notifier
	adapter   transport.Adapter
	bus       *gatewaybus.Bus

	scheduler gocron.Scheduler
	mu        sync.Mutex
	cycles    int
}

// Deps bundles every collaborator the orchestrator wires together.
type Deps struct {
	Store     *store.Store
	Positions *positioncache.Cache
	Parser    *commandparser.Parser
	Submitter *submitter.Submitter
	Notifier  *notifier.Notifier
	Adapter   transport.Adapter
	Bus       *gatewaybus.Bus // nil when EventBus is disabled
}

func New(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		positions: deps.Positions,
		parser:    deps.Parser,
		submitter: deps.Submitter,
		notifier:  deps.Notifier,
		adapter:   deps.Adapter,
		bus:       deps.Bus,
	}
}

// Start performs the gateway's startup sequence: records
// startup_timestamp, rehydrates PositionCache, registers packet callbacks,
// and launches the worker scheduler.
func (o *Orchestrator) Start() error {
	if err := o.store.SetStateTime(store.StateStartupTimestamp, time.Now()); err != nil {
		return err
	}

	if err := o.positions.Rehydrate(); err != nil {
		return err
	}

	o.adapter.Subscribe(o.onText, o.onPosition)

	if err := o.adapter.Start(); err != nil {
		return err
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	o.scheduler = s

	interval := o.cfg.WorkerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(o.runWorkerCycle),
	); err != nil {
		return err
	}

	if _, err := s.NewJob(
		gocron.DurationJob(positioncache.PurgeInterval),
		gocron.NewTask(o.runPurgeCycle),
	); err != nil {
		return err
	}

	s.Start()
	log.Infof("orchestrator: worker loop started, interval=%s", interval)
	return nil
}

// Stop shuts the scheduler and the transport adapter down.
func (o *Orchestrator) Stop() {
	if o.scheduler != nil {
		if err := o.scheduler.Shutdown(); err != nil {
			log.Warnf("orchestrator: scheduler shutdown: %v", err)
		}
	}
	if err := o.adapter.Stop(); err != nil {
		log.Warnf("orchestrator: adapter stop: %v", err)
	}
	o.bus.Close()
}

// runWorkerCycle implements the §4.7 worker cycle steps 1-5.
func (o *Orchestrator) runWorkerCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sent, err := o.submitter.ProcessPending(ctx, o.cfg.SubmitterDrainLimit)
	if err != nil {
		log.Errorf("orchestrator: processPending: %v", err)
	} else if sent > 0 {
		log.Debugf("orchestrator: submitted %d notes this cycle", sent)
	}

	if err := o.notifier.ProcessSentNotifications(); err != nil {
		log.Errorf("orchestrator: processSentNotifications: %v", err)
	}
	if err := o.notifier.ProcessFailedNotifications(); err != nil {
		log.Errorf("orchestrator: processFailedNotifications: %v", err)
	}

	if applied, err := o.store.GetStateBool(store.StateTimeCorrectionApplied); err != nil {
		log.Errorf("orchestrator: read time correction flag: %v", err)
	} else if !applied {
		o.runTimeCorrection()
	}

	if total, err := o.store.TotalQueueSize(); err == nil {
		metrics.QueueSize.Set(float64(total))
	}

	o.mu.Lock()
	o.cycles++
	firstCycle := o.cycles == 1
	o.mu.Unlock()

	if firstCycle && o.cfg.DailyBroadcastEnabled {
		o.maybeDailyBroadcast()
	}
}

// runPurgeCycle drops position fixes older than positioncache.Max24h, both
// in memory and in the Store, on its own schedule independent of the
// submitter/notifier worker cycle.
func (o *Orchestrator) runPurgeCycle() {
	n, err := o.positions.Purge(positioncache.Max24h)
	if err != nil {
		log.Errorf("orchestrator: purge positions: %v", err)
		return
	}
	if n > 0 {
		log.Debugf("orchestrator: purged %d stale positions", n)
	}
}

// maybeDailyBroadcast sends the daily broadcast once per calendar day.
func (o *Orchestrator) maybeDailyBroadcast() {
	today := time.Now().Format("2006-01-02")
	last, ok, err := o.store.GetState(store.StateLastBroadcastDate)
	if err != nil {
		log.Errorf("orchestrator: read last broadcast date: %v", err)
		return
	}
	if ok && last == today {
		return
	}

	locale := o.cfg.BroadcastLocale
	if locale == "" {
		locale = store.DefaultLanguage
	}
	text := i18n.Translate(locale, "broadcast_daily") + "\n" + i18n.Translate(locale, i18n.DisclaimerKey)
	if o.adapter.SendBroadcast(text) {
		if err := o.store.SetState(store.StateLastBroadcastDate, today); err != nil {
			log.Errorf("orchestrator: record broadcast date: %v", err)
		}
	}
}

// runTimeCorrection reconciles elapsed wall-clock time against the
// worker cycle count and nudges pending notes' created_at accordingly.
func (o *Orchestrator) runTimeCorrection() {
	if !ntpSynchronized() {
		return
	}

	startup, ok, err := o.store.GetStateTime(store.StateStartupTimestamp)
	if err != nil || !ok {
		return
	}

	o.mu.Lock()
	cyclesElapsed := o.cycles
	o.mu.Unlock()

	wallElapsed := time.Since(startup)
	processElapsed := time.Duration(cyclesElapsed) * o.cfg.WorkerInterval
	delta := wallElapsed - processElapsed

	if abs(delta) < 60*time.Second {
		if err := o.store.SetStateBool(store.StateTimeCorrectionApplied, true); err != nil {
			log.Errorf("orchestrator: set time correction flag: %v", err)
		}
		return
	}

	if err := o.store.AdjustPendingCreatedAtBy(delta); err != nil {
		log.Errorf("orchestrator: adjust pending created_at: %v", err)
		return
	}
	if err := o.store.SetStateBool(store.StateTimeCorrectionApplied, true); err != nil {
		log.Errorf("orchestrator: set time correction flag: %v", err)
	}
	log.Infof("orchestrator: applied time correction of %s to pending notes", delta)
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ntpSynchronized probes the host's NTP sync state via timedatectl. Any
// failure to run the probe (e.g. the binary is absent, as in a container)
// is treated as "not yet synchronized" so correction is simply retried
// next cycle rather than applied on a guess.
func ntpSynchronized() bool {
	out, err := exec.Command("timedatectl", "show", "--property=NTPSynchronized", "--value").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "yes"
}

// onText handles an inbound decoded text packet: runs CommandParser and
// routes the result to Notifier, or — for a freshly queued note —
// synchronously attempts one immediate submission before the next
// scheduled drain.
func (o *Orchestrator) onText(pkt transport.TextPacket) {
	now := time.Now()
	result := o.parser.Handle(pkt.From, pkt.Text, now, pkt.DeviceUptime)

	switch result.Class {
	case commandparser.ClassIgnore:
		return
	case commandparser.ClassNoteQueued:
		o.bus.Publish(gatewaybus.EventNoteQueued, pkt.From, result.Note.QueueID, "")
		o.notifier.SendReply(pkt.From, result.Text)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sent, err := o.submitter.ProcessPending(ctx, 1)
		cancel()
		if err != nil {
			log.Errorf("orchestrator: immediate submission attempt: %v", err)
		}

		// A successful immediate submission has its success DM delivered
		// synchronously here rather than waiting up to WorkerInterval for
		// the next scheduled cycle to pick it up.
		if sent > 0 {
			if err := o.notifier.ProcessSentNotifications(); err != nil {
				log.Errorf("orchestrator: immediate sent notification: %v", err)
			}
		}
	default:
		if result.Text != "" {
			o.notifier.SendReply(pkt.From, result.Text)
		}
	}
}

// onPosition handles an inbound decoded position packet.
func (o *Orchestrator) onPosition(pkt transport.PositionPacket) {
	if err := o.positions.Update(pkt.From, pkt.Lat, pkt.Lon, time.Now()); err != nil {
		log.Errorf("orchestrator: update position for %s: %v", pkt.From, err)
	}
}
