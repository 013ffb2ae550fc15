// Package commandparser recognizes '#osm...' text commands arriving from
// mesh nodes and runs the '#osmnote' ingress pipeline: rate-limit, length,
// normalization, position lookup, duplicate check and persistence.
package commandparser

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angoca/lora-osmnotes-gateway/internal/i18n"
	"github.com/angoca/lora-osmnotes-gateway/internal/metrics"
	"github.com/angoca/lora-osmnotes-gateway/internal/positioncache"
	"github.com/angoca/lora-osmnotes-gateway/internal/ratelimiter"
	"github.com/angoca/lora-osmnotes-gateway/internal/store"
)

// Classification is the outcome of handling one inbound text message.
type Classification int

const (
	ClassIgnore Classification = iota
	ClassHelp
	ClassMoreHelp
	ClassStatus
	ClassCount
	ClassList
	ClassQueue
	ClassNodes
	ClassLang
	ClassNoteQueued
	ClassNoteReject
	ClassNoteDuplicate
	ClassNoteError
)

// MaxNoteLength is the maximum accepted length of an '#osmnote' body, in
// characters.
const MaxNoteLength = 200

// noteRegex matches every accepted spelling of the note command: singular,
// plural, hyphenated, underscored, each anchored with a trailing word
// boundary so "#osmnotetest" does not match.
var noteRegex = regexp.MustCompile(`(?i)^#osm[_-]?notes?\b\s*(.*)$`)

// Result is the outcome of handling one inbound text message.
type Result struct {
	Class Classification
	Text  string // localized reply, or "" for ClassIgnore
	Note  *store.Note
}

// Parser wires Store, PositionCache and RateLimiter together to implement
// the full #osmnote command set.
type Parser struct {
	store        *store.Store
	positions    *positioncache.Cache
	limiter      *ratelimiter.Limiter
	internetProbe func() bool

	// GPSBypass, when enabled, accepts every #osmnote with BypassLat/Lon
	// instead of consulting PositionCache.
	GPSBypass  bool
	BypassLat  float64
	BypassLon  float64
}

// New creates a Parser. internetProbe is consulted by "#osmstatus"; pass
// nil to always report Internet as unavailable.
func New(st *store.Store, pc *positioncache.Cache, rl *ratelimiter.Limiter, internetProbe func() bool) *Parser {
	return &Parser{store: st, positions: pc, limiter: rl, internetProbe: internetProbe}
}

// Handle dispatches an inbound text message from nodeID. now is the
// receive time (monotonic-aware time.Now()); deviceUptime is the uptime the
// sending device reported, if any.
func (p *Parser) Handle(nodeID, text string, now time.Time, deviceUptime *time.Duration) Result {
	locale := p.lang(nodeID)
	trimmed := strings.TrimSpace(text)
	folded := strings.ToLower(trimmed)

	switch {
	case folded == "#osmhelp":
		return Result{Class: ClassHelp, Text: i18n.Translate(locale, "help")}
	case folded == "#osmmorehelp":
		return Result{Class: ClassMoreHelp, Text: i18n.Translate(locale, "morehelp")}
	case folded == "#osmstatus":
		return Result{Class: ClassStatus, Text: p.status(nodeID, locale, now)}
	case folded == "#osmqueue":
		return Result{Class: ClassQueue, Text: p.queue(locale)}
	case folded == "#osmnodes":
		return Result{Class: ClassNodes, Text: p.nodes(locale, now)}
	case strings.HasPrefix(folded, "#osmcount"):
		return Result{Class: ClassCount, Text: p.count(nodeID, locale, now)}
	case strings.HasPrefix(folded, "#osmlist"):
		return Result{Class: ClassList, Text: p.list(nodeID, locale, folded)}
	case strings.HasPrefix(folded, "#osmlang"):
		return Result{Class: ClassLang, Text: p.lang_(nodeID, folded)}
	}

	if m := noteRegex.FindStringSubmatch(trimmed); m != nil {
		return p.note(nodeID, m[1], locale, now, deviceUptime)
	}

	return Result{Class: ClassIgnore}
}

func (p *Parser) lang(nodeID string) string {
	lang, err := p.store.GetUserLang(nodeID)
	if err != nil {
		return store.DefaultLanguage
	}
	return lang
}

func (p *Parser) lang_(nodeID, folded string) string {
	locale := p.lang(nodeID)
	fields := strings.Fields(folded)
	if len(fields) < 2 || !i18n.Supported(fields[1]) {
		return i18n.Translate(locale, "lang_invalid")
	}
	newLocale := fields[1]
	if err := p.store.SetUserLang(nodeID, newLocale); err != nil {
		return i18n.Translate(locale, "lang_invalid")
	}
	return i18n.Translate(newLocale, "lang_set")
}

func (p *Parser) status(nodeID, locale string, now time.Time) string {
	total, err := p.store.TotalQueueSize()
	if err != nil {
		total = 0
	}

	internet := i18n.Translate(locale, "status_internet_down")
	if p.internetProbe != nil && p.internetProbe() {
		internet = i18n.Translate(locale, "status_internet_ok")
	}

	position := i18n.Translate(locale, "status_position_unknown")
	if age := p.positions.GetAge(nodeID, now); age != nil {
		position = age.Round(time.Second).String()
	}

	return i18n.Translate(locale, "status", total, internet, position)
}

func (p *Parser) queue(locale string) string {
	total, err := p.store.TotalQueueSize()
	if err != nil {
		total = 0
	}
	return i18n.Translate(locale, "queue_size", total)
}

func (p *Parser) count(nodeID, locale string, now time.Time) string {
	stats, err := p.store.NodeStats(nodeID, time.Local)
	if err != nil {
		stats = &store.NodeStats{}
	}
	return i18n.Translate(locale, "count", stats.TodayNotes, stats.TotalNotes)
}

func (p *Parser) list(nodeID, locale, folded string) string {
	limit := 5
	fields := strings.Fields(folded)
	if len(fields) >= 2 {
		if n, err := parsePositiveInt(fields[1]); err == nil {
			limit = n
		}
	}

	notes, err := p.store.ListNodeNotes(nodeID, limit)
	if err != nil || len(notes) == 0 {
		return i18n.Translate(locale, "list_empty")
	}

	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, i18n.Translate(locale, "list_item", n.QueueID, n.TextNormalized, n.Status))
	}
	return strings.Join(lines, "\n")
}

func (p *Parser) nodes(locale string, now time.Time) string {
	fixes := p.positions.All()
	if len(fixes) == 0 {
		return i18n.Translate(locale, "nodes_empty")
	}
	if len(fixes) > 20 {
		fixes = fixes[:20]
	}

	lines := make([]string, 0, len(fixes))
	for _, f := range fixes {
		age := f.Age(now).Round(time.Second)
		lines = append(lines, i18n.Translate(locale, "nodes_item", f.NodeID, f.Lat, f.Lon, age.String(), f.SeenCount))
	}
	return strings.Join(lines, "\n")
}

// note runs the §4.4 ingress pipeline for '#osmnote <body>'.
func (p *Parser) note(nodeID, body, locale string, now time.Time, deviceUptime *time.Duration) Result {
	// Step 1: rate limit.
	if !p.limiter.Allow(nodeID, now) {
		metrics.RateLimitRejections.Inc()
		metrics.NotesRejected.WithLabelValues("rate_limited").Inc()
		return Result{Class: ClassNoteReject, Text: i18n.Translate(locale, "reject_rate_limited")}
	}

	// Step 2: length check.
	if utf8.RuneCountInString(body) > MaxNoteLength {
		metrics.NotesRejected.WithLabelValues("too_long").Inc()
		return Result{Class: ClassNoteReject, Text: i18n.Translate(locale, "reject_too_long")}
	}

	// Step 3: normalize.
	textNorm := strings.Join(strings.Fields(body), " ")
	if textNorm == "" {
		metrics.NotesRejected.WithLabelValues("empty").Inc()
		return Result{Class: ClassNoteReject, Text: i18n.Translate(locale, "reject_empty")}
	}

	// Step 4/5: position lookup or bypass.
	lat, lon, approximate, rejectText := p.resolvePosition(nodeID, locale, now, deviceUptime)
	if rejectText != "" {
		metrics.NotesRejected.WithLabelValues("gps").Inc()
		return Result{Class: ClassNoteReject, Text: rejectText}
	}
	if approximate {
		textNorm = positioncache.ApproximateMarker + textNorm
	}

	// Step 6/7: duplicate check + persist (Store.CreateNote does both
	// transactionally).
	note, err := p.store.CreateNote(nodeID, lat, lon, body, textNorm, now)
	if err != nil {
		if err == store.ErrDuplicate {
			metrics.NotesDuplicate.Inc()
			return Result{Class: ClassNoteDuplicate, Text: i18n.Translate(locale, "reject_duplicate")}
		}
		metrics.NotesRejected.WithLabelValues("invalid_coords").Inc()
		return Result{Class: ClassNoteError, Text: i18n.Translate(locale, "reject_invalid_coords")}
	}

	metrics.NotesAdmitted.Inc()
	return Result{Class: ClassNoteQueued, Text: i18n.Translate(locale, "note_queued", note.QueueID), Note: note}
}

// resolvePosition resolves the node's current position for a note.
// rejectText is non-empty
// when the note must be rejected outright.
func (p *Parser) resolvePosition(nodeID, locale string, now time.Time, deviceUptime *time.Duration) (lat, lon float64, approximate bool, rejectText string) {
	if p.GPSBypass {
		return p.BypassLat, p.BypassLon, false, ""
	}

	fix, ok := p.positions.Get(nodeID)
	if !ok {
		return 0, 0, false, p.waitOrMessage(locale, deviceUptime, "reject_no_gps")
	}

	if !validCoords(fix.Lat, fix.Lon) {
		return 0, 0, false, i18n.Translate(locale, "reject_invalid_coords")
	}

	age := fix.Age(now)
	if age > positioncache.Max {
		return 0, 0, false, p.waitOrMessage(locale, deviceUptime, "reject_stale_gps")
	}

	grade := positioncache.GradeForAge(age)
	return fix.Lat, fix.Lon, grade == positioncache.Approximate, ""
}

// waitOrMessage implements the device-uptime-aware messaging shared by the
// "no position" and "stale position" branches of step 5.
func (p *Parser) waitOrMessage(locale string, deviceUptime *time.Duration, fallbackKey string) string {
	const uptimeThreshold = 120 * time.Second
	const waitWindow = 60 * time.Second

	if deviceUptime != nil && *deviceUptime < uptimeThreshold {
		remaining := waitWindow - *deviceUptime
		if remaining > 0 {
			return i18n.Translate(locale, "reject_wait_gps", int(remaining.Round(time.Second).Seconds()))
		}
	}
	return i18n.Translate(locale, fallbackKey)
}

func validCoords(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconvErr(s)
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, strconvErr(s)
	}
	return n, nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

func strconvErr(s string) error { return parseError("commandparser: not a positive integer: " + s) }
