// Package geocoder reverse-geocodes a lat/lon into a short address
// hierarchy for inclusion in notification text, rate-limited to protect
// the shared public endpoint and cached since the same spot is looked up
// repeatedly.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/pkg/lrucache"
	"golang.org/x/time/rate"
)

const (
	userAgent    = "lora-osmnotes-gateway/1.0"
	requestRate  = 1 // requests per second
	timeout      = 5 * time.Second
	cacheTTL     = 24 * time.Hour
	gridDegrees  = 0.001 // ~100m at the equator
	maxHierarchy = 5
)

// Config points the geocoder at its upstream endpoint.
type Config struct {
	BaseURL string // e.g. https://nominatim.openstreetmap.org/reverse
	Locale  string // default Accept-Language, e.g. "es"
}

type reverseResponse struct {
	Address map[string]string `json:"address"`
}

// hierarchyFields is the fixed fine-to-coarse extraction order; adjacent
// equal names are deduped in buildHierarchy.
var hierarchyFields = []string{
	"road", "suburb", "city", "state", "country",
}

// Geocoder reverse-geocodes coordinates with a 1rps ceiling and an LRU
// response cache keyed by a coarse grid cell.
type Geocoder struct {
	cfg     Config
	client  http.Client
	limiter *rate.Limiter
	cache   *lrucache.Cache
}

func New(cfg Config) *Geocoder {
	return &Geocoder{
		cfg:     cfg,
		client:  http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestRate), 1),
		cache:   lrucache.New(8 << 20), // 8 MiB budget; entries stored with Put are not counted against it
	}
}

// Describe returns a short ", "-joined address hierarchy for (lat, lon),
// or an error if the upstream call fails or is rate-limited away. Errors
// are not cached: a failed lookup is retried on the next call instead of
// sticking for cacheTTL.
func (g *Geocoder) Describe(ctx context.Context, lat, lon float64) (string, error) {
	key := gridKey(lat, lon)

	if cached := g.cache.Get(key, nil); cached != nil {
		return cached.(string), nil
	}

	desc, err := g.fetch(ctx, lat, lon)
	if err != nil {
		return "", err
	}

	g.cache.Put(key, desc, len(desc), cacheTTL)
	return desc, nil
}

func (g *Geocoder) fetch(ctx context.Context, lat, lon float64) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("geocoder: rate wait: %w", err)
	}

	url := fmt.Sprintf("%s?lat=%s&lon=%s&format=json&addressdetails=1&accept-language=%s",
		g.cfg.BaseURL,
		strconv.FormatFloat(lat, 'f', 6, 64),
		strconv.FormatFloat(lon, 'f', 6, 64),
		g.cfg.Locale,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocoder: request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder: unexpected status %d", res.StatusCode)
	}

	var decoded reverseResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("geocoder: decode: %w", err)
	}

	return buildHierarchy(decoded.Address), nil
}

// buildHierarchy extracts up to maxHierarchy levels, skipping empty
// fields and collapsing adjacent duplicates (e.g. a suburb named the same
// as its city).
func buildHierarchy(address map[string]string) string {
	levels := make([]string, 0, maxHierarchy)
	for _, field := range hierarchyFields {
		if len(levels) >= maxHierarchy {
			break
		}
		value, ok := address[field]
		if !ok || value == "" {
			continue
		}
		if len(levels) > 0 && levels[len(levels)-1] == value {
			continue
		}
		levels = append(levels, value)
	}
	return strings.Join(levels, ", ")
}

// gridKey quantizes (lat, lon) to a coarse grid cell so nearby lookups
// share a cache entry.
func gridKey(lat, lon float64) string {
	return fmt.Sprintf("%d,%d", quantize(lat), quantize(lon))
}

func quantize(v float64) int64 {
	return int64(math.Round(v / gridDegrees))
}
