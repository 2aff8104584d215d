package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// Region is the service-area bounding box. Server records outside it (or at
// the zero value) are treated as default-initialized garbage and rejected.
type Region struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (r Region) Contains(c models.Coordinate) bool {
	return c.Lat >= r.MinLat && c.Lat <= r.MaxLat && c.Lon >= r.MinLon && c.Lon <= r.MaxLon
}

// Fallback reads peer locations REST-first with the cache as a degrade path.
// It never lets an error escape: total unavailability yields (zero, false).
type Fallback struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Store   Store
	Region  Region
	Logger  *slog.Logger

	mu          sync.Mutex
	apiDisabled bool // sticky for the session once REST rejects us outright

	now func() time.Time
}

func NewFallback(baseURL, token string, store Store, region Region, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 3 * time.Second},
		Store:   store,
		Region:  region,
		Logger:  logger,
		now:     time.Now,
	}
}

// WriteLocal write-throughs the local party's own sample so a peer (or a
// later fallback read) can find it when the realtime path is down.
func (f *Fallback) WriteLocal(ctx context.Context, rec models.LocationRecord) {
	if f.Store == nil {
		return
	}
	if err := f.Store.Put(ctx, rec); err != nil {
		f.Logger.Warn("location cache write failed", "session_id", rec.SessionID, "error", err)
	}
}

// ReadPeerLocation returns the counterpart's freshest usable location, or
// false when nothing current is available anywhere.
func (f *Fallback) ReadPeerLocation(ctx context.Context, sessionID string, role models.Role) (models.LocationRecord, bool) {
	if rec, ok := f.readREST(ctx, sessionID, role); ok {
		observability.FallbackReads.WithLabelValues("rest").Inc()
		return rec, true
	}

	if f.Store != nil {
		rec, ok, err := f.Store.Get(ctx, sessionID, role)
		if err != nil {
			f.Logger.Warn("location cache read failed", "session_id", sessionID, "error", err)
		} else if ok && f.now().Sub(rec.CapturedAt) < StalenessWindow {
			observability.FallbackReads.WithLabelValues("cache").Inc()
			return rec, true
		}
	}
	observability.FallbackReads.WithLabelValues("miss").Inc()
	return models.LocationRecord{}, false
}

// restLocation tolerates servers that encode numeric fields as strings.
type restLocation struct {
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
	Accuracy  json.Number `json:"accuracy"`
	Heading   json.Number `json:"heading"`
	Speed     json.Number `json:"speed"`
	Timestamp time.Time   `json:"timestamp"`
}

func (f *Fallback) readREST(ctx context.Context, sessionID string, role models.Role) (models.LocationRecord, bool) {
	f.mu.Lock()
	disabled := f.apiDisabled
	f.mu.Unlock()
	if disabled || f.BaseURL == "" {
		return models.LocationRecord{}, false
	}

	url := fmt.Sprintf("%s/api/v1/orders/%s/location/%s", f.BaseURL, sessionID, role)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.LocationRecord{}, false
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return models.LocationRecord{}, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusMethodNotAllowed:
		// known-broken endpoint: stop hammering it for the rest of the session
		f.mu.Lock()
		f.apiDisabled = true
		f.mu.Unlock()
		f.Logger.Warn("location API rejected request, disabling REST path", "status", resp.StatusCode)
		return models.LocationRecord{}, false
	default:
		return models.LocationRecord{}, false
	}

	var body restLocation
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.LocationRecord{}, false
	}
	lat, latErr := body.Latitude.Float64()
	lon, lonErr := body.Longitude.Float64()
	if latErr != nil || lonErr != nil {
		return models.LocationRecord{}, false
	}
	coord := models.Coordinate{Lat: lat, Lon: lon}
	if coord.IsZero() || !coord.Valid() || !f.Region.Contains(coord) {
		return models.LocationRecord{}, false
	}

	rec := models.LocationRecord{
		SessionID:  sessionID,
		Role:       role,
		Lat:        lat,
		Lon:        lon,
		CapturedAt: body.Timestamp,
	}
	if v, err := body.Accuracy.Float64(); err == nil {
		rec.AccuracyM = v
	}
	if v, err := body.Heading.Float64(); err == nil {
		rec.HeadingDeg = v
	}
	if v, err := body.Speed.Float64(); err == nil {
		rec.SpeedMps = v
	}

	if f.Store != nil {
		if err := f.Store.Put(ctx, rec); err != nil {
			f.Logger.Warn("write-through after REST read failed", "error", err)
		}
	}
	return rec, true
}
