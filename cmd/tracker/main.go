package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/delivery-tracking/internal/cache"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/realtime"
	"github.com/example/delivery-tracking/internal/sampler"
	"github.com/example/delivery-tracking/internal/tracker"
)

func main() {
	cfg, err := config.LoadTrackerConfig()
	if err != nil {
		logging.NewLogger("tracking-client", "error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("tracking-client", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := loadRoute(cfg.RouteFile)
	if err != nil {
		logger.Error("route load failed", "file", cfg.RouteFile, "error", err)
		os.Exit(1)
	}

	fence := models.Geofence{
		Center:      models.Coordinate{Lat: 10.295663, Lon: 123.880895},
		RadiusM:     5000,
		NearMarginM: 500,
	}

	fallback := cache.NewFallback(cfg.ServerURL, cfg.Token, cache.NewMemory(cache.StalenessWindow), cfg.Region, logger)

	channel := &realtime.Channel{
		URL: cfg.WSURL + "/ws/" + cfg.SessionID,
		OnLocation: func(rec models.LocationRecord) {
			logger.Info("peer location", "role", string(rec.Role), "lat", rec.Lat, "lon", rec.Lon,
				"distance_m", geo.Haversine(rec.Coordinate(), fence.Center))
		},
		OnNotification: func(ev models.NotificationEvent) {
			logger.Warn("server notification", "type", string(ev.Type), "message", ev.Message)
		},
		Logger: logger,
	}
	if err := channel.Connect(ctx, cfg.Token); err != nil {
		// degraded mode: cache/REST polling still works without realtime
		logger.Warn("realtime unavailable, relying on REST fallback", "error", err)
	}
	defer channel.Disconnect()

	tr, err := tracker.New(tracker.Config{
		SessionID:  cfg.SessionID,
		Role:       cfg.Role,
		Fence:      fence,
		Classifier: geo.Classifier{Tolerance: cfg.GeofenceTolerance},
		Sampler:    feed,
		Send: func(rec models.LocationRecord) {
			channel.SendUpdate(rec)
			fallback.WriteLocal(ctx, rec)
		},
		OnLocalUpdate: func(s models.PositionSample, b models.BoundaryState) {
			logger.Debug("own position", "lat", s.Coord.Lat, "lon", s.Coord.Lon, "boundary", b.String())
		},
		OnError: func(err error) {
			logger.Warn("sampler error", "error", err)
		},
		MinInterval: cfg.MinInterval,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("tracker setup failed", "error", err)
		os.Exit(1)
	}
	if err := tr.Start(); err != nil {
		logger.Error("tracking start failed", "error", err)
		os.Exit(1)
	}
	defer tr.Stop()

	// periodic peer poll covers gaps in the realtime path
	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()
	peerRole := cfg.Role.Counterpart()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-poll.C:
			if rec, ok := fallback.ReadPeerLocation(ctx, cfg.SessionID, peerRole); ok {
				logger.Info("peer location (poll)", "role", string(rec.Role), "lat", rec.Lat, "lon", rec.Lon,
					"age_s", time.Since(rec.CapturedAt).Seconds())
			} else {
				logger.Info("peer location unavailable")
			}
		}
	}
}

type routePoint struct {
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
	SpeedMps float64 `json:"speed,omitempty"`
	DelayMs  int     `json:"delay_ms,omitempty"`
}

// loadRoute builds the sample feed: a scripted file when given, otherwise a
// small demo loop that crosses the campus fence and comes back.
func loadRoute(path string) (*sampler.Replay, error) {
	points := []routePoint{
		{Lat: 10.295663, Lon: 123.880895, DelayMs: 2000},
		{Lat: 10.289000, Lon: 123.872000, SpeedMps: 8, DelayMs: 2000},
		{Lat: 10.270000, Lon: 123.850000, SpeedMps: 10, DelayMs: 2000},
		{Lat: 10.260492, Lon: 123.841853, SpeedMps: 10, DelayMs: 2000},
		{Lat: 10.270000, Lon: 123.850000, SpeedMps: 10, DelayMs: 2000},
		{Lat: 10.289000, Lon: 123.872000, SpeedMps: 8, DelayMs: 2000},
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &points); err != nil {
			return nil, err
		}
	}
	steps := make([]sampler.Step, 0, len(points))
	for _, p := range points {
		steps = append(steps, sampler.Step{
			Sample: models.PositionSample{
				Coord:    models.Coordinate{Lat: p.Lat, Lon: p.Lon},
				SpeedMps: p.SpeedMps,
			},
			Delay: time.Duration(p.DelayMs) * time.Millisecond,
		})
	}
	return &sampler.Replay{Steps: steps, Loop: true}, nil
}
