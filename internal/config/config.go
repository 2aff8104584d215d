package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/delivery-tracking/internal/cache"
	"github.com/example/delivery-tracking/internal/models"
)

// ServerConfig captures all tunable parameters for the tracking backend.
// Values are loaded from environment variables with defaults that let the
// binary run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	JWTSecret string

	Fence             models.Geofence
	GeofenceTolerance float64
	Region            cache.Region

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		KafkaTopic:      "delivery-locations",
		JWTSecret:       "dev-secret-change-me",
		Fence: models.Geofence{
			// campus service area: center of the fence the legacy client shipped
			Center:      models.Coordinate{Lat: 10.295663, Lon: 123.880895},
			RadiusM:     5000,
			NearMarginM: 500,
		},
		GeofenceTolerance: 1.0,
		Region:            cache.Region{MinLat: 9.0, MaxLat: 11.5, MinLon: 122.5, MaxLon: 125.0},
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")

	setFloatFromEnv(&cfg.Fence.Center.Lat, "GEOFENCE_LAT", &errs)
	setFloatFromEnv(&cfg.Fence.Center.Lon, "GEOFENCE_LON", &errs)
	setFloatFromEnv(&cfg.Fence.RadiusM, "GEOFENCE_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Fence.NearMarginM, "GEOFENCE_NEAR_MARGIN_M", &errs)
	setFloatFromEnv(&cfg.GeofenceTolerance, "GEOFENCE_TOLERANCE", &errs)

	setFloatFromEnv(&cfg.Region.MinLat, "REGION_MIN_LAT", &errs)
	setFloatFromEnv(&cfg.Region.MaxLat, "REGION_MAX_LAT", &errs)
	setFloatFromEnv(&cfg.Region.MinLon, "REGION_MIN_LON", &errs)
	setFloatFromEnv(&cfg.Region.MaxLon, "REGION_MAX_LON", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if !cfg.Fence.Valid() {
		errs = append(errs, fmt.Errorf("geofence configuration is invalid"))
	}
	if cfg.GeofenceTolerance < 1.0 {
		errs = append(errs, fmt.Errorf("GEOFENCE_TOLERANCE must be >= 1.0"))
	}

	return cfg, errors.Join(errs...)
}

// TrackerConfig drives the reference tracking client.
type TrackerConfig struct {
	ServerURL string // REST base, e.g. http://localhost:8080
	WSURL     string // ws endpoint base, e.g. ws://localhost:8080
	Token     string
	SessionID string
	Role      models.Role

	MinInterval  time.Duration
	PollInterval time.Duration

	GeofenceTolerance float64
	Region            cache.Region

	RouteFile string
	LogLevel  string
}

func LoadTrackerConfig() (TrackerConfig, error) {
	d := defaultServerConfig()
	cfg := TrackerConfig{
		ServerURL:         "http://localhost:8080",
		WSURL:             "ws://localhost:8080",
		Role:              models.RoleDasher,
		MinInterval:       5 * time.Second,
		PollInterval:      5 * time.Second,
		GeofenceTolerance: 1.0,
		Region:            d.Region,
		LogLevel:          "info",
	}
	var errs []error

	setStringFromEnv(&cfg.ServerURL, "SERVER_URL")
	setStringFromEnv(&cfg.WSURL, "WS_URL")
	cfg.Token = os.Getenv("SESSION_TOKEN")
	setStringFromEnv(&cfg.SessionID, "SESSION_ID")
	if v := os.Getenv("ROLE"); v != "" {
		cfg.Role = models.Role(strings.ToLower(v))
	}
	setDurationFromEnv(&cfg.MinInterval, "MIN_SEND_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PollInterval, "PEER_POLL_INTERVAL", &errs)
	setFloatFromEnv(&cfg.GeofenceTolerance, "GEOFENCE_TOLERANCE", &errs)
	setStringFromEnv(&cfg.RouteFile, "ROUTE_FILE")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.SessionID == "" {
		errs = append(errs, fmt.Errorf("SESSION_ID is required"))
	}
	if !cfg.Role.Valid() {
		errs = append(errs, fmt.Errorf("ROLE must be user or dasher"))
	}
	if cfg.MinInterval <= 0 {
		errs = append(errs, fmt.Errorf("MIN_SEND_INTERVAL must be > 0"))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("PEER_POLL_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
