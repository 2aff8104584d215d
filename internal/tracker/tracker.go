package tracker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/sampler"
)

// State of one tracking session.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateActive
	StatePausedOutside
	StatePausedGPSDisabled
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StatePausedOutside:
		return "paused_outside"
	case StatePausedGPSDisabled:
		return "paused_gps_disabled"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted = errors.New("tracker: already started")
	ErrBadConfig      = errors.New("tracker: invalid config")
)

// Config wires a tracker to its collaborators for one delivery session.
type Config struct {
	SessionID  string
	Role       models.Role
	Fence      models.Geofence
	Classifier geo.Classifier
	Sampler    sampler.Sampler

	// Send is the outbound path. It is never invoked while the session is
	// outside the fence.
	Send func(models.LocationRecord)

	// OnLocalUpdate fires for every sample regardless of fence state, so the
	// local UI always shows its own position.
	OnLocalUpdate func(models.PositionSample, models.BoundaryState)

	OnError func(error)

	// MinInterval bounds the outbound rate independent of the sampler's own
	// cadence. Required.
	MinInterval time.Duration

	Logger *slog.Logger
}

// Tracker bridges sampler output to the outbound send path, enforcing the
// geofence policy and the minimum send interval.
type Tracker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	sub      sampler.Subscription
	boundary models.BoundaryState
	last     *models.PositionSample
	lastSent time.Time
	sentAny  bool

	now func() time.Time
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Sampler == nil || cfg.Send == nil || cfg.MinInterval <= 0 || !cfg.Fence.Valid() || !cfg.Role.Valid() || cfg.SessionID == "" {
		return nil, ErrBadConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{cfg: cfg, now: time.Now}, nil
}

// Start acquires a watch subscription. The tracker moves to ACTIVE on the
// first successful sample.
func (t *Tracker) Start() error {
	t.mu.Lock()
	if t.state != StateStopped {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.state = StateStarting
	t.mu.Unlock()

	sub, err := t.cfg.Sampler.Watch(t.handleSample, t.handleError)
	if err != nil {
		t.mu.Lock()
		t.state = StateStopped
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	if t.state == StateStopped {
		// stopped while acquiring: release immediately
		t.mu.Unlock()
		sub.Cancel()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()
	t.cfg.Logger.Info("tracking started", "session_id", t.cfg.SessionID, "role", string(t.cfg.Role))
	return nil
}

// Stop cancels the watch subscription and resets session state. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	stopped := t.state == StateStopped
	t.state = StateStopped
	t.last = nil
	t.lastSent = time.Time{}
	t.sentAny = false
	t.boundary = models.BoundaryInside
	t.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if !stopped {
		t.cfg.Logger.Info("tracking stopped", "session_id", t.cfg.SessionID)
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Boundary() models.BoundaryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boundary
}

// LastSample returns the most recent sample, or false when none arrived yet.
func (t *Tracker) LastSample() (models.PositionSample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return models.PositionSample{}, false
	}
	return *t.last, true
}

func (t *Tracker) handleSample(s models.PositionSample) {
	t.mu.Lock()
	if t.state == StateStopped || t.state == StatePausedGPSDisabled {
		t.mu.Unlock()
		return
	}

	b := t.cfg.Classifier.Classify(s.Coord, t.cfg.Fence)
	prev := t.boundary
	t.boundary = b
	t.last = &s

	if t.state == StateStarting {
		t.state = StateActive
	}
	switch {
	case b == models.BoundaryOutside:
		if t.state != StatePausedOutside {
			t.cfg.Logger.Warn("outside geofence, outbound updates paused", "session_id", t.cfg.SessionID)
		}
		t.state = StatePausedOutside
	case t.state == StatePausedOutside:
		t.state = StateActive
		t.cfg.Logger.Info("re-entered geofence, outbound updates resumed", "session_id", t.cfg.SessionID)
	}

	send := false
	if t.state == StateActive {
		if !t.sentAny || t.now().Sub(t.lastSent) >= t.cfg.MinInterval {
			send = true
			t.sentAny = true
			t.lastSent = t.now()
		} else {
			observability.UpdatesThrottled.Inc()
		}
	} else {
		observability.UpdatesSuppressed.Inc()
	}
	t.mu.Unlock()

	if prev != b {
		observability.BoundaryTransitions.WithLabelValues(b.String()).Inc()
	}
	if t.cfg.OnLocalUpdate != nil {
		t.cfg.OnLocalUpdate(s, b)
	}
	if send {
		observability.UpdatesPublished.Inc()
		t.cfg.Send(models.RecordFromSample(t.cfg.SessionID, t.cfg.Role, s))
	}
}

func (t *Tracker) handleError(err error) {
	var serr *sampler.Error
	if errors.As(err, &serr) {
		observability.SamplerErrors.WithLabelValues(serr.Code.String()).Inc()
		if serr.Code == sampler.CodeUnsupported {
			// no way to re-probe platform support; requires Stop+Start
			t.mu.Lock()
			sub := t.sub
			t.sub = nil
			if t.state != StateStopped {
				t.state = StatePausedGPSDisabled
			}
			t.mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
			t.cfg.Logger.Error("location provider unsupported, tracking paused", "session_id", t.cfg.SessionID)
		}
	}
	if t.cfg.OnError != nil {
		t.cfg.OnError(err)
	}
}
