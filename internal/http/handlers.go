package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/cache"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/hub"
	"github.com/example/delivery-tracking/internal/ingest"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/storage"
)

// Server is the tracking backend: REST location read/write plus the
// session WebSocket hub.
type Server struct {
	Store      storage.LocationStore
	Cache      cache.Store
	Hub        *hub.Registry
	Kafka      *ingest.Producer
	Auth       *auth.Manager
	Fence      models.Geofence
	Classifier geo.Classifier
	Region     cache.Region

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cfg config.ServerConfig, store storage.LocationStore, cch cache.Store, kafka *ingest.Producer, logger *slog.Logger) *Server {
	s := &Server{
		Store:      store,
		Cache:      cch,
		Hub:        hub.NewRegistry(),
		Kafka:      kafka,
		Auth:       auth.NewManager(cfg.JWTSecret),
		Fence:      cfg.Fence,
		Classifier: geo.Classifier{Tolerance: cfg.GeofenceTolerance},
		Region:     cfg.Region,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders/{order_id}/location/{role}", s.handleGetLocation).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/location/{role}", s.handlePostLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{order_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, orderID string) (*auth.Claims, bool) {
	claims, err := s.Auth.FromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if claims.SessionID != orderID {
		http.Error(w, "session mismatch", http.StatusForbidden)
		return nil, false
	}
	return claims, true
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, role := vars["order_id"], models.Role(vars["role"])
	if !role.Valid() {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	if _, ok := s.authorize(w, r, orderID); !ok {
		return
	}

	rec, ok := s.freshest(r, orderID, role)
	if !ok {
		http.Error(w, "no location available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// freshest serves the cache first, then storage, honoring the staleness
// window in both cases.
func (s *Server) freshest(r *http.Request, orderID string, role models.Role) (models.LocationRecord, bool) {
	if s.Cache != nil {
		if rec, ok, err := s.Cache.Get(r.Context(), orderID, role); err == nil && ok && time.Since(rec.CapturedAt) < cache.StalenessWindow {
			return rec, true
		}
	}
	if rec, ok, err := s.Store.LatestLocation(orderID, role); err == nil && ok && time.Since(rec.CapturedAt) < cache.StalenessWindow {
		return rec, true
	}
	return models.LocationRecord{}, false
}

func (s *Server) handlePostLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, role := vars["order_id"], models.Role(vars["role"])
	if !role.Valid() {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	claims, ok := s.authorize(w, r, orderID)
	if !ok {
		return
	}
	if claims.Role != role {
		http.Error(w, "role mismatch", http.StatusForbidden)
		return
	}

	var rec models.LocationRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.SessionID = orderID
	rec.Role = role
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}
	if !rec.Valid() {
		http.Error(w, "invalid location", http.StatusBadRequest)
		return
	}

	s.acceptLocation(r, rec)
	w.WriteHeader(http.StatusNoContent)
}

// acceptLocation is the shared ingest path for REST posts and WS frames:
// classify against the session fence, notify on boundary transitions,
// write-through cache and history, publish to the stream, and fan out to
// the counterpart.
func (s *Server) acceptLocation(r *http.Request, rec models.LocationRecord) {
	session := s.Hub.Session(rec.SessionID)

	b := s.Classifier.Classify(rec.Coordinate(), s.Fence)
	if prev, changed := session.UpdateBoundary(rec.Role, b); changed {
		if b == models.BoundaryOutside {
			session.Notify(rec.Role, models.NotificationEvent{
				Type:    models.NotifyOutsideBlock,
				Message: "outside geofence - tracking paused",
			})
		} else if prev == models.BoundaryOutside {
			session.Notify(rec.Role, models.NotificationEvent{
				Type:    models.NotifyResumed,
				Message: "back inside the service area - tracking resumed",
			})
		}
	}

	if s.Cache != nil {
		if err := s.Cache.Put(r.Context(), rec); err != nil {
			s.logger.Warn("cache write failed", "session_id", rec.SessionID, "error", err)
		}
	}
	if err := s.Store.SaveLocation(rec); err != nil {
		s.logger.Warn("history write failed", "session_id", rec.SessionID, "error", err)
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(rec); err != nil {
			s.logger.Warn("stream publish failed", "session_id", rec.SessionID, "error", err)
		}
	}

	session.BroadcastLocation(rec)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	claims, err := s.Auth.FromRequest(r)
	if err != nil || claims.SessionID != orderID {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	session := s.Hub.Session(orderID)
	client := hub.NewClient(conn, claims.Role)
	session.Add(client)
	defer session.Remove(client)

	// keepalive pings until the read loop exits
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.ChannelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != models.ChannelTypeLocation || msg.Location == nil {
			continue
		}
		rec := *msg.Location
		rec.SessionID = orderID
		rec.Role = claims.Role
		if rec.CapturedAt.IsZero() {
			rec.CapturedAt = time.Now().UTC()
		}
		if !rec.Valid() {
			continue
		}
		s.acceptLocation(r, rec)
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
