package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

const writeTimeout = 5 * time.Second

// Client is one connected session participant. Writes are serialized with a
// per-connection mutex.
type Client struct {
	conn *websocket.Conn
	role models.Role
	mu   sync.Mutex
}

func NewClient(conn *websocket.Conn, role models.Role) *Client {
	return &Client{conn: conn, role: role}
}

func (c *Client) Role() models.Role { return c.role }

func (c *Client) send(msg models.ChannelMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Session fans location updates out between the two parties of one delivery
// and holds each party's last broadcast plus its boundary state for
// transition detection.
type Session struct {
	ID string

	mu         sync.RWMutex
	clients    map[*Client]struct{}
	last       map[models.Role]*models.LocationRecord
	boundaries map[models.Role]models.BoundaryState
}

func newSession(id string) *Session {
	return &Session{
		ID:         id,
		clients:    make(map[*Client]struct{}),
		last:       make(map[models.Role]*models.LocationRecord),
		boundaries: make(map[models.Role]models.BoundaryState),
	}
}

// Add registers a client and pushes the counterpart's last known location so
// late joiners get an immediate snapshot.
func (s *Session) Add(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	peer := s.last[c.role.Counterpart()]
	s.mu.Unlock()
	observability.SessionClients.Inc()

	if peer != nil {
		if err := c.send(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: peer}); err != nil {
			slog.Debug("snapshot push failed", "session_id", s.ID, "error", err)
		}
	}
}

func (s *Session) Remove(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if present {
		observability.SessionClients.Dec()
	}
}

// Last returns the most recent record broadcast by the given role.
func (s *Session) Last(role models.Role) (models.LocationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.last[role]; r != nil {
		return *r, true
	}
	return models.LocationRecord{}, false
}

// BroadcastLocation records rec as the sender role's last position and
// delivers it to the counterpart role only.
func (s *Session) BroadcastLocation(rec models.LocationRecord) {
	s.mu.Lock()
	cp := rec.Role.Counterpart()
	s.last[rec.Role] = &rec
	targets := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		if c.role == cp {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	msg := models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &rec}
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			slog.Debug("broadcast failed", "session_id", s.ID, "error", err)
		}
	}
}

// Notify delivers a private event to every client of the given role.
func (s *Session) Notify(role models.Role, ev models.NotificationEvent) {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		if c.role == role {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	msg := models.ChannelMessage{Type: models.ChannelTypeNotification, Notification: &ev}
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			slog.Debug("notify failed", "session_id", s.ID, "error", err)
		}
	}
}

// UpdateBoundary swaps the stored boundary state for a role, reporting the
// previous state and whether it changed. Unseen roles start inside, so a
// first sample that is already outside still counts as a transition.
func (s *Session) UpdateBoundary(role models.Role, b models.BoundaryState) (prev models.BoundaryState, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.boundaries[role]
	if !seen {
		prev = models.BoundaryInside
	}
	s.boundaries[role] = b
	return prev, prev != b
}

// Registry holds one Session per active delivery.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Session returns the hub for the given delivery, creating it on first use.
func (r *Registry) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id)
		r.sessions[id] = s
	}
	return s
}
