package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

const writeTimeout = 5 * time.Second

// Channel is the session-scoped pub/sub client. It publishes the local
// party's location to the session topic and delivers peer locations and
// server notifications to the caller's callbacks.
//
// Delivery is at-most-once with no ordering beyond the connection's own
// FIFO; a client that connects late misses prior updates and must rely on
// the next broadcast or a REST fallback read.
type Channel struct {
	// URL is the fully-formed session endpoint, e.g. ws://host/ws/{order}.
	URL string

	// OnLocation receives peer location broadcasts.
	OnLocation func(models.LocationRecord)

	// OnNotification receives private server-pushed events.
	OnNotification func(models.NotificationEvent)

	Logger *slog.Logger

	mu   sync.Mutex // guards conn pointer
	wmu  sync.Mutex // serializes writes on the conn
	conn *websocket.Conn
}

// Connect dials the session endpoint and authenticates with a bearer token.
// Retry and backoff are the caller's concern.
func (c *Channel) Connect(ctx context.Context, authToken string) error {
	hdr := http.Header{}
	if authToken != "" {
		hdr.Set("Authorization", "Bearer "+authToken)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.URL, hdr)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("realtime connect: %w", err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go c.readLoop(conn)
	return nil
}

// SendUpdate publishes a location record to the session topic,
// fire-and-forget. A channel that is not connected drops the update
// silently; callers must not assume delivery.
func (c *Channel) SendUpdate(rec models.LocationRecord) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		observability.RealtimeSendsDropped.Inc()
		return
	}

	msg := models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &rec}
	c.wmu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(msg)
	c.wmu.Unlock()
	if err != nil {
		observability.RealtimeSendsDropped.Inc()
		if c.Logger != nil {
			c.Logger.Warn("realtime send failed", "error", err)
		}
	}
}

// Disconnect closes the transport. Idempotent; safe when never connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.wmu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	c.wmu.Unlock()
	_ = conn.Close()
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.ChannelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// malformed peer frames must never crash the session
			continue
		}
		switch msg.Type {
		case models.ChannelTypeLocation:
			if msg.Location != nil && c.OnLocation != nil {
				c.OnLocation(*msg.Location)
			}
		case models.ChannelTypeNotification:
			if msg.Notification != nil && c.OnNotification != nil {
				c.OnNotification(*msg.Notification)
			}
		}
	}
}
