package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/cache"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/storage"
)

func testServer(t *testing.T) (*Server, *httptest.Server, *auth.Manager) {
	t.Helper()
	cfg, err := config.LoadServerConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("test", "error")
	s := NewServer(cfg, storage.NewMemoryStore(), cache.NewMemory(time.Hour), nil, logger)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv, auth.NewManager(cfg.JWTSecret)
}

func bearerToken(t *testing.T, am *auth.Manager, session string, role models.Role) string {
	t.Helper()
	tok, err := am.MakeToken(session, role, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func postLocation(t *testing.T, srv *httptest.Server, tok string, rec models.LocationRecord) *http.Response {
	t.Helper()
	b, _ := json.Marshal(rec)
	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/orders/"+rec.SessionID+"/location/"+string(rec.Role), bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestPostThenGetLocation(t *testing.T) {
	_, srv, am := testServer(t)
	dasherTok := bearerToken(t, am, "order-1", models.RoleDasher)
	userTok := bearerToken(t, am, "order-1", models.RoleUser)

	rec := models.LocationRecord{
		SessionID: "order-1", Role: models.RoleDasher,
		Lat: 10.2957, Lon: 123.8810, CapturedAt: time.Now().UTC(),
	}
	resp := postLocation(t, srv, dasherTok, rec)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("post status %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/orders/order-1/location/dasher", nil)
	req.Header.Set("Authorization", "Bearer "+userTok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var got models.LocationRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Lat != rec.Lat || got.Role != models.RoleDasher {
		t.Fatalf("wrong record: %+v", got)
	}
}

func TestRESTAuthEnforced(t *testing.T) {
	_, srv, am := testServer(t)

	// no token
	resp, err := http.Get(srv.URL + "/api/v1/orders/order-1/location/dasher")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// token for another session
	tok := bearerToken(t, am, "other-order", models.RoleUser)
	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/orders/order-1/location/dasher", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// posting the counterpart's role is rejected
	userTok := bearerToken(t, am, "order-1", models.RoleUser)
	rec := models.LocationRecord{SessionID: "order-1", Role: models.RoleDasher, Lat: 10.29, Lon: 123.88, CapturedAt: time.Now()}
	resp = postLocation(t, srv, userTok, rec)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on role mismatch, got %d", resp.StatusCode)
	}
}

func TestPostRejectsInvalidCoordinates(t *testing.T) {
	_, srv, am := testServer(t)
	tok := bearerToken(t, am, "order-1", models.RoleDasher)
	rec := models.LocationRecord{SessionID: "order-1", Role: models.RoleDasher, Lat: 123, Lon: 500, CapturedAt: time.Now()}
	resp := postLocation(t, srv, tok, rec)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStaleRecordNotServed(t *testing.T) {
	s, srv, am := testServer(t)
	tok := bearerToken(t, am, "order-1", models.RoleUser)

	stale := models.LocationRecord{
		SessionID: "order-1", Role: models.RoleDasher,
		Lat: 10.2957, Lon: 123.8810,
		CapturedAt: time.Now().Add(-3 * time.Minute),
	}
	if err := s.Store.SaveLocation(stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/orders/order-1/location/dasher", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stale record must 404, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, orderID, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + orderID + "?token=" + tok
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.ChannelMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.ChannelMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws: %v", err)
	}
	return msg
}

func TestWSFanOutToCounterpartOnly(t *testing.T) {
	_, srv, am := testServer(t)
	dasher := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleDasher))
	user := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleUser))

	rec := models.LocationRecord{Lat: 10.2957, Lon: 123.8810, CapturedAt: time.Now().UTC()}
	if err := dasher.WriteJSON(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &rec}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, user)
	if msg.Type != models.ChannelTypeLocation || msg.Location == nil {
		t.Fatalf("expected location frame, got %+v", msg)
	}
	if msg.Location.Role != models.RoleDasher || msg.Location.SessionID != "order-9" {
		t.Fatalf("server must stamp identity from claims: %+v", msg.Location)
	}

	// sender must not receive its own echo
	dasher.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if err := dasher.ReadJSON(&msg); err == nil {
		t.Fatalf("sender received its own broadcast: %+v", msg)
	}
}

func TestWSOutsideTriggersNotification(t *testing.T) {
	_, srv, am := testServer(t)
	dasher := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleDasher))

	outside := models.LocationRecord{Lat: 10.260492, Lon: 123.841853, CapturedAt: time.Now().UTC()}
	if err := dasher.WriteJSON(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &outside}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, dasher)
	if msg.Type != models.ChannelTypeNotification || msg.Notification == nil || msg.Notification.Type != models.NotifyOutsideBlock {
		t.Fatalf("expected outside-block notification, got %+v", msg)
	}

	inside := models.LocationRecord{Lat: 10.2957, Lon: 123.8810, CapturedAt: time.Now().UTC()}
	if err := dasher.WriteJSON(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &inside}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, dasher)
	if msg.Type != models.ChannelTypeNotification || msg.Notification == nil || msg.Notification.Type != models.NotifyResumed {
		t.Fatalf("expected resumed notification, got %+v", msg)
	}
}

func TestWSMalformedFrameIgnored(t *testing.T) {
	_, srv, am := testServer(t)
	dasher := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleDasher))
	user := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleUser))

	if err := dasher.WriteMessage(websocket.TextMessage, []byte(`{broken`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := models.LocationRecord{Lat: 10.2957, Lon: 123.8810, CapturedAt: time.Now().UTC()}
	if err := dasher.WriteJSON(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &rec}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, user)
	if msg.Type != models.ChannelTypeLocation {
		t.Fatalf("valid frame after garbage must still flow, got %+v", msg)
	}
}

func TestWSLateJoinerGetsSnapshot(t *testing.T) {
	_, srv, am := testServer(t)
	dasher := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleDasher))

	rec := models.LocationRecord{Lat: 10.2957, Lon: 123.8810, CapturedAt: time.Now().UTC()}
	if err := dasher.WriteJSON(models.ChannelMessage{Type: models.ChannelTypeLocation, Location: &rec}); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the server process the frame

	user := dialWS(t, srv, "order-9", bearerToken(t, am, "order-9", models.RoleUser))
	msg := readMessage(t, user)
	if msg.Type != models.ChannelTypeLocation || msg.Location == nil || msg.Location.Role != models.RoleDasher {
		t.Fatalf("late joiner must get the dasher snapshot, got %+v", msg)
	}
}

func TestWSRejectsBadToken(t *testing.T) {
	_, srv, _ := testServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/order-9?token=garbage"
	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
