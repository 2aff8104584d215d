package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

var cebuRegion = Region{MinLat: 9.0, MaxLat: 11.5, MinLon: 122.5, MaxLon: 125.0}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func record(sessionID string, role models.Role, at time.Time) models.LocationRecord {
	return models.LocationRecord{
		SessionID: sessionID, Role: role,
		Lat: 10.295663, Lon: 123.880895,
		CapturedAt: at,
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Unix(1700000000, 0)
	m.now = fixedClock(now)

	rec := record("o1", models.RoleDasher, now)
	if err := m.Put(context.Background(), rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := m.Get(context.Background(), "o1", models.RoleDasher)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Lat != rec.Lat {
		t.Fatalf("wrong record: %+v", got)
	}
	// other role is a distinct key
	if _, ok, _ := m.Get(context.Background(), "o1", models.RoleUser); ok {
		t.Fatal("role keys must not collide")
	}

	m.now = fixedClock(now.Add(2 * time.Minute))
	if _, ok, _ := m.Get(context.Background(), "o1", models.RoleDasher); ok {
		t.Fatal("expired entry must not be returned")
	}
}

func TestFallbackStalenessBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0)

	cases := []struct {
		age  time.Duration
		want bool
	}{
		{119*time.Second + 999*time.Millisecond, true},
		{120 * time.Second, false},
	}
	for _, tc := range cases {
		store := NewMemory(time.Hour)
		store.now = fixedClock(now)
		f := NewFallback("", "", store, cebuRegion, nil)
		f.now = fixedClock(now)

		rec := record("o1", models.RoleDasher, now.Add(-tc.age))
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatalf("put: %v", err)
		}
		_, ok := f.ReadPeerLocation(context.Background(), "o1", models.RoleDasher)
		if ok != tc.want {
			t.Fatalf("age %v: got ok=%v want %v", tc.age, ok, tc.want)
		}
	}
}

func TestFallbackStickyUnavailableFlag(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewFallback(srv.URL, "tok", NewMemory(time.Hour), cebuRegion, nil)
	for i := 0; i < 5; i++ {
		if _, ok := f.ReadPeerLocation(context.Background(), "o1", models.RoleUser); ok {
			t.Fatal("expected miss")
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("REST must be hit once then disabled, got %d hits", n)
	}
}

func TestFallbackRejectsOutOfRegionAndZero(t *testing.T) {
	bodies := []string{
		`{"latitude":0,"longitude":0,"timestamp":"2026-08-29T10:00:00Z"}`,
		`{"latitude":48.85,"longitude":2.35,"timestamp":"2026-08-29T10:00:00Z"}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		}))
		f := NewFallback(srv.URL, "", nil, cebuRegion, nil)
		if _, ok := f.ReadPeerLocation(context.Background(), "o1", models.RoleDasher); ok {
			t.Fatalf("body %s must be rejected", body)
		}
		srv.Close()
	}
}

func TestFallbackAcceptsNumericStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"latitude":"10.295663","longitude":"123.880895","speed":"1.5","timestamp":"2026-08-29T10:00:00Z"}`))
	}))
	defer srv.Close()

	store := NewMemory(time.Hour)
	f := NewFallback(srv.URL, "tok", store, cebuRegion, nil)
	rec, ok := f.ReadPeerLocation(context.Background(), "o1", models.RoleDasher)
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Lat != 10.295663 || rec.SpeedMps != 1.5 {
		t.Fatalf("bad parse: %+v", rec)
	}
	// write-through after REST success
	if _, ok, _ := store.Get(context.Background(), "o1", models.RoleDasher); !ok {
		t.Fatal("expected write-through to cache")
	}
}

func TestFallbackNeverPanicsOnTotalUnavailability(t *testing.T) {
	f := NewFallback("http://127.0.0.1:1", "", nil, cebuRegion, nil)
	f.Client.Timeout = 100 * time.Millisecond
	if _, ok := f.ReadPeerLocation(context.Background(), "o1", models.RoleUser); ok {
		t.Fatal("expected absence, not data")
	}
}

func TestRegionContains(t *testing.T) {
	if !cebuRegion.Contains(models.Coordinate{Lat: 10.3, Lon: 123.9}) {
		t.Fatal("in-region point rejected")
	}
	if cebuRegion.Contains(models.Coordinate{Lat: 40.7, Lon: -74.0}) {
		t.Fatal("out-of-region point accepted")
	}
}
