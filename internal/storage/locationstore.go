package storage

import (
	"sync"

	"github.com/example/delivery-tracking/internal/models"
)

// LocationStore persists the location history of tracking sessions and can
// serve the latest record per (session, role) when the cache is empty.
type LocationStore interface {
	SaveLocation(rec models.LocationRecord) error
	LatestLocation(sessionID string, role models.Role) (models.LocationRecord, bool, error)
}

type sessionKey struct {
	session string
	role    models.Role
}

// MemoryStore keeps the full history in memory; used when no Postgres DSN
// is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[sessionKey][]models.LocationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[sessionKey][]models.LocationRecord)}
}

func (m *MemoryStore) SaveLocation(rec models.LocationRecord) error {
	k := sessionKey{rec.SessionID, rec.Role}
	m.mu.Lock()
	m.history[k] = append(m.history[k], rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LatestLocation(sessionID string, role models.Role) (models.LocationRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[sessionKey{sessionID, role}]
	if len(h) == 0 {
		return models.LocationRecord{}, false, nil
	}
	latest := h[0]
	for _, r := range h[1:] {
		if r.CapturedAt.After(latest.CapturedAt) {
			latest = r
		}
	}
	return latest, true, nil
}
