package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/models"
)

// StalenessWindow is the maximum age a cached record may have before it is
// treated as absent by fallback reads.
const StalenessWindow = 120 * time.Second

// Store is the durable last-known-location keyed store. One record per
// (session, role); every write overwrites the previous one.
type Store interface {
	Put(ctx context.Context, rec models.LocationRecord) error
	Get(ctx context.Context, sessionID string, role models.Role) (models.LocationRecord, bool, error)
}

func recordKey(sessionID string, role models.Role) string {
	return "loc:" + sessionID + ":" + string(role)
}

type entry struct {
	rec models.LocationRecord
	ts  time.Time
}

// Memory is a TTL map store used when no Redis is configured.
type Memory struct {
	mu    sync.RWMutex
	store map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = StalenessWindow
	}
	return &Memory{store: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, rec models.LocationRecord) error {
	k := recordKey(rec.SessionID, rec.Role)
	m.mu.Lock()
	m.store[k] = entry{rec: rec, ts: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, sessionID string, role models.Role) (models.LocationRecord, bool, error) {
	k := recordKey(sessionID, role)
	m.mu.RLock()
	e, ok := m.store[k]
	m.mu.RUnlock()
	if !ok {
		return models.LocationRecord{}, false, nil
	}
	if m.now().Sub(e.ts) > m.ttl {
		m.mu.Lock()
		delete(m.store, k)
		m.mu.Unlock()
		return models.LocationRecord{}, false, nil
	}
	return e.rec, true, nil
}

// Redis persists records as JSON with the TTL enforced server-side.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = StalenessWindow
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c, ttl: ttl}
}

func (r *Redis) Put(ctx context.Context, rec models.LocationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, recordKey(rec.SessionID, rec.Role), b, r.ttl).Err()
}

func (r *Redis) Get(ctx context.Context, sessionID string, role models.Role) (models.LocationRecord, bool, error) {
	b, err := r.client.Get(ctx, recordKey(sessionID, role)).Bytes()
	if err == redis.Nil {
		return models.LocationRecord{}, false, nil
	}
	if err != nil {
		return models.LocationRecord{}, false, err
	}
	var rec models.LocationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return models.LocationRecord{}, false, err
	}
	return rec, true, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
