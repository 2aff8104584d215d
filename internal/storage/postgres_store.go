package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/delivery-tracking/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveLocation(r models.LocationRecord) error {
	_, err := p.db.Exec(`INSERT INTO delivery_locations(session_id, role, lat, lon, accuracy_m, heading_deg, speed_mps, captured_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.SessionID, string(r.Role), r.Lat, r.Lon, r.AccuracyM, r.HeadingDeg, r.SpeedMps, r.CapturedAt)
	return err
}

func (p *PostgresStore) LatestLocation(sessionID string, role models.Role) (models.LocationRecord, bool, error) {
	row := p.db.QueryRow(`SELECT session_id, role, lat, lon, accuracy_m, heading_deg, speed_mps, captured_at FROM delivery_locations WHERE session_id=$1 AND role=$2 ORDER BY captured_at DESC LIMIT 1`,
		sessionID, string(role))
	var r models.LocationRecord
	var roleStr string
	err := row.Scan(&r.SessionID, &roleStr, &r.Lat, &r.Lon, &r.AccuracyM, &r.HeadingDeg, &r.SpeedMps, &r.CapturedAt)
	if err == sql.ErrNoRows {
		return models.LocationRecord{}, false, nil
	}
	if err != nil {
		return models.LocationRecord{}, false, err
	}
	r.Role = models.Role(roleStr)
	return r, true, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }
