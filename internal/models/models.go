package models

import (
	"math"
	"time"
)

// Role identifies which side of a delivery session a participant is on.
type Role string

const (
	RoleUser   Role = "user"
	RoleDasher Role = "dasher"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleDasher }

// Counterpart returns the opposite role in the same session.
func (r Role) Counterpart() Role {
	if r == RoleUser {
		return RoleDasher
	}
	return RoleUser
}

// Coordinate is an immutable lat/lon pair in degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// IsZero reports the null-island zero value, which server records use as
// "never set".
func (c Coordinate) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// PositionSample is one successful read from a location provider. Heading
// and speed are zero when the underlying device API omits them.
type PositionSample struct {
	Coord      Coordinate
	AccuracyM  float64
	HeadingDeg float64
	SpeedMps   float64
	CapturedAt time.Time
}

// Geofence is a circular service boundary. Static for the lifetime of a
// tracking session.
type Geofence struct {
	Center      Coordinate `json:"center"`
	RadiusM     float64    `json:"radius_m"`
	NearMarginM float64    `json:"near_margin_m"`
}

func (f Geofence) Valid() bool {
	return f.Center.Valid() && f.RadiusM > 0 && f.NearMarginM >= 0 && f.NearMarginM <= f.RadiusM
}

// BoundaryState classifies a position relative to a geofence. It is derived
// from each sample, never stored authoritatively.
type BoundaryState int

const (
	BoundaryInside BoundaryState = iota
	BoundaryNear
	BoundaryOutside
)

func (b BoundaryState) String() string {
	switch b {
	case BoundaryInside:
		return "inside"
	case BoundaryNear:
		return "near_boundary"
	case BoundaryOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// LocationRecord is the shape exchanged over REST, Kafka and the cache.
// Written by the owning party, read by the counterpart.
type LocationRecord struct {
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Lat        float64   `json:"latitude"`
	Lon        float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy"`
	HeadingDeg float64   `json:"heading"`
	SpeedMps   float64   `json:"speed"`
	CapturedAt time.Time `json:"timestamp"`
}

func RecordFromSample(sessionID string, role Role, s PositionSample) LocationRecord {
	return LocationRecord{
		SessionID:  sessionID,
		Role:       role,
		Lat:        s.Coord.Lat,
		Lon:        s.Coord.Lon,
		AccuracyM:  s.AccuracyM,
		HeadingDeg: s.HeadingDeg,
		SpeedMps:   s.SpeedMps,
		CapturedAt: s.CapturedAt,
	}
}

func (r LocationRecord) Coordinate() Coordinate { return Coordinate{Lat: r.Lat, Lon: r.Lon} }

func (r LocationRecord) Valid() bool {
	return r.SessionID != "" && r.Role.Valid() && r.Coordinate().Valid() && !r.CapturedAt.IsZero()
}

type NotificationType string

const (
	NotifyOutsideBlock NotificationType = "geofence_outside_block"
	NotifyResumed      NotificationType = "geofence_resumed"
	NotifyGPSDisabled  NotificationType = "gps_disabled"
)

// NotificationEvent is a transient server-pushed event. Never persisted by
// clients.
type NotificationEvent struct {
	Type    NotificationType `json:"type"`
	Message string           `json:"message"`
}

// Channel message types for the session socket.
const (
	ChannelTypeLocation     = "location"
	ChannelTypeNotification = "notification"
)

// ChannelMessage is the frame exchanged on the session socket, both
// directions. Exactly one payload field is set per frame.
type ChannelMessage struct {
	Type         string             `json:"type"`
	Location     *LocationRecord    `json:"location,omitempty"`
	Notification *NotificationEvent `json:"notification,omitempty"`
}
