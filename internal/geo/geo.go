package geo

import (
	"math"

	"github.com/example/delivery-tracking/internal/models"
)

// Haversine great-circle distance in meters.
func Haversine(a, b models.Coordinate) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// LegacyTolerance is the 5% radius slack the old client applied to absorb
// GPS inaccuracy. The strict default is 1.0.
const LegacyTolerance = 1.05

// Classifier maps a position to its boundary state relative to a fence.
// Tolerance scales the fence radius before comparison; zero means strict.
type Classifier struct {
	Tolerance float64
}

func (cl Classifier) Classify(p models.Coordinate, f models.Geofence) models.BoundaryState {
	tol := cl.Tolerance
	if tol <= 0 {
		tol = 1.0
	}
	d := Haversine(p, f.Center)
	r := f.RadiusM * tol
	switch {
	case d > r:
		return models.BoundaryOutside
	case d > r-f.NearMarginM:
		return models.BoundaryNear
	default:
		return models.BoundaryInside
	}
}
