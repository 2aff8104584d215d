package hub

import (
	"testing"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

func TestUpdateBoundaryTransitions(t *testing.T) {
	s := newSession("order-1")

	// first observation counts against an implicit inside start
	prev, changed := s.UpdateBoundary(models.RoleDasher, models.BoundaryOutside)
	if !changed || prev != models.BoundaryInside {
		t.Fatalf("first outside sample must transition: prev=%v changed=%v", prev, changed)
	}

	prev, changed = s.UpdateBoundary(models.RoleDasher, models.BoundaryOutside)
	if changed {
		t.Fatalf("repeat state must not transition: prev=%v", prev)
	}

	prev, changed = s.UpdateBoundary(models.RoleDasher, models.BoundaryNear)
	if !changed || prev != models.BoundaryOutside {
		t.Fatalf("re-entry must transition: prev=%v changed=%v", prev, changed)
	}

	// roles are tracked independently
	if _, changed := s.UpdateBoundary(models.RoleUser, models.BoundaryInside); changed {
		t.Fatal("user role must start inside")
	}
}

func TestLastPerRole(t *testing.T) {
	s := newSession("order-1")
	if _, ok := s.Last(models.RoleDasher); ok {
		t.Fatal("expected no record yet")
	}
	rec := models.LocationRecord{
		SessionID: "order-1", Role: models.RoleDasher,
		Lat: 10.29, Lon: 123.88, CapturedAt: time.Now(),
	}
	s.BroadcastLocation(rec)
	got, ok := s.Last(models.RoleDasher)
	if !ok || got.Lat != rec.Lat {
		t.Fatalf("expected stored record, got ok=%v %+v", ok, got)
	}
	if _, ok := s.Last(models.RoleUser); ok {
		t.Fatal("counterpart must remain empty")
	}
}

func TestRegistryReusesSessions(t *testing.T) {
	r := NewRegistry()
	a := r.Session("order-1")
	b := r.Session("order-1")
	if a != b {
		t.Fatal("same id must yield the same session")
	}
	if r.Session("order-2") == a {
		t.Fatal("distinct ids must not share a session")
	}
}
