package geo

import (
	"testing"

	"github.com/example/school-carpool/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// roughly 2.8km across central Canberra
	d := Haversine(-35.3089, 149.0981, -35.3178, 149.1267)
	if d < 2500 || d > 3100 {
		t.Fatalf("expected ~2.8km, got %f", d)
	}
}

func TestIndexNearby(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.FamilyProfile{ID: "close", Home: models.Coord{Lat: -35.3090, Lon: 149.0982}})
	idx.Upsert(models.FamilyProfile{ID: "mid", Home: models.Coord{Lat: -35.3178, Lon: 149.1267}})
	idx.Upsert(models.FamilyProfile{ID: "far", Home: models.Coord{Lat: -36.0, Lon: 150.0}})

	got := idx.Nearby(-35.3089, 149.0981, 5000, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 within 5km, got %d", len(got))
	}
	if got[0].ID != "close" {
		t.Fatalf("results should be nearest-first, got %s", got[0].ID)
	}

	limited := idx.Nearby(-35.3089, 149.0981, 5000, 1)
	if len(limited) != 1 || limited[0].ID != "close" {
		t.Fatalf("limit should keep the nearest, got %+v", limited)
	}
}

func TestIndexUpsertOverwrites(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.FamilyProfile{ID: "f1", Rating: 3.0})
	idx.Upsert(models.FamilyProfile{ID: "f1", Rating: 4.5})
	f, ok := idx.Get("f1")
	if !ok || f.Rating != 4.5 {
		t.Fatalf("expected overwritten profile, got %+v ok=%v", f, ok)
	}
	if f.Updated.IsZero() {
		t.Fatalf("upsert should stamp Updated")
	}
}
