package sandbox

import (
	"testing"

	h3 "github.com/uber/h3-go/v4"
)

func rec(id string, lat, lon float64, props map[string]any) *storedRecord {
	if props == nil {
		props = map[string]any{}
	}
	return &storedRecord{ID: id, Layer: "demo", Lat: lat, Lon: lon, Created: 1500000000, Properties: props}
}

func TestStore_UpsertGetDelete(t *testing.T) {
	s := NewStore(8, 4)

	if err := s.Upsert(rec("a", 59.33, 18.06, nil)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, ok := s.Get("demo", "a")
	if !ok || got.Lat != 59.33 {
		t.Fatalf("Get: %v %v", got, ok)
	}

	if !s.Delete("demo", "a") {
		t.Fatalf("Delete should report removal")
	}
	if _, ok := s.Get("demo", "a"); ok {
		t.Fatalf("deleted record still readable")
	}
	if s.Delete("demo", "a") {
		t.Fatalf("second delete should report absence")
	}
}

func TestStore_NearbyOrdersByDistanceAndFilters(t *testing.T) {
	s := NewStore(8, 4)
	center := [2]float64{59.3300, 18.0600}

	must := func(r *storedRecord) {
		t.Helper()
		if err := s.Upsert(r); err != nil {
			t.Fatalf("Upsert %s: %v", r.ID, err)
		}
	}
	must(rec("near", center[0]+0.001, center[1], map[string]any{"type": "place"}))
	must(rec("far", center[0]+0.02, center[1], map[string]any{"type": "place"}))
	must(rec("other-type", center[0]+0.002, center[1], map[string]any{"type": "object"}))
	must(rec("outside", center[0]+2.0, center[1], map[string]any{"type": "place"}))

	got, err := s.Nearby("demo", center[0], center[1], 5, nil)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].ID != "near" || got[2].ID != "far" {
		t.Fatalf("distance order wrong: %s..%s", got[0].ID, got[len(got)-1].ID)
	}

	filtered, err := s.Nearby("demo", center[0], center[1], 5, []string{"object"})
	if err != nil {
		t.Fatalf("Nearby filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "other-type" {
		t.Fatalf("type filter: %v", filtered)
	}
}

func TestStore_NearbyCellMatchesCoarserToken(t *testing.T) {
	s := NewStore(9, 4)
	if err := s.Upsert(rec("a", 59.33, 18.06, nil)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 59.33, Lng: 18.06}, 7)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	got, err := s.NearbyCell("demo", cell.String(), nil)
	if err != nil {
		t.Fatalf("NearbyCell: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("token lookup: %v", got)
	}

	if _, err := s.NearbyCell("demo", "not-a-cell", nil); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}

func TestStore_HistoryNewestFirstAndCapped(t *testing.T) {
	s := NewStore(8, 3)
	for i := 0; i < 5; i++ {
		r := rec("a", 59.0+float64(i), 18.0, nil)
		r.Created = int64(1500000000 + i)
		if err := s.Upsert(r); err != nil {
			t.Fatalf("Upsert #%d: %v", i, err)
		}
	}

	trail := s.History("demo", "a")
	if len(trail) != 3 {
		t.Fatalf("trail=%d want cap 3", len(trail))
	}
	if trail[0].Created != 1500000004 || trail[2].Created != 1500000002 {
		t.Fatalf("order wrong: %+v", trail)
	}
}

func TestStore_HistorySurvivesDelete(t *testing.T) {
	s := NewStore(8, 4)
	if err := s.Upsert(rec("a", 59.33, 18.06, nil)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s.Delete("demo", "a")
	if len(s.History("demo", "a")) != 1 {
		t.Fatalf("history must outlive the record")
	}
}

func TestContaining_InnermostFirst(t *testing.T) {
	levels := containing(59.33, 18.06) // central Stockholm
	if len(levels) < 3 {
		t.Fatalf("levels=%d want at least neighborhood, city, country", len(levels))
	}
	if levels[0].Type != "Neighborhood" {
		t.Fatalf("innermost=%s want Neighborhood", levels[0].Type)
	}
	last := levels[len(levels)-1]
	if last.Type != "Country" {
		t.Fatalf("outermost=%s want Country", last.Type)
	}

	if got := containing(0, 0); len(got) != 0 {
		t.Fatalf("open ocean should match nothing: %v", got)
	}
}

func TestOverlapping_TypeFilterAndLimit(t *testing.T) {
	// envelope covering most of Sweden
	all := overlapping(11, 56, 20, 61, "", 0)
	if len(all) < 4 {
		t.Fatalf("hits=%d want most canned boundaries", len(all))
	}

	cities := overlapping(11, 56, 20, 61, "City", 0)
	for _, b := range cities {
		if b.Type != "City" {
			t.Fatalf("type filter leaked %s", b.ID)
		}
	}
	if len(cities) != 2 {
		t.Fatalf("cities=%d want 2", len(cities))
	}

	if got := overlapping(11, 56, 20, 61, "", 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestDensityAt_DeterministicAndHourSensitive(t *testing.T) {
	v1, cell, err := densityAt(8, "mon", 9, 59.33, 18.06)
	if err != nil {
		t.Fatalf("densityAt: %v", err)
	}
	v2, _, err := densityAt(8, "mon", 9, 59.33, 18.06)
	if err != nil {
		t.Fatalf("densityAt: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("density not deterministic: %v vs %v", v1, v2)
	}
	if cell == "" {
		t.Fatalf("cell token missing")
	}

	varied := false
	for h := 0; h < 24; h++ {
		v, _, err := densityAt(8, "mon", h, 59.33, 18.06)
		if err != nil {
			t.Fatalf("densityAt hour %d: %v", h, err)
		}
		if v != v1 {
			varied = true
		}
	}
	if !varied {
		t.Fatalf("hours should diverge somewhere in the day")
	}

	whole, _, err := densityAt(8, "mon", -1, 59.33, 18.06)
	if err != nil {
		t.Fatalf("densityAt day: %v", err)
	}
	if whole <= 0 || whole > 1 {
		t.Fatalf("day aggregate out of range: %v", whole)
	}
}
