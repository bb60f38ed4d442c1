package sandbox

import (
	"fmt"
	"math"
	"sort"
	"sync"

	h3 "github.com/uber/h3-go/v4"
)

// storedRecord is the sandbox's internal record state. Records are replaced
// wholesale on every write, never mutated in place.
type storedRecord struct {
	ID         string
	Layer      string
	Lat        float64
	Lon        float64
	Created    int64
	Properties map[string]any
	cell       h3.Cell
}

// snapshot is one historical position of a record, newest first.
type snapshot struct {
	Lat     float64
	Lon     float64
	Created int64
}

type layerStore struct {
	records map[string]*storedRecord
	cells   map[h3.Cell]map[string]struct{}
	history map[string][]snapshot
}

func newLayerStore() *layerStore {
	return &layerStore{
		records: map[string]*storedRecord{},
		cells:   map[h3.Cell]map[string]struct{}{},
		history: map[string][]snapshot{},
	}
}

// Store holds every layer's records with a cell index for proximity lookups.
type Store struct {
	mu           sync.RWMutex
	res          int
	historyDepth int
	layers       map[string]*layerStore
}

func NewStore(res, historyDepth int) *Store {
	if res < 0 || res > 15 {
		res = 8
	}
	if historyDepth <= 0 {
		historyDepth = 32
	}
	return &Store{res: res, historyDepth: historyDepth, layers: map[string]*layerStore{}}
}

func (s *Store) layer(name string) *layerStore {
	ls, ok := s.layers[name]
	if !ok {
		ls = newLayerStore()
		s.layers[name] = ls
	}
	return ls
}

// Upsert writes a record and appends its position to the history trail.
func (s *Store) Upsert(rec *storedRecord) error {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: rec.Lat, Lng: rec.Lon}, s.res)
	if err != nil {
		return fmt.Errorf("sandbox: index record: %w", err)
	}
	rec.cell = cell

	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.layer(rec.Layer)

	if old, ok := ls.records[rec.ID]; ok && old.cell != cell {
		delete(ls.cells[old.cell], rec.ID)
	}
	ls.records[rec.ID] = rec
	if ls.cells[cell] == nil {
		ls.cells[cell] = map[string]struct{}{}
	}
	ls.cells[cell][rec.ID] = struct{}{}

	trail := append([]snapshot{{Lat: rec.Lat, Lon: rec.Lon, Created: rec.Created}}, ls.history[rec.ID]...)
	if len(trail) > s.historyDepth {
		trail = trail[:s.historyDepth]
	}
	ls.history[rec.ID] = trail
	return nil
}

func (s *Store) Get(layer, id string) (*storedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.layers[layer]
	if !ok {
		return nil, false
	}
	rec, ok := ls.records[id]
	return rec, ok
}

// Delete removes the record and its index entry. The history trail is kept.
func (s *Store) Delete(layer, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.layers[layer]
	if !ok {
		return false
	}
	rec, ok := ls.records[id]
	if !ok {
		return false
	}
	delete(ls.records, id)
	delete(ls.cells[rec.cell], id)
	return true
}

func (s *Store) History(layer, id string) []snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.layers[layer]
	if !ok {
		return nil
	}
	trail := ls.history[id]
	out := make([]snapshot, len(trail))
	copy(out, trail)
	return out
}

// Nearby returns the layer's records within radiusKm of a point, nearest
// first. Candidate cells come from a grid disk sized by the resolution's
// average edge length, then exact distances prune the ring overshoot.
func (s *Store) Nearby(layer string, lat, lon, radiusKm float64, types []string) ([]*storedRecord, error) {
	center, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, s.res)
	if err != nil {
		return nil, fmt.Errorf("sandbox: locate center: %w", err)
	}
	rings := int(math.Ceil(radiusKm/edgeKm[s.res])) + 1
	if rings > 64 {
		rings = 64
	}
	disk, err := h3.GridDisk(center, rings)
	if err != nil {
		return nil, fmt.Errorf("sandbox: grid disk: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.layers[layer]
	if !ok {
		return nil, nil
	}

	type scored struct {
		rec  *storedRecord
		dist float64
	}
	var hits []scored
	for _, cell := range disk {
		for id := range ls.cells[cell] {
			rec := ls.records[id]
			if rec == nil || !matchesType(rec, types) {
				continue
			}
			d := haversineKm(lat, lon, rec.Lat, rec.Lon)
			if d <= radiusKm {
				hits = append(hits, scored{rec: rec, dist: d})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})
	out := make([]*storedRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

// NearbyCell returns the layer's records whose index cell falls under the
// given cell token, in identifier order. The token may be coarser than the
// index resolution.
func (s *Store) NearbyCell(layer, token string, types []string) ([]*storedRecord, error) {
	var target h3.Cell
	if err := target.UnmarshalText([]byte(token)); err != nil {
		return nil, fmt.Errorf("sandbox: parse cell token: %w", err)
	}
	if !target.IsValid() {
		return nil, fmt.Errorf("sandbox: invalid cell token %q", token)
	}
	targetRes := target.Resolution()
	if targetRes > s.res {
		return nil, fmt.Errorf("sandbox: token resolution %d exceeds index resolution %d", targetRes, s.res)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.layers[layer]
	if !ok {
		return nil, nil
	}

	var out []*storedRecord
	for cell, ids := range ls.cells {
		parent := cell
		if targetRes < s.res {
			p, err := cell.Parent(targetRes)
			if err != nil {
				continue
			}
			parent = p
		}
		if parent != target {
			continue
		}
		for id := range ids {
			rec := ls.records[id]
			if rec != nil && matchesType(rec, types) {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchesType(rec *storedRecord, types []string) bool {
	if len(types) == 0 {
		return true
	}
	t, _ := rec.Properties["type"].(string)
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// edgeKm is the average hexagon edge length per resolution, in kilometers.
var edgeKm = [16]float64{
	1107.71, 418.68, 158.24, 59.81, 22.61, 8.54, 3.23, 1.22,
	0.461, 0.174, 0.0659, 0.0249, 0.00941, 0.00356, 0.00134, 0.000509,
}

const earthRadiusKm = 6371.0088

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
