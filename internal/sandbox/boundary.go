package sandbox

import "sort"

// boundary is a canned administrative polygon. The sandbox ships a small
// nested set around central Stockholm so containment walks return more than
// one level.
type boundary struct {
	ID   string
	Type string
	Name string
	Ring [][2]float64 // lon,lat, open ring
}

var boundaries = []boundary{
	{
		ID:   "Country:Sweden:swe1",
		Type: "Country",
		Name: "Sweden",
		Ring: [][2]float64{{10.9, 55.3}, {24.2, 55.3}, {24.2, 69.1}, {10.9, 69.1}},
	},
	{
		ID:   "Province:Stockholm_County:sto-county",
		Type: "Province",
		Name: "Stockholm County",
		Ring: [][2]float64{{17.2, 58.9}, {19.3, 58.9}, {19.3, 60.2}, {17.2, 60.2}},
	},
	{
		ID:   "City:Stockholm:sto1",
		Type: "City",
		Name: "Stockholm",
		Ring: [][2]float64{{17.8, 59.2}, {18.3, 59.2}, {18.3, 59.45}, {17.8, 59.45}},
	},
	{
		ID:   "Neighborhood:Norrmalm:nor1",
		Type: "Neighborhood",
		Name: "Norrmalm",
		Ring: [][2]float64{{18.04, 59.32}, {18.08, 59.32}, {18.08, 59.35}, {18.04, 59.35}},
	},
	{
		ID:   "City:Gothenburg:got1",
		Type: "City",
		Name: "Gothenburg",
		Ring: [][2]float64{{11.8, 57.6}, {12.1, 57.6}, {12.1, 57.8}, {11.8, 57.8}},
	},
}

func boundaryByID(id string) (boundary, bool) {
	for _, b := range boundaries {
		if b.ID == id {
			return b, true
		}
	}
	return boundary{}, false
}

// containing returns the boundaries holding a point, innermost first.
func containing(lat, lon float64) []boundary {
	var out []boundary
	for _, b := range boundaries {
		if pointInRing(lat, lon, b.Ring) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ringArea(out[i].Ring) < ringArea(out[j].Ring) })
	return out
}

// overlapping returns boundaries whose bounding box intersects the envelope.
func overlapping(west, south, east, north float64, featureType string, limit int) []boundary {
	var out []boundary
	for _, b := range boundaries {
		if featureType != "" && b.Type != featureType {
			continue
		}
		w, s, e, n := ringBBox(b.Ring)
		if e < west || w > east || n < south || s > north {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// pointInRing is even-odd ray casting over an open lon,lat ring.
func pointInRing(lat, lon float64, ring [][2]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// ringArea is the shoelace area in squared degrees, good enough to order
// nested rectangles innermost first.
func ringArea(ring [][2]float64) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	if sum < 0 {
		sum = -sum
	}
	return sum / 2
}

func ringBBox(ring [][2]float64) (west, south, east, north float64) {
	west, south = ring[0][0], ring[0][1]
	east, north = west, south
	for _, p := range ring[1:] {
		if p[0] < west {
			west = p[0]
		}
		if p[0] > east {
			east = p[0]
		}
		if p[1] < south {
			south = p[1]
		}
		if p[1] > north {
			north = p[1]
		}
	}
	return west, south, east, north
}
