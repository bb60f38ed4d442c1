package sandbox

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"
)

// densityAt produces a deterministic synthetic density for a cell, day and
// hour: the same query always answers the same number, distinct cells and
// hours diverge. hour < 0 aggregates the whole day.
func densityAt(res int, day string, hour int, lat, lon float64) (float64, string, error) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return 0, "", fmt.Errorf("sandbox: locate density cell: %w", err)
	}
	token := cell.String()

	if hour >= 0 {
		return bucketDensity(token, day, hour), token, nil
	}
	var sum float64
	for h := 0; h < 24; h++ {
		sum += bucketDensity(token, day, h)
	}
	return sum / 24, token, nil
}

func bucketDensity(token, day string, hour int) float64 {
	h := xxhash.Sum64String(fmt.Sprintf("%s|%s|%02d", token, day, hour))
	// map onto (0,1] with two decimal places of spread
	return float64(h%10000) / 10000
}
