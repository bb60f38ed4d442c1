package geopin

import (
	"net/url"
	"strconv"
	"time"
)

// request is the built form of one logical operation: method, service path,
// query parameters, encoded body and the decoder tag to route the response
// through.
type request struct {
	op        string
	method    string
	path      string
	params    url.Values
	body      []byte
	kind      ResponseKind
	layer     string
	cacheable bool
}

// url resolves the request against the service base URL. Parameters are
// percent-encoded under form rules; every parameter with a value appears
// exactly once, &-joined, the first prefixed with '?'.
func (r *request) url(base string) string {
	u := base + r.path
	if len(r.params) > 0 {
		u += "?" + r.params.Encode()
	}
	return u
}

// formatCoord renders a coordinate as a plain decimal with the shortest
// exact representation. Never exponential notation.
func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// dayCode maps a weekday to the service's three-letter path segment.
func dayCode(day time.Weekday) string {
	switch day {
	case time.Sunday:
		return "sun"
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	}
	return ""
}

// densityPath builds the density endpoint path. An hour inside [0,23]
// selects the hour-qualified form; anything outside queries the whole day.
func densityPath(day time.Weekday, hour int, lat, lon float64) string {
	coords := formatCoord(lat) + "," + formatCoord(lon)
	if hour >= 0 && hour <= 23 {
		return "/density/" + dayCode(day) + "/" + strconv.Itoa(hour) + "/" + coords + ".json"
	}
	return "/density/" + dayCode(day) + "/" + coords + ".json"
}
