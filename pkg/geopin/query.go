package geopin

import (
	"net/url"
	"strconv"
	"strings"
)

// Query resolves to the path and query parameters of a search endpoint. The
// dispatcher consumes only this resolved form.
type Query interface {
	Path() string
	Params() url.Values
	// SetCursor continues a prior page. The cursor is the opaque
	// next_cursor token extracted from the previous result.
	SetCursor(cursor string)
}

// NearbyQuery targets the proximity search endpoint, either by an encoded
// cell token or by a lat/lon/radius triple. Limit is a soft upper bound on
// the page size, never a guarantee.
type NearbyQuery struct {
	Layer  string
	Types  []string
	Limit  int
	Cursor string

	token   string
	lat     float64
	lon     float64
	radius  float64
	byPoint bool
}

// NewTokenNearby searches around an encoded cell token (geohash-style
// opaque prefix token understood by the service).
func NewTokenNearby(token, layer string) *NearbyQuery {
	return &NearbyQuery{Layer: layer, token: token}
}

// NewPointNearby searches within radius kilometers of a coordinate.
func NewPointNearby(lat, lon, radius float64, layer string) *NearbyQuery {
	return &NearbyQuery{Layer: layer, lat: lat, lon: lon, radius: radius, byPoint: true}
}

func (q *NearbyQuery) Path() string {
	target := q.token
	if q.byPoint {
		target = formatCoord(q.lat) + "," + formatCoord(q.lon) + "," + formatCoord(q.radius)
	}
	return "/records/" + url.PathEscape(q.Layer) + "/nearby/" + url.PathEscape(target) + ".json"
}

func (q *NearbyQuery) Params() url.Values {
	params := url.Values{}
	if len(q.Types) > 0 {
		params.Set("types", strings.Join(q.Types, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	return params
}

func (q *NearbyQuery) SetCursor(cursor string) { q.Cursor = cursor }

// HistoryQuery asks for the reverse-chronological trail of one record.
type HistoryQuery struct {
	Layer    string
	RecordID string
	Limit    int
	Cursor   string
}

func NewHistoryQuery(layer, recordID string) *HistoryQuery {
	return &HistoryQuery{Layer: layer, RecordID: recordID}
}

func (q *HistoryQuery) Path() string {
	return "/records/" + url.PathEscape(q.Layer) + "/" + url.PathEscape(q.RecordID) + "/history.json"
}

func (q *HistoryQuery) Params() url.Values {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	return params
}

func (q *HistoryQuery) SetCursor(cursor string) { q.Cursor = cursor }
