// Package geojson implements the generic structured-document type used on the
// GeoPin wire: a JSON object discriminated by its top-level "type" member.
// Documents keep every member they were parsed with, so service-specific
// fields (layer, id, created, next_cursor) survive a round trip.
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeFeature            = "Feature"
	TypeFeatureCollection  = "FeatureCollection"
	TypeGeometryCollection = "GeometryCollection"
	TypePoint              = "Point"
	TypePolygon            = "Polygon"
	TypeMultiPolygon       = "MultiPolygon"
)

// Object is a mutable GeoJSON-style document. The zero value is not usable;
// construct with New or Parse.
type Object struct {
	members map[string]any
}

func New(typ string) *Object {
	return &Object{members: map[string]any{"type": typ}}
}

// NewPoint builds a Point geometry. GeoJSON orders coordinates lon,lat.
func NewPoint(lat, lon float64) *Object {
	o := New(TypePoint)
	o.Set("coordinates", []any{lon, lat})
	return o
}

func Parse(data []byte) (*Object, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("geojson: parse document: %w", err)
	}
	if _, ok := m["type"].(string); !ok {
		return nil, errors.New(`geojson: document has no string "type" member`)
	}
	return &Object{members: m}, nil
}

func (o *Object) Type() string {
	t, _ := o.members["type"].(string)
	return t
}

func (o *Object) IsFeature() bool           { return o.Type() == TypeFeature }
func (o *Object) IsFeatureCollection() bool { return o.Type() == TypeFeatureCollection }

// IsGeometry reports whether the document is a bare geometry or a
// GeometryCollection rather than a Feature wrapper.
func (o *Object) IsGeometry() bool {
	switch o.Type() {
	case TypePoint, TypePolygon, TypeMultiPolygon, TypeGeometryCollection:
		return true
	}
	return false
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.members[key]
	return v, ok
}

func (o *Object) Set(key string, v any) {
	o.members[key] = v
}

// String returns the named member when it is a non-empty string.
func (o *Object) String(key string) (string, bool) {
	s, ok := o.members[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Number returns the named member as a float64. JSON numbers decode to
// float64 under encoding/json's default behavior.
func (o *Object) Number(key string) (float64, bool) {
	f, ok := o.members[key].(float64)
	return f, ok
}

// Properties returns the properties bag, creating it when absent.
func (o *Object) Properties() map[string]any {
	if p, ok := o.members["properties"].(map[string]any); ok {
		return p
	}
	p := map[string]any{}
	o.members["properties"] = p
	return p
}

// Geometry returns the geometry member as a document, or nil when absent or
// structurally wrong.
func (o *Object) Geometry() *Object {
	m, ok := o.members["geometry"].(map[string]any)
	if !ok {
		return nil
	}
	return &Object{members: m}
}

func (o *Object) SetGeometry(g *Object) {
	if g == nil {
		delete(o.members, "geometry")
		return
	}
	o.members["geometry"] = g.members
}

// Features returns the feature list of a FeatureCollection. A missing or
// malformed features member yields nil; callers treat that as empty.
func (o *Object) Features() []*Object {
	raw, ok := o.members["features"].([]any)
	if !ok {
		return nil
	}
	out := make([]*Object, 0, len(raw))
	for _, f := range raw {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, &Object{members: m})
	}
	return out
}

func (o *Object) SetFeatures(features []*Object) {
	raw := make([]any, 0, len(features))
	for _, f := range features {
		if f != nil {
			raw = append(raw, f.members)
		}
	}
	o.members["features"] = raw
}

// Coordinates returns the coordinates member of a geometry.
func (o *Object) Coordinates() ([]any, bool) {
	c, ok := o.members["coordinates"].([]any)
	return c, ok
}

func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.members)
}

func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	o.members = parsed.members
	return nil
}

// Encode serializes the document for use as a request body.
func (o *Object) Encode() ([]byte, error) {
	return json.Marshal(o.members)
}
