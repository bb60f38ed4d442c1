package geopin

import (
	"errors"
	"time"

	"github.com/geopin/geopin-go/pkg/geojson"
)

// Storable is the closed union of caller-supplied record representations:
// a typed *Record or a generic *Document. Write, retrieve and delete
// operations accept either form and normalize it to the wire document.
type Storable interface {
	storable()
}

// Record is a typed geodata entity: coordinates, an identifier within a
// layer, and an open bag of properties. ID stays empty until assigned by
// the service or the caller.
type Record struct {
	ID         string
	Layer      string
	Lat        float64
	Lon        float64
	Created    time.Time
	Properties map[string]any
}

func (*Record) storable() {}

// NewRecord builds a record with Created defaulted to now.
func NewRecord(layer, id string, lat, lon float64) *Record {
	return &Record{
		ID:         id,
		Layer:      layer,
		Lat:        lat,
		Lon:        lon,
		Created:    time.Now(),
		Properties: map[string]any{},
	}
}

func (r *Record) SetProperty(key string, value any) {
	if r.Properties == nil {
		r.Properties = map[string]any{}
	}
	r.Properties[key] = value
}

func (r *Record) Property(key string) (any, bool) {
	v, ok := r.Properties[key]
	return v, ok
}

// Document wraps a generic structured document (Feature, FeatureCollection,
// Geometry or GeometryCollection).
type Document struct {
	Object *geojson.Object
}

func (*Document) storable() {}

// Feature converts the record to its wire Feature document.
func (r *Record) Feature() *geojson.Object {
	f := geojson.New(geojson.TypeFeature)
	if r.ID != "" {
		f.Set("id", r.ID)
	}
	f.Set("layer", r.Layer)
	if !r.Created.IsZero() {
		f.Set("created", r.Created.Unix())
	}
	f.SetGeometry(geojson.NewPoint(r.Lat, r.Lon))
	props := f.Properties()
	for k, v := range r.Properties {
		props[k] = v
	}
	return f
}

// recordFromFeature rebuilds a typed record from a Feature document. Missing
// members are left at their zero values; a missing or non-Point geometry
// leaves coordinates at zero.
func recordFromFeature(f *geojson.Object) *Record {
	r := &Record{Properties: map[string]any{}}
	if id, ok := f.String("id"); ok {
		r.ID = id
	}
	if layer, ok := f.String("layer"); ok {
		r.Layer = layer
	}
	if created, ok := f.Number("created"); ok {
		r.Created = time.Unix(int64(created), 0)
	}
	if g := f.Geometry(); g != nil && g.Type() == geojson.TypePoint {
		if coords, ok := g.Coordinates(); ok && len(coords) >= 2 {
			if lon, ok := coords[0].(float64); ok {
				r.Lon = lon
			}
			if lat, ok := coords[1].(float64); ok {
				r.Lat = lat
			}
		}
	}
	if props, ok := f.Get("properties"); ok {
		if m, ok := props.(map[string]any); ok {
			for k, v := range m {
				r.Properties[k] = v
			}
		}
	}
	return r
}

// layerOf resolves the layer name of a single storable. For a
// FeatureCollection the layer of the first feature is authoritative.
// Structural mismatches yield ("", false) rather than an error; the request
// builder rejects empty layers before anything goes on the wire.
func layerOf(s Storable) (string, bool) {
	switch v := s.(type) {
	case *Record:
		if v.Layer == "" {
			return "", false
		}
		return v.Layer, true
	case *Document:
		if v.Object == nil {
			return "", false
		}
		switch {
		case v.Object.IsFeatureCollection():
			features := v.Object.Features()
			if len(features) == 0 {
				return "", false
			}
			return features[0].String("layer")
		case v.Object.IsFeature():
			return v.Object.String("layer")
		}
		return "", false
	}
	return "", false
}

// idsOf resolves every identifier carried by a single storable, in document
// order. Identifiers accumulate onto the running list; the joined form never
// repeats an element regardless of collection size.
func idsOf(s Storable) []string {
	switch v := s.(type) {
	case *Record:
		if v.ID == "" {
			return nil
		}
		return []string{v.ID}
	case *Document:
		if v.Object == nil {
			return nil
		}
		switch {
		case v.Object.IsFeature():
			if id, ok := v.Object.String("id"); ok {
				return []string{id}
			}
		case v.Object.IsFeatureCollection():
			var ids []string
			for _, f := range v.Object.Features() {
				if id, ok := f.String("id"); ok {
					ids = append(ids, id)
				}
			}
			return ids
		}
	}
	return nil
}

// normalize resolves (layer, ids) across an ordered sequence of storables:
// the first element's layer wins, identifiers concatenate across the whole
// sequence without repeating earlier elements.
func normalize(list []Storable) (layer string, ids []string) {
	if len(list) == 0 {
		return "", nil
	}
	layer, _ = layerOf(list[0])
	for _, s := range list {
		ids = append(ids, idsOf(s)...)
	}
	return layer, ids
}

// documentOf converts one storable to its request-body document. A Record
// becomes a Feature; a Document passes through unchanged.
func documentOf(s Storable) (*geojson.Object, error) {
	switch v := s.(type) {
	case *Record:
		return v.Feature(), nil
	case *Document:
		if v.Object == nil {
			return nil, errors.New("geopin: document wraps nil object")
		}
		return v.Object, nil
	}
	return nil, errors.New("geopin: unknown storable variant")
}

// collectionOf builds the FeatureCollection body for a multi-item write.
func collectionOf(list []Storable) (*geojson.Object, error) {
	features := make([]*geojson.Object, 0, len(list))
	for _, s := range list {
		doc, err := documentOf(s)
		if err != nil {
			return nil, err
		}
		features = append(features, doc)
	}
	fc := geojson.New(geojson.TypeFeatureCollection)
	fc.SetFeatures(features)
	return fc, nil
}
