package geopin

import (
	"bytes"
	"encoding/json"

	"github.com/geopin/geopin-go/pkg/geojson"
)

// ResponseKind tags the decoder an operation wants its raw response routed
// through.
type ResponseKind int

const (
	// ResponseBase is the fixed protocol-level decoder: status check only,
	// payload discarded. It doubles as the fallback for unrecognized tags.
	ResponseBase ResponseKind = iota
	// ResponseJSON decodes raw JSON arrays and objects.
	ResponseJSON
	// ResponseGeoJSON decodes a structured document.
	ResponseGeoJSON
	// ResponseRecord decodes Feature documents into typed records.
	ResponseRecord
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseJSON:
		return "json"
	case ResponseGeoJSON:
		return "geojson"
	case ResponseRecord:
		return "record"
	}
	return "base"
}

// Handler decodes a raw response (status code plus body bytes) into a Result,
// or surfaces the structured error carried in the body. Handlers are shared
// by reference across concurrent dispatches and must be safe for concurrent
// use.
type Handler interface {
	Decode(status int, body []byte) (Result, error)
}

// checkStatus is the protocol gate every handler runs first. Non-2xx
// responses map to the error taxonomy, honoring a structured error body.
func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return serviceError(status, body)
}

// BaseHandler interprets protocol status codes uniformly and ignores the
// payload. Writes and deletes decode through it.
type BaseHandler struct{}

func (BaseHandler) Decode(status int, body []byte) (Result, error) {
	if err := checkStatus(status, body); err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultNone}, nil
}

// JSONHandler decodes raw JSON payloads: arrays and objects. An object's
// top-level next_cursor member is lifted onto the result.
type JSONHandler struct{}

func (JSONHandler) Decode(status int, body []byte) (Result, error) {
	if err := checkStatus(status, body); err != nil {
		return Result{}, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Result{Kind: ResultNone}, nil
	}
	switch trimmed[0] {
	case '[':
		var arr []any
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return Result{}, malformed(err, "response is not a JSON array")
		}
		return Result{Kind: ResultArray, Array: arr}, nil
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Result{}, malformed(err, "response is not a JSON object")
		}
		res := Result{Kind: ResultObject, Object: obj}
		if cursor, ok := obj["next_cursor"].(string); ok {
			res.NextCursor = cursor
		}
		return res, nil
	}
	return Result{}, malformed(nil, "response is neither a JSON array nor an object")
}

// GeoJSONHandler decodes the body as a generic structured document.
type GeoJSONHandler struct{}

func (GeoJSONHandler) Decode(status int, body []byte) (Result, error) {
	if err := checkStatus(status, body); err != nil {
		return Result{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{Kind: ResultNone}, nil
	}
	doc, err := geojson.Parse(body)
	if err != nil {
		return Result{}, malformed(err, "response is not a structured document")
	}
	res := Result{Kind: ResultDocument, Document: doc}
	if cursor, ok := doc.String("next_cursor"); ok {
		res.NextCursor = cursor
	}
	return res, nil
}

// RecordHandler decodes Feature documents into typed records: a bare
// Feature becomes one record, a FeatureCollection a list.
type RecordHandler struct{}

func (RecordHandler) Decode(status int, body []byte) (Result, error) {
	if err := checkStatus(status, body); err != nil {
		return Result{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{Kind: ResultNone}, nil
	}
	doc, err := geojson.Parse(body)
	if err != nil {
		return Result{}, malformed(err, "response is not a structured document")
	}

	var res Result
	switch {
	case doc.IsFeature():
		res = Result{Kind: ResultRecord, Record: recordFromFeature(doc)}
	case doc.IsFeatureCollection():
		features := doc.Features()
		records := make([]*Record, 0, len(features))
		for _, f := range features {
			records = append(records, recordFromFeature(f))
		}
		res = Result{Kind: ResultRecords, Records: records}
	default:
		return Result{}, malformed(nil, "document type %q does not carry records", doc.Type())
	}
	if cursor, ok := doc.String("next_cursor"); ok {
		res.NextCursor = cursor
	}
	return res, nil
}
