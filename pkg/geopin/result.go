package geopin

import "github.com/geopin/geopin-go/pkg/geojson"

// ResultKind discriminates the closed set of decoded payload shapes.
type ResultKind int

const (
	// ResultNone marks a successful operation with no payload (writes,
	// deletes).
	ResultNone ResultKind = iota
	// ResultRecord is a single typed record.
	ResultRecord
	// ResultRecords is an ordered list of typed records.
	ResultRecords
	// ResultDocument is a generic structured document.
	ResultDocument
	// ResultArray is a raw JSON array.
	ResultArray
	// ResultObject is a raw JSON object.
	ResultObject
)

// Result is the decoded outcome of one operation. Only the field selected by
// Kind is populated. NextCursor, when non-empty, continues a paginated
// nearby/history query; its absence signals the end of the sequence.
type Result struct {
	Kind       ResultKind
	Record     *Record
	Records    []*Record
	Document   *geojson.Object
	Array      []any
	Object     map[string]any
	NextCursor string
}
