// Package geopin is the Go client for the GeoPin geodata service: record
// storage, proximity search, history, reverse geocoding, density and
// polygon-containment endpoints over HTTP.
//
// A Client is safe for concurrent use. Operations execute synchronously by
// default; switching the client to ModeDeferred routes them through a
// bounded worker pool and the returned *Call resolves later.
package geopin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geopin/geopin-go/internal/httpclient"
	"github.com/geopin/geopin-go/internal/oauth"
	"github.com/geopin/geopin-go/pkg/querycache"
)

// DefaultBaseURL is the production service endpoint.
const DefaultBaseURL = "https://api.geopin.example.com/v1"

// Signer authenticates an outbound request in place. Signing either succeeds
// or fails; a failure is classified as NotAuthorized and never retried.
type Signer interface {
	Sign(req *http.Request) error
}

type Client struct {
	baseURL  string
	http     *http.Client
	signer   Signer
	log      *slog.Logger
	mode     atomic.Int32
	pool     *pool
	workers  int
	queue    int
	cache    querycache.Store
	cacheTTL time.Duration

	hmu      sync.RWMutex
	handlers map[ResponseKind]Handler
	base     Handler
}

type Option func(*Client)

// WithCredentials sets the OAuth consumer key and secret used to sign every
// request.
func WithCredentials(key, secret string) Option {
	return func(c *Client) { c.signer = oauth.NewSigner(key, secret) }
}

// WithSigner replaces the default OAuth signer.
func WithSigner(s Signer) Option {
	return func(c *Client) { c.signer = s }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMode sets the initial execution mode. It can be changed later with
// SetMode.
func WithMode(m Mode) Option {
	return func(c *Client) { c.mode.Store(int32(m)) }
}

// WithWorkers sizes the deferred-mode worker pool: workers goroutines and a
// task queue of the given capacity. Submission blocks once the queue fills.
func WithWorkers(workers, queue int) Option {
	return func(c *Client) {
		c.workers = workers
		c.queue = queue
	}
}

// WithQueryCache serves repeated GET queries (nearby, reverse geocode,
// density, contains, boundary, overlaps) from the store for up to ttl.
func WithQueryCache(store querycache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("geopin: invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		workers: 4,
		queue:   16,
		base:    BaseHandler{},
		handlers: map[ResponseKind]Handler{
			ResponseJSON:    JSONHandler{},
			ResponseGeoJSON: GeoJSONHandler{},
			ResponseRecord:  RecordHandler{},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.signer == nil {
		return nil, errors.New("geopin: credentials are required (WithCredentials or WithSigner)")
	}
	if c.http == nil {
		c.http = httpclient.NewOutbound()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.pool = newPool(c.workers, c.queue)
	return c, nil
}

// Close stops the worker pool after draining queued deferred calls. The
// client must not be used afterwards.
func (c *Client) Close() {
	c.pool.close()
}

// Mode reports the current execution mode.
func (c *Client) Mode() Mode { return Mode(c.mode.Load()) }

// SetMode switches between synchronous and deferred execution. The flag is
// read at the start of each call; flipping it concurrently with in-flight
// calls is not synchronized beyond the atomic store.
func (c *Client) SetMode(m Mode) { c.mode.Store(int32(m)) }

// SetHandler replaces the decoder registered for a tag. No validation is
// performed that the capability actually supports the tag. The base protocol
// handler is fixed and cannot be replaced.
func (c *Client) SetHandler(kind ResponseKind, h Handler) {
	if kind == ResponseBase || h == nil {
		return
	}
	c.hmu.Lock()
	c.handlers[kind] = h
	c.hmu.Unlock()
}

// handlerFor returns the registered decoder, falling back to the base
// protocol handler for unrecognized tags.
func (c *Client) handlerFor(kind ResponseKind) Handler {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	if h, ok := c.handlers[kind]; ok && h != nil {
		return h
	}
	return c.base
}

// kindFor selects the decoder tag a storable's responses decode through:
// typed records round-trip through the record decoder, documents stay
// generic.
func kindFor(s Storable) ResponseKind {
	if _, ok := s.(*Record); ok {
		return ResponseRecord
	}
	return ResponseGeoJSON
}

// Retrieve fetches the current state of one or more records. Every element
// must carry an identifier; the layer of the first element is queried.
func (c *Client) Retrieve(ctx context.Context, records ...Storable) (*Call, error) {
	if len(records) == 0 {
		return nil, errors.New("geopin: retrieve needs at least one record")
	}
	layer, ids := normalize(records)
	if layer == "" {
		return nil, errors.New("geopin: records resolve to no layer")
	}
	if len(ids) == 0 {
		return nil, errors.New("geopin: records resolve to no identifiers")
	}
	return c.dispatch(ctx, &request{
		op:     "retrieve",
		method: http.MethodGet,
		path:   recordsPath(layer, ids),
		kind:   kindFor(records[0]),
		layer:  layer,
	})
}

// RetrieveIDs fetches records by explicit layer and identifiers, decoding
// them as typed records.
func (c *Client) RetrieveIDs(ctx context.Context, layer string, ids ...string) (*Call, error) {
	if layer == "" {
		return nil, errors.New("geopin: layer is required")
	}
	if len(ids) == 0 {
		return nil, errors.New("geopin: at least one identifier is required")
	}
	return c.dispatch(ctx, &request{
		op:     "retrieve",
		method: http.MethodGet,
		path:   recordsPath(layer, ids),
		kind:   ResponseRecord,
		layer:  layer,
	})
}

// Update writes one record, creating it if necessary. A typed record is sent
// as a bare Feature; a Feature document is wrapped in a one-element
// FeatureCollection before sending.
func (c *Client) Update(ctx context.Context, s Storable) (*Call, error) {
	doc, err := documentOf(s)
	if err != nil {
		return nil, err
	}
	if d, ok := s.(*Document); ok && d.Object.IsFeature() {
		doc, err = collectionOf([]Storable{s})
		if err != nil {
			return nil, err
		}
	}
	layer, ok := layerOf(s)
	if !ok {
		return nil, errors.New("geopin: record resolves to no layer")
	}
	body, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("geopin: encode body: %w", err)
	}
	return c.dispatch(ctx, &request{
		op:     "update",
		method: http.MethodPost,
		path:   "/records/" + url.PathEscape(layer) + ".json",
		body:   body,
		kind:   kindFor(s),
		layer:  layer,
	})
}

// UpdateAll writes an ordered list of records as one FeatureCollection.
func (c *Client) UpdateAll(ctx context.Context, records []Storable) (*Call, error) {
	if len(records) == 0 {
		return nil, errors.New("geopin: update needs at least one record")
	}
	layer, _ := layerOf(records[0])
	if layer == "" {
		return nil, errors.New("geopin: records resolve to no layer")
	}
	doc, err := collectionOf(records)
	if err != nil {
		return nil, err
	}
	body, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("geopin: encode body: %w", err)
	}
	return c.dispatch(ctx, &request{
		op:     "update",
		method: http.MethodPost,
		path:   "/records/" + url.PathEscape(layer) + ".json",
		body:   body,
		kind:   kindFor(records[0]),
		layer:  layer,
	})
}

// Delete removes one record. The record must resolve to a layer and an
// identifier.
func (c *Client) Delete(ctx context.Context, s Storable) (*Call, error) {
	layer, ok := layerOf(s)
	if !ok {
		return nil, errors.New("geopin: record resolves to no layer")
	}
	ids := idsOf(s)
	if len(ids) == 0 {
		return nil, errors.New("geopin: record resolves to no identifier")
	}
	return c.dispatch(ctx, &request{
		op:     "delete",
		method: http.MethodDelete,
		path:   recordsPath(layer, ids[:1]),
		kind:   kindFor(s),
		layer:  layer,
	})
}

// DeleteID removes a record by explicit layer and identifier.
func (c *Client) DeleteID(ctx context.Context, layer, id string) (*Call, error) {
	if layer == "" || id == "" {
		return nil, errors.New("geopin: layer and id are required")
	}
	return c.dispatch(ctx, &request{
		op:     "delete",
		method: http.MethodDelete,
		path:   recordsPath(layer, []string{id}),
		kind:   ResponseBase,
		layer:  layer,
	})
}

// Nearby runs a proximity search, decoding the page as a generic document.
// The page may carry a next_cursor; set it back on the query to continue.
func (c *Client) Nearby(ctx context.Context, q *NearbyQuery) (*Call, error) {
	return c.NearbyAs(ctx, q, ResponseGeoJSON)
}

// NearbyAs runs a proximity search through the chosen decoder.
func (c *Client) NearbyAs(ctx context.Context, q *NearbyQuery, kind ResponseKind) (*Call, error) {
	if q == nil || q.Layer == "" {
		return nil, errors.New("geopin: nearby query needs a layer")
	}
	return c.dispatch(ctx, &request{
		op:        "nearby",
		method:    http.MethodGet,
		path:      q.Path(),
		params:    q.Params(),
		kind:      kind,
		layer:     q.Layer,
		cacheable: true,
	})
}

// History returns the reverse-chronological trail of a record as a generic
// document (a GeometryCollection of points with created timestamps).
func (c *Client) History(ctx context.Context, q *HistoryQuery) (*Call, error) {
	return c.HistoryAs(ctx, q, ResponseGeoJSON)
}

// HistoryAs is History with an explicit decoder tag. Only the GeoJSON
// decoder is supported; anything else fails before any network activity.
func (c *Client) HistoryAs(ctx context.Context, q *HistoryQuery, kind ResponseKind) (*Call, error) {
	if kind != ResponseGeoJSON {
		return nil, unsupported("the history endpoint only returns structured documents")
	}
	if q == nil || q.Layer == "" || q.RecordID == "" {
		return nil, errors.New("geopin: history query needs a layer and record id")
	}
	return c.dispatch(ctx, &request{
		op:     "history",
		method: http.MethodGet,
		path:   q.Path(),
		params: q.Params(),
		kind:   kind,
		layer:  q.Layer,
	})
}

// ReverseGeocode resolves a coordinate to the address-like feature the
// service knows at that point.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (*Call, error) {
	return c.dispatch(ctx, &request{
		op:        "reverse_geocode",
		method:    http.MethodGet,
		path:      "/nearby/address/" + formatCoord(lat) + "," + formatCoord(lon) + ".json",
		kind:      ResponseGeoJSON,
		cacheable: true,
	})
}

// Density reports activity density around a point for a weekday. An hour in
// [0,23] narrows the sample to that hour; any other value queries the whole
// day.
func (c *Client) Density(ctx context.Context, day time.Weekday, hour int, lat, lon float64) (*Call, error) {
	return c.DensityAs(ctx, day, hour, lat, lon, ResponseGeoJSON)
}

// DensityAs is Density with an explicit decoder tag.
func (c *Client) DensityAs(ctx context.Context, day time.Weekday, hour int, lat, lon float64, kind ResponseKind) (*Call, error) {
	return c.dispatch(ctx, &request{
		op:        "density",
		method:    http.MethodGet,
		path:      densityPath(day, hour, lat, lon),
		kind:      kind,
		cacheable: true,
	})
}

// Contains walks the polygon layers containing a point, innermost first.
func (c *Client) Contains(ctx context.Context, lat, lon float64) (*Call, error) {
	return c.ContainsAs(ctx, lat, lon, ResponseJSON)
}

// ContainsAs is Contains with an explicit decoder tag. Only the JSON decoder
// is supported; anything else fails before any network activity.
func (c *Client) ContainsAs(ctx context.Context, lat, lon float64, kind ResponseKind) (*Call, error) {
	if kind != ResponseJSON {
		return nil, unsupported("the contains endpoint only returns raw JSON")
	}
	return c.dispatch(ctx, &request{
		op:        "contains",
		method:    http.MethodGet,
		path:      "/contains/" + formatCoord(lat) + "," + formatCoord(lon) + ".json",
		kind:      kind,
		cacheable: true,
	})
}

// Boundary fetches the polygon feature behind an identifier returned by
// Contains.
func (c *Client) Boundary(ctx context.Context, featureID string) (*Call, error) {
	return c.BoundaryAs(ctx, featureID, ResponseGeoJSON)
}

// BoundaryAs is Boundary with an explicit decoder tag.
func (c *Client) BoundaryAs(ctx context.Context, featureID string, kind ResponseKind) (*Call, error) {
	if featureID == "" {
		return nil, errors.New("geopin: feature id is required")
	}
	return c.dispatch(ctx, &request{
		op:        "boundary",
		method:    http.MethodGet,
		path:      "/boundary/" + url.PathEscape(featureID) + ".json",
		kind:      kind,
		cacheable: true,
	})
}

// Overlaps lists boundaries intersecting the envelope. Limit is a soft cap;
// featureType filters by boundary type when non-empty.
func (c *Client) Overlaps(ctx context.Context, env Envelope, limit int, featureType string) (*Call, error) {
	return c.OverlapsAs(ctx, env, limit, featureType, ResponseJSON)
}

// OverlapsAs is Overlaps with an explicit decoder tag. Only the JSON decoder
// is supported; anything else fails before any network activity.
func (c *Client) OverlapsAs(ctx context.Context, env Envelope, limit int, featureType string, kind ResponseKind) (*Call, error) {
	if kind != ResponseJSON {
		return nil, unsupported("the overlaps endpoint only returns raw JSON")
	}
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if featureType != "" {
		params.Set("type", featureType)
	}
	return c.dispatch(ctx, &request{
		op:        "overlaps",
		method:    http.MethodGet,
		path:      "/overlaps/" + env.String() + ".json",
		params:    params,
		kind:      kind,
		cacheable: true,
	})
}

// recordsPath builds /records/{layer}/{ids}.json with each identifier
// escaped individually so the comma separators stay literal.
func recordsPath(layer string, ids []string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return "/records/" + url.PathEscape(layer) + "/" + strings.Join(escaped, ",") + ".json"
}
