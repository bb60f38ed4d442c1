package sandbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	mylog "github.com/geopin/geopin-go/internal/logger"
	"github.com/geopin/geopin-go/pkg/geojson"
)

// service binds the store and config to the HTTP surface.
type service struct {
	cfg   Config
	store *Store
	log   *slog.Logger
}

// NewRouter builds the sandbox HTTP handler: the full record, search and
// boundary surface the client SDK speaks.
func NewRouter(cfg Config, store *Store, log *slog.Logger) http.Handler {
	s := &service{cfg: cfg, store: store, log: log}

	r := chi.NewRouter()
	r.Use(recoverer())
	r.Use(logging(log))
	r.Use(s.auth)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/records/{layer}", s.update)
	r.Get("/records/{layer}/nearby/{target}", s.nearby)
	r.Get("/records/{layer}/{id}/history.json", s.history)
	r.Get("/records/{layer}/{ids}", s.retrieve)
	r.Delete("/records/{layer}/{ids}", s.delete)

	r.Get("/nearby/address/{coords}", s.reverseGeocode)
	r.Get("/density/{day}/{hour}/{coords}", s.densityHour)
	r.Get("/density/{day}/{coords}", s.densityDay)
	r.Get("/contains/{coords}", s.contains)
	r.Get("/boundary/{id}", s.boundary)
	r.Get("/overlaps/{bbox}", s.overlaps)

	return r
}

func logging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = mylog.NewID()
				w.Header().Set("X-Request-ID", reqID)
			}
			ctx := mylog.WithRequestID(r.Context(), reqID)
			ctx = mylog.WithComponent(ctx, "sandbox")
			l.LogAttrs(ctx, slog.LevelDebug, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

func recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic recovered", "err", rec)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// auth checks that the request was signed with the configured consumer key.
// The sandbox verifies key presence, not the HMAC itself.
func (s *service) auth(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ConsumerKey != "" && r.URL.Path != "/healthz" {
			header := r.Header.Get("Authorization")
			want := `oauth_consumer_key="` + s.cfg.ConsumerKey + `"`
			if !strings.HasPrefix(header, "OAuth ") || !strings.Contains(header, want) {
				writeError(w, http.StatusUnauthorized, "invalid consumer key")
				return
			}
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{"code": status, "message": fmt.Sprintf(format, args...)})
}

func writeDocument(w http.ResponseWriter, status int, doc *geojson.Object) {
	body, err := doc.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func trimJSON(v string) string { return strings.TrimSuffix(v, ".json") }

// parseCoords splits a "lat,lon" path segment.
func parseCoords(seg string) (float64, float64, error) {
	parts := strings.Split(seg, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want lat,lon, got %q", seg)
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad longitude %q", parts[1])
	}
	return lat, lon, nil
}

// page slices [0,total) by the offset encoded in the cursor. The returned
// next cursor is empty on the final page.
func page(total, limit int, cursor string) (lo, hi int, next string) {
	offset, _ := strconv.Atoi(cursor)
	if offset < 0 || offset > total {
		offset = 0
	}
	lo = offset
	hi = total
	if limit > 0 && lo+limit < total {
		hi = lo + limit
		next = strconv.Itoa(hi)
	}
	return lo, hi, next
}

func recordFeature(rec *storedRecord) *geojson.Object {
	f := geojson.New(geojson.TypeFeature)
	f.Set("id", rec.ID)
	f.Set("layer", rec.Layer)
	f.Set("created", rec.Created)
	f.SetGeometry(geojson.NewPoint(rec.Lat, rec.Lon))
	props := f.Properties()
	for k, v := range rec.Properties {
		props[k] = v
	}
	return f
}

func (s *service) retrieve(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	ids := strings.Split(trimJSON(chi.URLParam(r, "ids")), ",")

	var found []*geojson.Object
	for _, id := range ids {
		if rec, ok := s.store.Get(layer, id); ok {
			found = append(found, recordFeature(rec))
		}
	}
	if len(found) == 0 {
		writeError(w, http.StatusNotFound, "layer %s has no record %s", layer, strings.Join(ids, ","))
		return
	}
	if len(ids) == 1 {
		writeDocument(w, http.StatusOK, found[0])
		return
	}
	fc := geojson.New(geojson.TypeFeatureCollection)
	fc.SetFeatures(found)
	writeDocument(w, http.StatusOK, fc)
}

func (s *service) update(w http.ResponseWriter, r *http.Request) {
	layer := trimJSON(chi.URLParam(r, "layer"))

	doc := &geojson.Object{}
	if err := json.NewDecoder(r.Body).Decode(doc); err != nil {
		writeError(w, http.StatusBadRequest, "bad document: %v", err)
		return
	}

	var features []*geojson.Object
	switch {
	case doc.IsFeature():
		features = []*geojson.Object{doc}
	case doc.IsFeatureCollection():
		features = doc.Features()
	default:
		writeError(w, http.StatusBadRequest, "document type %q is not writable", doc.Type())
		return
	}

	for _, f := range features {
		rec, err := featureRecord(layer, f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		if err := s.store.Upsert(rec); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func featureRecord(layer string, f *geojson.Object) (*storedRecord, error) {
	id, ok := f.String("id")
	if !ok {
		return nil, fmt.Errorf("feature has no id")
	}
	g := f.Geometry()
	if g == nil || g.Type() != geojson.TypePoint {
		return nil, fmt.Errorf("record %s has no Point geometry", id)
	}
	coords, ok := g.Coordinates()
	if !ok || len(coords) < 2 {
		return nil, fmt.Errorf("record %s has malformed coordinates", id)
	}
	lon, _ := coords[0].(float64)
	lat, _ := coords[1].(float64)

	created := time.Now().Unix()
	if c, ok := f.Number("created"); ok {
		created = int64(c)
	}

	props := map[string]any{}
	if raw, ok := f.Get("properties"); ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				props[k] = v
			}
		}
	}
	return &storedRecord{
		ID: id, Layer: layer, Lat: lat, Lon: lon,
		Created: created, Properties: props,
	}, nil
}

func (s *service) delete(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	ids := strings.Split(trimJSON(chi.URLParam(r, "ids")), ",")

	if !s.store.Delete(layer, ids[0]) {
		writeError(w, http.StatusNotFound, "layer %s has no record %s", layer, ids[0])
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *service) nearby(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	target := trimJSON(chi.URLParam(r, "target"))

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = s.cfg.PageLimit
	}

	var recs []*storedRecord
	if parts := strings.Split(target, ","); len(parts) == 3 {
		lat, lon, err := parseCoords(parts[0] + "," + parts[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		radius, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "bad radius %q", parts[2])
			return
		}
		recs, err = s.store.Nearby(layer, lat, lon, radius, types)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	} else {
		var err error
		recs, err = s.store.NearbyCell(layer, target, types)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}

	lo, hi, next := page(len(recs), limit, r.URL.Query().Get("cursor"))
	features := make([]*geojson.Object, 0, hi-lo)
	for _, rec := range recs[lo:hi] {
		features = append(features, recordFeature(rec))
	}
	fc := geojson.New(geojson.TypeFeatureCollection)
	fc.SetFeatures(features)
	if next != "" {
		fc.Set("next_cursor", next)
	}
	writeDocument(w, http.StatusOK, fc)
}

func (s *service) history(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	id := chi.URLParam(r, "id")

	trail := s.store.History(layer, id)
	if len(trail) == 0 {
		writeError(w, http.StatusNotFound, "layer %s has no history for %s", layer, id)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = s.cfg.PageLimit
	}
	lo, hi, next := page(len(trail), limit, r.URL.Query().Get("cursor"))

	geometries := make([]any, 0, hi-lo)
	for _, snap := range trail[lo:hi] {
		geometries = append(geometries, map[string]any{
			"type":        geojson.TypePoint,
			"coordinates": []any{snap.Lon, snap.Lat},
			"created":     snap.Created,
		})
	}
	gc := geojson.New(geojson.TypeGeometryCollection)
	gc.Set("geometries", geometries)
	if next != "" {
		gc.Set("next_cursor", next)
	}
	writeDocument(w, http.StatusOK, gc)
}

func (s *service) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseCoords(trimJSON(chi.URLParam(r, "coords")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	levels := containing(lat, lon)
	if len(levels) == 0 {
		writeError(w, http.StatusNotFound, "no address at %v,%v", lat, lon)
		return
	}
	names := make([]string, 0, len(levels))
	for _, b := range levels {
		names = append(names, b.Name)
	}

	f := geojson.New(geojson.TypeFeature)
	f.SetGeometry(geojson.NewPoint(lat, lon))
	props := f.Properties()
	props["address"] = strings.Join(names, ", ")
	props["place"] = levels[0].Name
	writeDocument(w, http.StatusOK, f)
}

func (s *service) densityDay(w http.ResponseWriter, r *http.Request) {
	s.density(w, r, -1)
}

func (s *service) densityHour(w http.ResponseWriter, r *http.Request) {
	hour, err := strconv.Atoi(chi.URLParam(r, "hour"))
	if err != nil || hour < 0 || hour > 23 {
		writeError(w, http.StatusBadRequest, "bad hour %q", chi.URLParam(r, "hour"))
		return
	}
	s.density(w, r, hour)
}

var dayCodes = map[string]struct{}{
	"sun": {}, "mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {},
}

func (s *service) density(w http.ResponseWriter, r *http.Request, hour int) {
	day := chi.URLParam(r, "day")
	if _, ok := dayCodes[day]; !ok {
		writeError(w, http.StatusBadRequest, "bad day code %q", day)
		return
	}
	lat, lon, err := parseCoords(trimJSON(chi.URLParam(r, "coords")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	value, cell, err := densityAt(s.cfg.CellRes, day, hour, lat, lon)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	f := geojson.New(geojson.TypeFeature)
	f.SetGeometry(geojson.NewPoint(lat, lon))
	props := f.Properties()
	props["dayname"] = day
	if hour >= 0 {
		props["hour"] = hour
	}
	props["dnsty"] = value
	props["cell"] = cell
	writeDocument(w, http.StatusOK, f)
}

func (s *service) contains(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseCoords(trimJSON(chi.URLParam(r, "coords")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	levels := containing(lat, lon)
	out := make([]map[string]any, 0, len(levels))
	for _, b := range levels {
		out = append(out, map[string]any{
			"id":   b.ID,
			"type": b.Type,
			"name": b.Name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *service) boundary(w http.ResponseWriter, r *http.Request) {
	id := trimJSON(chi.URLParam(r, "id"))
	b, ok := boundaryByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no boundary %s", id)
		return
	}

	ring := make([]any, 0, len(b.Ring)+1)
	for _, p := range b.Ring {
		ring = append(ring, []any{p[0], p[1]})
	}
	ring = append(ring, []any{b.Ring[0][0], b.Ring[0][1]})

	f := geojson.New(geojson.TypeFeature)
	f.Set("id", b.ID)
	g := geojson.New(geojson.TypePolygon)
	g.Set("coordinates", []any{ring})
	f.SetGeometry(g)
	props := f.Properties()
	props["name"] = b.Name
	props["type"] = b.Type
	writeDocument(w, http.StatusOK, f)
}

func (s *service) overlaps(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(trimJSON(chi.URLParam(r, "bbox")), ",")
	if len(parts) != 4 {
		writeError(w, http.StatusBadRequest, "want west,south,east,north")
		return
	}
	box := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad bound %q", p)
			return
		}
		box[i] = v
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits := overlapping(box[0], box[1], box[2], box[3], r.URL.Query().Get("type"), limit)
	out := make([]map[string]any, 0, len(hits))
	for _, b := range hits {
		out = append(out, map[string]any{
			"id":   b.ID,
			"type": b.Type,
			"name": b.Name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
