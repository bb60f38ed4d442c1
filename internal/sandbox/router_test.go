package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geopin/geopin-go/pkg/geopin"
)

// spins up the sandbox and an SDK client signed with matching credentials
func newSandboxClient(t *testing.T) *geopin.Client {
	t.Helper()
	cfg := Config{ConsumerKey: "sandbox-key", CellRes: 8, PageLimit: 25, HistoryDepth: 8}
	srv := httptest.NewServer(NewRouter(cfg, NewStore(cfg.CellRes, cfg.HistoryDepth), slog.Default()))
	t.Cleanup(srv.Close)

	c, err := geopin.New(srv.URL,
		geopin.WithCredentials("sandbox-key", "sandbox-secret"),
		geopin.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("geopin.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func wait(t *testing.T, call *geopin.Call, err error) geopin.Result {
	t.Helper()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return res
}

func TestEndToEnd_UpdateRetrieveDelete(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	r := geopin.NewRecord("demo", "rec-1", 59.3321, 18.0601)
	r.SetProperty("name", "city hall")
	wait(t, c.Update(ctx, r))

	res := wait(t, c.RetrieveIDs(ctx, "demo", "rec-1"))
	if res.Kind != geopin.ResultRecord {
		t.Fatalf("kind=%v want single record", res.Kind)
	}
	if res.Record.ID != "rec-1" || res.Record.Lat != 59.3321 {
		t.Fatalf("record: %+v", res.Record)
	}
	if v, _ := res.Record.Property("name"); v != "city hall" {
		t.Fatalf("property lost: %v", v)
	}

	wait(t, c.DeleteID(ctx, "demo", "rec-1"))

	_, err := c.RetrieveIDs(ctx, "demo", "rec-1")
	if !errors.Is(err, geopin.ErrNoSuchRecord) {
		t.Fatalf("err=%v want no such record", err)
	}
}

func TestEndToEnd_BatchRetrieve(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	list := []geopin.Storable{
		geopin.NewRecord("demo", "a", 59.33, 18.06),
		geopin.NewRecord("demo", "b", 59.34, 18.07),
	}
	wait(t, c.UpdateAll(ctx, list))

	res := wait(t, c.RetrieveIDs(ctx, "demo", "a", "b"))
	if res.Kind != geopin.ResultRecords || len(res.Records) != 2 {
		t.Fatalf("result: %+v", res)
	}
}

func TestEndToEnd_NearbyPagination(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	var list []geopin.Storable
	for _, id := range []string{"p1", "p2", "p3"} {
		list = append(list, geopin.NewRecord("demo", id, 59.33, 18.06))
	}
	wait(t, c.UpdateAll(ctx, list))

	q := geopin.NewPointNearby(59.33, 18.06, 2, "demo")
	q.Limit = 2

	res := wait(t, c.Nearby(ctx, q))
	if got := len(res.Document.Features()); got != 2 {
		t.Fatalf("first page=%d want 2", got)
	}
	if res.NextCursor == "" {
		t.Fatalf("first page must carry a cursor")
	}

	q.SetCursor(res.NextCursor)
	res = wait(t, c.Nearby(ctx, q))
	if got := len(res.Document.Features()); got != 1 {
		t.Fatalf("second page=%d want 1", got)
	}
	if res.NextCursor != "" {
		t.Fatalf("final page must not carry a cursor")
	}
}

func TestEndToEnd_History(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := geopin.NewRecord("demo", "mover", 59.33+float64(i)/100, 18.06)
		r.Created = time.Unix(int64(1500000000+i), 0)
		wait(t, c.Update(ctx, r))
	}

	res := wait(t, c.History(ctx, geopin.NewHistoryQuery("demo", "mover")))
	if res.Kind != geopin.ResultDocument {
		t.Fatalf("kind=%v", res.Kind)
	}
	raw, _ := res.Document.Get("geometries")
	points, _ := raw.([]any)
	if len(points) != 3 {
		t.Fatalf("history points=%d want 3", len(points))
	}
}

func TestEndToEnd_ContainsBoundaryOverlaps(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	res := wait(t, c.Contains(ctx, 59.33, 18.06))
	if res.Kind != geopin.ResultArray || len(res.Array) < 3 {
		t.Fatalf("contains: %+v", res)
	}
	first, _ := res.Array[0].(map[string]any)
	id, _ := first["id"].(string)
	if id == "" {
		t.Fatalf("contains entries must carry ids: %v", first)
	}

	res = wait(t, c.Boundary(ctx, id))
	if res.Kind != geopin.ResultDocument || !res.Document.IsFeature() {
		t.Fatalf("boundary: %+v", res)
	}
	g := res.Document.Geometry()
	if g == nil || g.Type() != "Polygon" {
		t.Fatalf("boundary geometry: %v", g)
	}

	env := geopin.NewEnvelope(11, 56, 20, 61)
	res = wait(t, c.Overlaps(ctx, env, 2, "City"))
	if res.Kind != geopin.ResultArray || len(res.Array) != 2 {
		t.Fatalf("overlaps: %+v", res)
	}
}

func TestEndToEnd_DensityAndReverseGeocode(t *testing.T) {
	c := newSandboxClient(t)
	ctx := context.Background()

	res := wait(t, c.Density(ctx, time.Monday, 9, 59.33, 18.06))
	if res.Kind != geopin.ResultDocument {
		t.Fatalf("density: %+v", res)
	}
	props, _ := res.Document.Get("properties")
	bag, _ := props.(map[string]any)
	if _, ok := bag["dnsty"]; !ok {
		t.Fatalf("density value missing: %v", bag)
	}

	res = wait(t, c.ReverseGeocode(ctx, 59.33, 18.06))
	if res.Kind != geopin.ResultDocument {
		t.Fatalf("reverse geocode: %+v", res)
	}
	props, _ = res.Document.Get("properties")
	bag, _ = props.(map[string]any)
	addr, _ := bag["address"].(string)
	if addr == "" {
		t.Fatalf("address missing: %v", bag)
	}
}

func TestEndToEnd_WrongKeyRejected(t *testing.T) {
	cfg := Config{ConsumerKey: "sandbox-key", CellRes: 8, PageLimit: 25, HistoryDepth: 8}
	srv := httptest.NewServer(NewRouter(cfg, NewStore(cfg.CellRes, cfg.HistoryDepth), slog.Default()))
	t.Cleanup(srv.Close)

	c, err := geopin.New(srv.URL,
		geopin.WithCredentials("intruder", "secret"),
		geopin.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("geopin.New: %v", err)
	}
	t.Cleanup(c.Close)

	_, err = c.RetrieveIDs(context.Background(), "demo", "a")
	if !errors.Is(err, geopin.ErrNotAuthorized) {
		t.Fatalf("err=%v want not authorized", err)
	}
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	cfg := Config{ConsumerKey: "sandbox-key", CellRes: 8, PageLimit: 25, HistoryDepth: 8}
	srv := httptest.NewServer(NewRouter(cfg, NewStore(cfg.CellRes, cfg.HistoryDepth), slog.Default()))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
}
