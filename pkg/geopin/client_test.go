package geopin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geopin/geopin-go/pkg/geojson"
	"github.com/geopin/geopin-go/pkg/querycache"
)

type stubSigner struct {
	err   error
	calls atomic.Int32
}

func (s *stubSigner) Sign(req *http.Request) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	req.Header.Set("Authorization", "OAuth test")
	return nil
}

// spins up a service double and a client pointed at it
func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts = append([]Option{WithSigner(&stubSigner{}), WithHTTPClient(srv.Client())}, opts...)
	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, &hits
}

func TestNew_RequiresCredentialsAndValidURL(t *testing.T) {
	if _, err := New("https://api.example.com"); err == nil {
		t.Fatalf("missing signer must be rejected")
	}
	if _, err := New("::not a url::", WithSigner(&stubSigner{})); err == nil {
		t.Fatalf("invalid base URL must be rejected")
	}
}

func TestRetrieveIDs_SyncRoundTrip(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records/demo/a,b.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("request left unsigned")
		}
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","id":"a","layer":"demo"},
			{"type":"Feature","id":"b","layer":"demo"}]}`))
	})

	call, err := c.RetrieveIDs(context.Background(), "demo", "a", "b")
	if err != nil {
		t.Fatalf("RetrieveIDs: %v", err)
	}
	if !call.Ready() {
		t.Fatalf("sync call must resolve before returning")
	}
	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Kind != ResultRecords || len(res.Records) != 2 {
		t.Fatalf("result: %+v", res)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d want 1", hits.Load())
	}
}

func TestRetrieve_UsesNormalizedLayerAndIDs(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records/demo/a,b,c.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	list := []Storable{
		collectionDoc(t, "demo", "a", "b"),
		NewRecord("demo", "c", 0, 0),
	}
	if _, err := c.Retrieve(context.Background(), list...); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
}

func TestDeferredMode_CallResolvesLater(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"type":"Feature","id":"a","layer":"demo"}`))
	}, WithMode(ModeDeferred))

	call, err := c.RetrieveIDs(context.Background(), "demo", "a")
	if err != nil {
		t.Fatalf("RetrieveIDs: %v", err)
	}
	if call.Ready() {
		t.Fatalf("deferred call resolved before the response arrived")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := call.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Kind != ResultRecord || res.Record.ID != "a" {
		t.Fatalf("result: %+v", res)
	}
}

func TestModeSwitch_IsReadPerCall(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"Feature","id":"a","layer":"demo"}`))
	})

	if c.Mode() != ModeSync {
		t.Fatalf("default mode=%v want sync", c.Mode())
	}
	c.SetMode(ModeDeferred)
	call, err := c.RetrieveIDs(context.Background(), "demo", "a")
	if err != nil {
		t.Fatalf("RetrieveIDs: %v", err)
	}
	if _, err := call.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	c.SetMode(ModeSync)
	call, err = c.RetrieveIDs(context.Background(), "demo", "a")
	if err != nil {
		t.Fatalf("RetrieveIDs: %v", err)
	}
	if !call.Ready() {
		t.Fatalf("sync call must be resolved on return")
	}
}

func TestSigningFailure_NotAuthorizedWithoutTransport(t *testing.T) {
	signer := &stubSigner{err: errors.New("bad credentials")}
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request must never reach the wire")
	}, WithSigner(signer))

	_, err := c.RetrieveIDs(context.Background(), "demo", "a")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err=%v want not authorized", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("hits=%d want 0", hits.Load())
	}
}

func TestHistoryAs_RejectsNonGeoJSONBeforeNetwork(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, kind := range []ResponseKind{ResponseJSON, ResponseRecord, ResponseBase} {
		_, err := c.HistoryAs(context.Background(), NewHistoryQuery("demo", "a"), kind)
		if !errors.Is(err, ErrUnsupportedOperation) {
			t.Fatalf("kind=%v: err=%v want unsupported", kind, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("hits=%d want 0", hits.Load())
	}
}

func TestContainsAndOverlapsAs_RejectNonJSONBeforeNetwork(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := c.ContainsAs(context.Background(), 1, 2, ResponseGeoJSON); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("contains: err=%v want unsupported", err)
	}
	env := NewEnvelope(-1, -1, 1, 1)
	if _, err := c.OverlapsAs(context.Background(), env, 0, "", ResponseRecord); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("overlaps: err=%v want unsupported", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("hits=%d want 0", hits.Load())
	}
}

func TestNearby_PaginationProgressesThroughCursor(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","next_cursor":"page2",
				"features":[{"type":"Feature","id":"a","layer":"demo"}]}`))
		case "page2":
			_, _ = w.Write([]byte(`{"type":"FeatureCollection",
				"features":[{"type":"Feature","id":"b","layer":"demo"}]}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	q := NewTokenNearby("tok", "demo")
	var ids []string
	for {
		call, err := c.Nearby(context.Background(), q)
		if err != nil {
			t.Fatalf("Nearby: %v", err)
		}
		res, err := call.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		for _, f := range res.Document.Features() {
			id, _ := f.String("id")
			ids = append(ids, id)
		}
		if res.NextCursor == "" {
			break
		}
		q.SetCursor(res.NextCursor)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids=%v", ids)
	}
}

func TestDeleteID_MissingRecordIsNoSuchRecord(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method=%s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"message":"no such record"}`))
	})

	_, err := c.DeleteID(context.Background(), "demo", "ghost")
	if !errors.Is(err, ErrNoSuchRecord) {
		t.Fatalf("err=%v want no such record", err)
	}
}

func TestUpdate_TypedRecordSendsBareFeature(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records/demo.json" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["type"] != "Feature" {
			t.Errorf("body type=%v want Feature", body["type"])
		}
		_, _ = w.Write([]byte(`{"type":"Feature","id":"a","layer":"demo"}`))
	})

	if _, err := c.Update(context.Background(), NewRecord("demo", "a", 1, 2)); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdate_FeatureDocumentIsWrappedInCollection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["type"] != "FeatureCollection" {
			t.Errorf("body type=%v want FeatureCollection", body["type"])
		}
		features, _ := body["features"].([]any)
		if len(features) != 1 {
			t.Errorf("features=%d want 1", len(features))
		}
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	f := geojson.New(geojson.TypeFeature)
	f.Set("id", "a")
	f.Set("layer", "demo")
	if _, err := c.Update(context.Background(), &Document{Object: f}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateAll_SendsOrderedCollection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		features, _ := body["features"].([]any)
		if len(features) != 2 {
			t.Errorf("features=%d want 2", len(features))
		}
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	list := []Storable{
		NewRecord("demo", "a", 1, 2),
		NewRecord("demo", "b", 3, 4),
	}
	if _, err := c.UpdateAll(context.Background(), list); err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
}

func TestDensity_HonorsRequestedDecoder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/density/sat/12/59.33,18.06.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"density":42,"type":"Feature"}`))
	})

	call, err := c.DensityAs(context.Background(), time.Saturday, 12, 59.33, 18.06, ResponseJSON)
	if err != nil {
		t.Fatalf("DensityAs: %v", err)
	}
	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Kind != ResultObject {
		t.Fatalf("kind=%v want ResultObject", res.Kind)
	}
}

func TestReverseGeocode_PathShape(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nearby/address/59.33,18.06.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"type":"Feature","properties":{"address":"Sergels torg 1"}}`))
	})

	call, err := c.ReverseGeocode(context.Background(), 59.33, 18.06)
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Kind != ResultDocument {
		t.Fatalf("kind=%v want ResultDocument", res.Kind)
	}
}

func TestQueryCache_SecondNearbyServedLocally(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}, WithQueryCache(querycache.NewMemoryStore(16), time.Minute))

	q := NewTokenNearby("tok", "demo")
	for i := 0; i < 2; i++ {
		call, err := c.Nearby(context.Background(), q)
		if err != nil {
			t.Fatalf("Nearby #%d: %v", i, err)
		}
		if _, err := call.Wait(context.Background()); err != nil {
			t.Fatalf("Wait #%d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d want 1", hits.Load())
	}
}

func TestQueryCache_WritesAreNeverCached(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"Feature","id":"a","layer":"demo"}`))
	}, WithQueryCache(querycache.NewMemoryStore(16), time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.Update(context.Background(), NewRecord("demo", "a", 1, 2)); err != nil {
			t.Fatalf("Update #%d: %v", i, err)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d want 2", hits.Load())
	}
}

func TestClose_RejectsDeferredSubmission(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, WithMode(ModeDeferred))
	c.Close()

	if _, err := c.RetrieveIDs(context.Background(), "demo", "a"); err == nil {
		t.Fatalf("closed client must refuse deferred work")
	}
}

func TestSetHandler_OverridesDecoder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`anything`))
	})

	c.SetHandler(ResponseJSON, BaseHandler{})
	call, err := c.ContainsAs(context.Background(), 1, 2, ResponseJSON)
	if err != nil {
		t.Fatalf("ContainsAs: %v", err)
	}
	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Kind != ResultNone {
		t.Fatalf("kind=%v want ResultNone from the replaced decoder", res.Kind)
	}
}
