package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"motionboard/internal/devices"
	"motionboard/internal/telemetry"
	"motionboard/pkg/config"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]telemetry.Record
	err     error
	ready   error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) WriteBatch(_ context.Context, records []telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeSink) Ready(context.Context) error { return f.ready }

func newGateway(t *testing.T, sink Sink, adm *Admission) (http.Handler, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	s := &Server{
		Devices:   devices.NewMemoryProvider(zap.NewNop().Sugar()),
		Sink:      sink,
		Admission: adm,
		Metrics:   m,
		Table:     "app.device_data",
		Version:   "test",
	}
	r := chi.NewRouter()
	s.Routes(r)
	return r, m
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

const twoRecords = `{"records":[
 {"device_id":"d1","x_axis":0.1,"y_axis":0,"z_axis":0,"movement":"stable","timestamp":1700000000},
 {"device_id":"d1","x_axis":0.9,"y_axis":0,"z_axis":0,"movement":"tilting_forward","timestamp":1700000001}]}`

func TestIngestWritesBatch(t *testing.T) {
	sink := &fakeSink{}
	h, m := newGateway(t, sink, nil)

	rec, body := do(t, h, http.MethodPost, "/api/v1/ingest/", twoRecords)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body["message"] != "Successfully ingested 2 records to app.device_data" || body["records_processed"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}
	if len(sink.batches) != 1 || sink.batches[0][1].Movement != "tilting_forward" {
		t.Fatalf("sink saw %v", sink.batches)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok batches = %v", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("fake", "stable")); got != 1 {
		t.Fatalf("stable records = %v", got)
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	sink := &fakeSink{}
	h, _ := newGateway(t, sink, nil)
	for _, b := range []string{`{"records":[]}`, `{}`} {
		rec, body := do(t, h, http.MethodPost, "/api/v1/ingest/", b)
		if rec.Code != http.StatusBadRequest || body["detail"] != "No records provided for ingestion" {
			t.Fatalf("%s: %d %v", b, rec.Code, body)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("content type %q", ct)
		}
	}
	if len(sink.batches) != 0 {
		t.Fatal("sink must not be called for an empty batch")
	}
}

func TestIngestSinkFailure(t *testing.T) {
	h, m := newGateway(t, &fakeSink{err: errors.New("connection refused")}, nil)
	rec, body := do(t, h, http.MethodPost, "/api/v1/ingest/", twoRecords)
	if rec.Code != http.StatusInternalServerError || body["detail"] != "Failed to ingest data: connection refused" {
		t.Fatalf("%d %v", rec.Code, body)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed batches = %v", got)
	}
}

const denyUnlabelled = `package ingest

deny[msg] {
	r := input.records[_]
	r.movement == ""
	msg := sprintf("record from %s has no movement", [r.device_id])
}
`

func TestIngestAdmissionPolicy(t *testing.T) {
	adm, err := NewAdmission(context.Background(), "deny.rego", denyUnlabelled)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sink := &fakeSink{}
	h, _ := newGateway(t, sink, adm)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/ingest/", twoRecords)
	if rec.Code != http.StatusOK {
		t.Fatalf("clean batch rejected: %d %s", rec.Code, rec.Body.String())
	}

	bad := `{"records":[{"device_id":"d9","x_axis":0,"y_axis":0,"z_axis":0,"movement":"","timestamp":1}]}`
	rec, body := do(t, h, http.MethodPost, "/api/v1/ingest/", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	reasons, _ := body["reasons"].([]any)
	if len(reasons) != 1 || reasons[0] != "record from d9 has no movement" {
		t.Fatalf("reasons = %v", body["reasons"])
	}
	if len(sink.batches) != 1 {
		t.Fatalf("denied batch reached the sink: %d batches", len(sink.batches))
	}
}

func TestIngestHealth(t *testing.T) {
	cases := []struct {
		name   string
		ready  error
		status string
		msg    string
	}{
		{"ready", nil, "healthy", "Ingest service is ready"},
		{"missing env", &config.ConfigurationError{Missing: []string{"DATABASE_URL"}}, "error", "Missing environment variables: DATABASE_URL"},
		{"down", errors.New("dial tcp: refused"), "error", "dial tcp: refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newGateway(t, &fakeSink{ready: tc.ready}, nil)
			rec, body := do(t, h, http.MethodGet, "/api/v1/ingest/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("health must answer 200, got %d", rec.Code)
			}
			if body["status"] != tc.status || body["message"] != tc.msg || body["table_name"] != "app.device_data" {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestDeviceRoutes(t *testing.T) {
	h, m := newGateway(t, &fakeSink{}, nil)

	rec, reg := do(t, h, http.MethodPost, "/api/v1/devices/register", "")
	if rec.Code != http.StatusOK || reg["status"] != "registered" {
		t.Fatalf("register: %d %v", rec.Code, reg)
	}
	id, _ := reg["device_id"].(string)
	if _, err := time.Parse(time.RFC3339Nano, reg["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if got := testutil.ToFloat64(m.register); got != 1 {
		t.Fatalf("register counter = %v", got)
	}

	rec, got := do(t, h, http.MethodGet, "/api/v1/devices/"+id, "")
	if rec.Code != http.StatusOK || got["device_id"] != id {
		t.Fatalf("get: %d %v", rec.Code, got)
	}

	rec, _ = do(t, h, http.MethodGet, "/api/v1/devices/", "")
	var list []devices.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %s", err, rec.Body.String())
	}

	rec, nf := do(t, h, http.MethodGet, "/api/v1/devices/nope", "")
	if rec.Code != http.StatusNotFound || nf["title"] != "Device not found" {
		t.Fatalf("missing device: %d %v", rec.Code, nf)
	}
}

func TestRootAndStatus(t *testing.T) {
	h, _ := newGateway(t, &fakeSink{}, nil)

	_, root := do(t, h, http.MethodGet, "/", "")
	if root["message"] != "Gateway API is running" || root["version"] != "test" {
		t.Fatalf("root = %v", root)
	}
	_, v1 := do(t, h, http.MethodGet, "/api/v1/", "")
	if v1["message"] != "Gateway API v1" {
		t.Fatalf("v1 = %v", v1)
	}
	_, st := do(t, h, http.MethodGet, "/api/v1/status/", "")
	if st["service"] != "gateway" || st["uptime"] != "0d 0h 0m" {
		t.Fatalf("status = %v", st)
	}
	_, sh := do(t, h, http.MethodGet, "/api/v1/status/health", "")
	if sh["status"] != "ok" {
		t.Fatalf("status health = %v", sh)
	}

	rec, doc := do(t, h, http.MethodGet, "/openapi.json", "")
	paths, _ := doc["paths"].(map[string]any)
	if rec.Code != http.StatusOK || paths["/api/v1/ingest/"] == nil || paths["/api/v1/devices/{deviceID}"] == nil {
		t.Fatalf("openapi paths = %v", paths)
	}
}

func TestFormatUptime(t *testing.T) {
	d := 49*time.Hour + 5*time.Minute + 59*time.Second
	if got := formatUptime(d); got != "2d 1h 5m" {
		t.Fatalf("uptime = %q", got)
	}
}

func TestSplitTable(t *testing.T) {
	id, err := splitTable("app.device_data")
	if err != nil || id.Sanitize() != `"app"."device_data"` {
		t.Fatalf("split = %v %v", id, err)
	}
	if id, _ := splitTable("readings"); id[0] != "public" {
		t.Fatalf("bare name schema = %q", id[0])
	}
	for _, bad := range []string{".x", "a.", "a.b.c"} {
		if _, err := splitTable(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestNewSinkRequiresBackingStore(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	for sink, env := range map[string]string{"postgres": "DATABASE_URL", "redis": "REDIS_URL"} {
		_, err := NewSink(ctx, config.Config{IngestSink: sink, IngestTable: "app.device_data"}, nil, nil, log)
		var cerr *config.ConfigurationError
		if !errors.As(err, &cerr) || cerr.Missing[0] != env {
			t.Fatalf("%s: %v", sink, err)
		}
	}
	s, err := NewSink(ctx, config.Config{IngestSink: "log"}, nil, nil, log)
	if err != nil || s.Name() != "log" {
		t.Fatalf("log sink: %v %v", s, err)
	}
	if _, err := NewSink(ctx, config.Config{IngestSink: "kafka"}, nil, nil, log); err == nil {
		t.Fatal("unknown sink accepted")
	}
}
