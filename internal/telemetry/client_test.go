package telemetry

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
)

func TestClientIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ingest/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(IngestResponse{
			Success:          true,
			Message:          "ok",
			RecordsProcessed: len(req.Records),
			TableName:        "app.device_data",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	resp, err := c.Ingest(context.Background(), []Record{{DeviceID: "d", Movement: "stable", Timestamp: 1}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !resp.Success || resp.RecordsProcessed != 1 || resp.TableName != "app.device_data" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClientNon2xxIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL+"/", srv.Client()).RegisterDevice(context.Background())
	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if up.Status != http.StatusServiceUnavailable || up.Endpoint != "api/v1/devices/register" {
		t.Fatalf("unexpected error %+v", up)
	}
}

func TestClientRegisterAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/devices/register":
			_, _ = w.Write([]byte(`{"device_id":"abc","timestamp":"2026-01-01T00:00:00Z","status":"registered"}`))
		case "/api/v1/ingest/health":
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	reg, err := c.RegisterDevice(context.Background())
	if err != nil || reg.DeviceID != "abc" || reg.Status != "registered" {
		t.Fatalf("register: %+v %v", reg, err)
	}
	h, err := c.Health(context.Background())
	if err != nil || h["status"] != "healthy" {
		t.Fatalf("health: %v %v", h, err)
	}
}

type recorder struct {
	mu     sync.Mutex
	labels []string
}

func (r *recorder) AddRecord(_, _, _ float64, movement string) {
	r.mu.Lock()
	r.labels = append(r.labels, movement)
	r.mu.Unlock()
}

func TestSamplerClassifiesUntilEOF(t *testing.T) {
	input := strings.Join([]string{
		`{"x":0,"y":0,"z":0}`,
		`not json`,
		``,
		`{"x":0.9,"y":-0.8,"z":0}`,
		`{"x":0,"y":0,"z":-2}`,
	}, "\n")
	rec := &recorder{}
	s := &Sampler{Source: NewLineSource(strings.NewReader(input)), Buffer: rec, Interval: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"stable", "tilting_forward_rolling_left", "turning_left"}
	if strings.Join(rec.labels, ",") != strings.Join(want, ",") {
		t.Fatalf("labels = %v, want %v", rec.labels, want)
	}
}

func TestSimulatedSourceIsDeterministic(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := &SimulatedSource{Now: func() time.Time { return now }}
	first, _ := s.Read(context.Background())
	now = base.Add(10 * time.Second)
	a, _ := s.Read(context.Background())

	s2 := &SimulatedSource{Now: func() time.Time { return base }}
	_, _ = s2.Read(context.Background())
	s2.Now = func() time.Time { return base.Add(10 * time.Second) }
	b, _ := s2.Read(context.Background())

	if a != b {
		t.Fatalf("same offsets produced different samples: %+v vs %+v", a, b)
	}
	if first == a {
		t.Fatalf("expected motion over time")
	}
}
