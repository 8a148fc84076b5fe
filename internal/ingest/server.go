package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"motionboard/internal/devices"
	"motionboard/internal/telemetry"
	"motionboard/pkg/config"
	"motionboard/pkg/middleware"
	"motionboard/pkg/openapi"
	"motionboard/pkg/problems"
)

const maxIngestBody = 10 << 20

// Server holds the gateway's handlers and their dependencies.
type Server struct {
	Devices   devices.Provider
	Sink      Sink
	Admission *Admission
	Metrics   *Metrics
	Log       *zap.SugaredLogger
	Table     string
	Version   string

	started time.Time
	now     func() time.Time
	api     *openapi.Registry
}

// Routes mounts the gateway API on r.
func (s *Server) Routes(r chi.Router) {
	if s.now == nil {
		s.now = time.Now
	}
	if s.Log == nil {
		s.Log = zap.NewNop().Sugar()
	}
	s.started = s.now()
	s.api = openapi.NewRegistry()

	s.get(r, "", "/", "Gateway root", s.root)
	s.get(r, "", "/health", "Liveness", s.health)
	r.Route("/api/v1", func(r chi.Router) {
		const v1 = "/api/v1"
		s.get(r, v1, "/", "API index", s.apiRoot)
		r.Route("/devices", func(r chi.Router) {
			const p = v1 + "/devices"
			s.get(r, p, "/", "List devices", s.listDevices)
			s.post(r, p, "/register", "Register a device", nil, s.registerDevice)
			s.get(r, p, "/{deviceID}", "Get a device", s.getDevice)
		})
		r.Route("/status", func(r chi.Router) {
			const p = v1 + "/status"
			s.get(r, p, "/", "Service status", s.status)
			s.get(r, p, "/health", "Status health", s.statusHealth)
		})
		r.Route("/ingest", func(r chi.Router) {
			const p = v1 + "/ingest"
			s.post(r, p, "/", "Ingest telemetry records", ingestSchema, s.ingest)
			s.get(r, p, "/health", "Ingest readiness", s.ingestHealth)
		})
	})
	r.Get("/openapi.json", s.api.ServeHandler("Gateway API", s.Version))
}

// get and post register h on r and document it under prefix+path.
func (s *Server) get(r chi.Router, prefix, path, summary string, h http.HandlerFunc) {
	r.Get(path, h)
	s.api.Register(openapi.Operation{Method: http.MethodGet, Path: prefix + path, Summary: summary, Tags: tag(prefix)})
}

func (s *Server) post(r chi.Router, prefix, path, summary string, body map[string]any, h http.HandlerFunc) {
	r.Post(path, h)
	op := openapi.Operation{Method: http.MethodPost, Path: prefix + path, Summary: summary, Tags: tag(prefix), Secured: true}
	if body != nil {
		op.RequestBody = openapi.JSONBody(body)
	}
	s.api.Register(op)
}

func tag(prefix string) []string {
	if i := strings.LastIndex(prefix, "/"); i >= 0 && prefix[i+1:] != "" && prefix[i+1:] != "v1" {
		return []string{prefix[i+1:]}
	}
	return nil
}

var ingestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"records": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"device_id", "x_axis", "y_axis", "z_axis", "movement", "timestamp"},
			},
		},
	},
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"message": "Gateway API is running", "version": s.Version}, http.StatusOK)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "healthy"}, http.StatusOK)
}

func (s *Server) apiRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"message":   "Gateway API v1",
		"endpoints": []string{"/devices", "/status"},
	}, http.StatusOK)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.Devices.List(r.Context())
	if err != nil {
		s.Log.Errorw("list devices", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		problems.Write(w, problems.New(http.StatusInternalServerError, "database-error", "Database error", err.Error()))
		return
	}
	writeJSON(w, list, http.StatusOK)
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.Devices.Register(r.Context())
	if err != nil {
		s.Log.Errorw("register device", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		problems.Write(w, problems.New(http.StatusInternalServerError, "registration-failed", "Failed to register device", err.Error()))
		return
	}
	if s.Metrics != nil {
		s.Metrics.register.Inc()
	}
	s.Log.Infow("device registered", "device_id", d.DeviceID, "subject", middleware.SubjectFrom(r.Context()))
	writeJSON(w, telemetry.Registration{
		DeviceID:  d.DeviceID,
		Timestamp: d.Timestamp.UTC().Format(time.RFC3339Nano),
		Status:    "registered",
	}, http.StatusOK)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	d, err := s.Devices.Get(r.Context(), id)
	switch {
	case errors.Is(err, devices.ErrNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, "device-not-found", "Device not found", id))
	case err != nil:
		problems.Write(w, problems.New(http.StatusInternalServerError, "database-error", "Database error", err.Error()))
	default:
		writeJSON(w, d, http.StatusOK)
	}
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	writeJSON(w, map[string]any{
		"service":   "gateway",
		"status":    "healthy",
		"uptime":    formatUptime(now.Sub(s.started)),
		"timestamp": now.UTC(),
	}, http.StatusOK)
}

func (s *Server) statusHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "timestamp": s.now().UTC()}, http.StatusOK)
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	return fmt.Sprintf("%dd %dh %dm", days, hours, int(d/time.Minute))
}

func (s *Server) outcome(o string) {
	if s.Metrics != nil {
		s.Metrics.batches.WithLabelValues(o).Inc()
	}
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req telemetry.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		s.outcome("invalid")
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-body", "Invalid request body", err.Error()))
		return
	}
	if len(req.Records) == 0 {
		s.outcome("empty")
		problems.Write(w, problems.New(http.StatusBadRequest, "no-records", "No records", "No records provided for ingestion"))
		return
	}
	reasons, err := s.Admission.Check(ctx, req.Records)
	if err != nil {
		s.outcome("failed")
		s.Log.Errorw("admission policy", "err", err)
		problems.Write(w, problems.New(http.StatusInternalServerError, "policy-error", "Admission policy failed", err.Error()))
		return
	}
	if len(reasons) > 0 {
		s.outcome("denied")
		p := problems.New(http.StatusBadRequest, "ingest-denied", "Batch rejected by admission policy", strings.Join(reasons, "; "))
		p.Reasons = reasons
		problems.Write(w, p)
		return
	}

	start := time.Now()
	err = s.Sink.WriteBatch(ctx, req.Records)
	if s.Metrics != nil {
		s.Metrics.latency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.outcome("failed")
		s.Log.Errorw("ingest failed", "err", err, "sink", s.Sink.Name(), "records", len(req.Records), "request_id", middleware.RequestIDFrom(ctx))
		problems.Write(w, problems.New(http.StatusInternalServerError, "ingest-failed", "Ingest failed", "Failed to ingest data: "+err.Error()))
		return
	}
	s.outcome("ok")
	if s.Metrics != nil {
		for _, rec := range req.Records {
			s.Metrics.records.WithLabelValues(s.Sink.Name(), rec.Movement).Inc()
		}
	}
	writeJSON(w, telemetry.IngestResponse{
		Success:          true,
		Message:          fmt.Sprintf("Successfully ingested %d records to %s", len(req.Records), s.Table),
		RecordsProcessed: len(req.Records),
		TableName:        s.Table,
	}, http.StatusOK)
}

func (s *Server) ingestHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"table_name": s.Table, "sink": s.Sink.Name()}
	err := s.Sink.Ready(r.Context())
	var cerr *config.ConfigurationError
	switch {
	case errors.As(err, &cerr):
		body["status"] = "error"
		body["message"] = "Missing environment variables: " + strings.Join(cerr.Missing, ", ")
	case err != nil:
		body["status"] = "error"
		body["message"] = err.Error()
	default:
		body["status"] = "healthy"
		body["message"] = "Ingest service is ready"
	}
	writeJSON(w, body, http.StatusOK)
}
