package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"motionboard/internal/devices"
	"motionboard/internal/tokens"
	"motionboard/pkg/config"
)

// SeedCount is how many devices POST /api/devices/seed inserts.
const SeedCount = 25

// Server is the dashboard web API.
type Server struct {
	Tokens  tokens.Source
	Embed   config.DashboardEmbed
	Devices devices.Provider
	Log     *zap.SugaredLogger
	// MountTimeout bounds how long the page waits for the widget.
	MountTimeout time.Duration
}

// Device is a registry entry with its display profile, keyed the way the
// browser expects.
type Device struct {
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	devices.Profile
}

func view(d devices.Device) Device {
	return Device{DeviceID: d.DeviceID, Timestamp: d.Timestamp, Profile: devices.ProfileFor(d.DeviceID)}
}

func views(in []devices.Device) []Device {
	out := make([]Device, 0, len(in))
	for _, d := range in {
		out = append(out, view(d))
	}
	return out
}

func (s *Server) Routes(r chi.Router) {
	if s.Log == nil {
		s.Log = zap.NewNop().Sugar()
	}
	r.Route("/api/dashboard", func(r chi.Router) {
		r.Post("/tokens", s.generateTokens)
		r.Get("/token", s.scopedToken)
		r.Get("/config", s.embedConfig)
	})
	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", s.listDevices)
		r.Post("/", s.createDevice)
		r.Post("/seed", s.seedDevices)
	})
	r.Get("/dashboard", s.page)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.Log.Errorw(what, "err", err)
	writeJSON(w, map[string]any{"success": false, "error": errorMessage(err)}, statusFor(err))
}

// errorMessage is the text shown to the browser.
func errorMessage(err error) string {
	var cerr *config.ConfigurationError
	if errors.As(err, &cerr) {
		return "Missing required environment variables: " + strings.Join(cerr.Missing, ", ")
	}
	return err.Error()
}

func statusFor(err error) int {
	var (
		up *tokens.UpstreamError
		ne *tokens.NetworkError
		qe jmes.SyntaxError
	)
	switch {
	case errors.As(err, &up), errors.As(err, &ne):
		return http.StatusBadGateway
	case errors.As(err, &qe):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) generateTokens(w http.ResponseWriter, r *http.Request) {
	toks, err := s.Tokens.Exchange(r.Context())
	if err != nil {
		s.fail(w, "failed to generate dashboard tokens", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": toks}, http.StatusOK)
}

func (s *Server) scopedToken(w http.ResponseWriter, r *http.Request) {
	toks, err := s.Tokens.Exchange(r.Context())
	if err != nil {
		s.fail(w, "failed to generate scoped token", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "token": toks.ScopedToken}, http.StatusOK)
}

func (s *Server) embedConfig(w http.ResponseWriter, _ *http.Request) {
	if err := s.Embed.Validate(); err != nil {
		s.fail(w, "failed to get dashboard config", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": s.Embed}, http.StatusOK)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.Devices.List(r.Context())
	if err != nil {
		s.fail(w, "failed to fetch devices", err)
		return
	}
	var data any = views(list)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		if data, err = filter(q, data); err != nil {
			s.fail(w, "device filter", err)
			return
		}
	}
	writeJSON(w, map[string]any{"success": true, "data": data}, http.StatusOK)
}

// filter applies a JMESPath expression to the JSON form of v.
func filter(expr string, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return jmes.Search(expr, doc)
}

func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.Devices.Register(r.Context())
	if err != nil {
		s.fail(w, "failed to create device", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": view(d)}, http.StatusOK)
}

func (s *Server) seedDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.Devices.Seed(r.Context(), SeedCount)
	if err != nil {
		s.fail(w, "failed to seed devices", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": views(list), "count": len(list)}, http.StatusOK)
}

// page fetches config and a fresh scoped token, then mounts the widget into
// the page's container.
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.MountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.MountTimeout)
		defer cancel()
	}
	pw := &pageWidget{}
	err := s.mountPage(ctx, pw)
	if err != nil {
		s.Log.Errorw("dashboard initialization failed", "err", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusFor(err))
		_ = errorTmpl.Execute(w, errorMessage(err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = pw.WriteTo(w)
}

func (s *Server) mountPage(ctx context.Context, wd Widget) error {
	if err := s.Embed.Validate(); err != nil {
		return err
	}
	toks, err := s.Tokens.Exchange(ctx)
	if err != nil {
		return err
	}
	m, err := NewMount(EmbedOptions{
		InstanceURL: s.Embed.InstanceURL,
		WorkspaceID: s.Embed.WorkspaceID,
		DashboardID: s.Embed.DashboardID,
		Token:       toks.ScopedToken,
	}, wd)
	if err != nil {
		return err
	}
	m.Resolve(containerID)
	return m.Initialize(ctx)
}
