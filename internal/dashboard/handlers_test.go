package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"motionboard/internal/devices"
	"motionboard/internal/tokens"
	"motionboard/pkg/config"
)

type fakeTokens struct {
	toks  tokens.Tokens
	err   error
	calls int
}

func (f *fakeTokens) Exchange(context.Context) (tokens.Tokens, error) {
	f.calls++
	return f.toks, f.err
}

var embed = config.DashboardEmbed{InstanceURL: "https://x.example", WorkspaceID: "ws-1", DashboardID: "dash-1"}

func newDashboard(t *testing.T, src tokens.Source, e config.DashboardEmbed) http.Handler {
	t.Helper()
	s := &Server{Tokens: src, Embed: e, Devices: devices.NewMemoryProvider(zap.NewNop().Sugar())}
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestTokenEndpoints(t *testing.T) {
	src := &fakeTokens{toks: tokens.Tokens{OIDCToken: "o", ScopedToken: "s", TokenInfo: tokens.TokenInfo{"k": "v"}}}
	h := newDashboard(t, src, embed)

	code, body := call(t, h, http.MethodPost, "/api/dashboard/tokens")
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || body["success"] != true || data["scopedToken"] != "s" || data["oidcToken"] != "o" {
		t.Fatalf("tokens: %d %v", code, body)
	}
	code, body = call(t, h, http.MethodGet, "/api/dashboard/token")
	if code != http.StatusOK || body["token"] != "s" {
		t.Fatalf("token: %d %v", code, body)
	}
	if src.calls != 2 {
		t.Fatalf("each request must run the chain, got %d calls", src.calls)
	}
}

func TestTokenEndpointErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"upstream", &tokens.UpstreamError{Step: tokens.StepOIDC, Status: 401, StatusText: "Unauthorized"}, http.StatusBadGateway, "OIDC token request failed: 401 Unauthorized"},
		{"config", &config.ConfigurationError{Missing: []string{"EXTERNAL_VALUE"}}, http.StatusInternalServerError, "Missing required environment variables: EXTERNAL_VALUE"},
		{"other", errors.New("decode failed"), http.StatusInternalServerError, "decode failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newDashboard(t, &fakeTokens{err: tc.err}, embed)
			code, body := call(t, h, http.MethodGet, "/api/dashboard/token")
			if code != tc.status || body["success"] != false || body["error"] != tc.msg {
				t.Fatalf("%d %v", code, body)
			}
		})
	}
}

func TestEmbedConfig(t *testing.T) {
	code, body := call(t, newDashboard(t, &fakeTokens{}, embed), http.MethodGet, "/api/dashboard/config")
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || data["instanceUrl"] != "https://x.example" || data["workspaceId"] != "ws-1" {
		t.Fatalf("config: %d %v", code, body)
	}

	_, body = call(t, newDashboard(t, &fakeTokens{}, config.DashboardEmbed{DashboardID: "d"}), http.MethodGet, "/api/dashboard/config")
	if body["error"] != "Missing required environment variables: DATABRICKS_INSTANCE_URL, DATABRICKS_WORKSPACE_ID" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestDeviceEndpoints(t *testing.T) {
	h := newDashboard(t, &fakeTokens{}, embed)

	code, body := call(t, h, http.MethodPost, "/api/devices/seed")
	if code != http.StatusOK || body["count"] != float64(SeedCount) {
		t.Fatalf("seed: %d %v", code, body["count"])
	}
	_, body = call(t, h, http.MethodPost, "/api/devices/")
	created, _ := body["data"].(map[string]any)
	id, _ := created["deviceId"].(string)
	p := devices.ProfileFor(id)
	if created["name"] != p.Name || created["location"] != p.Location || created["status"] != "online" {
		t.Fatalf("created device not enriched: %v", created)
	}

	_, body = call(t, h, http.MethodGet, "/api/devices/")
	list, _ := body["data"].([]any)
	if len(list) != SeedCount+1 {
		t.Fatalf("expected %d devices, got %d", SeedCount+1, len(list))
	}
	if first, _ := list[0].(map[string]any); first["deviceId"] != id {
		t.Fatalf("newest device not first: %v", list[0])
	}
}

func TestDeviceFilter(t *testing.T) {
	h := newDashboard(t, &fakeTokens{}, embed)
	call(t, h, http.MethodPost, "/api/devices/seed")

	_, body := call(t, h, http.MethodGet, "/api/devices?q=length(@)")
	if body["data"] != float64(SeedCount) {
		t.Fatalf("length = %v", body["data"])
	}
	_, body = call(t, h, http.MethodGet, "/api/devices?q=[?status=='online'].deviceId")
	if ids, _ := body["data"].([]any); len(ids) != SeedCount {
		t.Fatalf("filtered ids = %v", body["data"])
	}
	code, body := call(t, h, http.MethodGet, "/api/devices?q=[?")
	if code != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("bad expression: %d %v", code, body)
	}
}

func TestDashboardPage(t *testing.T) {
	h := newDashboard(t, &fakeTokens{toks: tokens.Tokens{ScopedToken: "scoped-123"}}, embed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	page := rec.Body.String()
	for _, want := range []string{`id="dashboard-container"`, "scoped-123", "dash-1", "ws-1"} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q:\n%s", want, page)
		}
	}

	h = newDashboard(t, &fakeTokens{err: &tokens.NetworkError{Step: tokens.StepOIDC, Err: errors.New("dial")}}, embed)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "Dashboard Error") {
		t.Fatalf("error page: %d %s", rec.Code, rec.Body.String())
	}
}
