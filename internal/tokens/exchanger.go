// Package tokens runs the three-step exchange that turns service-principal
// credentials into a viewer-scoped dashboard token.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"motionboard/pkg/config"
	"motionboard/pkg/middleware"
)

type Step string

const (
	StepOIDC      Step = "oidc"
	StepTokenInfo Step = "tokeninfo"
	StepScoped    Step = "scoped"
)

var stepLabel = map[Step]string{
	StepOIDC:      "OIDC token request",
	StepTokenInfo: "Dashboard token info request",
	StepScoped:    "Scoped token request",
}

// UpstreamError is a non-2xx answer from one step of the chain.
type UpstreamError struct {
	Step       Step
	Status     int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", stepLabel[e.Step], e.Status, e.StatusText)
}

// NetworkError is a transport failure during one step.
type NetworkError struct {
	Step Step
	Err  error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s failed: %v", stepLabel[e.Step], e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TokenInfo is the published-dashboard token info document. Every field except
// authorization_details is forwarded verbatim to the scoped grant.
type TokenInfo map[string]any

// Tokens is the result of one full exchange.
type Tokens struct {
	OIDCToken   string     `json:"oidcToken"`
	TokenInfo   TokenInfo  `json:"tokenInfo"`
	ScopedToken string     `json:"scopedToken"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Source is anything that can produce a fresh token set.
type Source interface {
	Exchange(ctx context.Context) (Tokens, error)
}

// Exchanger performs the chain. It holds no token state: every Exchange
// starts from the OIDC grant.
type Exchanger struct {
	creds config.Credentials
	http  *http.Client
	log   *zap.SugaredLogger
}

// NewExchanger builds an exchanger. A nil hc gets a traced client with a 15s
// timeout.
func NewExchanger(creds config.Credentials, hc *http.Client, log *zap.SugaredLogger) *Exchanger {
	if hc == nil {
		hc = middleware.TracedClient(15 * time.Second)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exchanger{creds: creds, http: hc, log: log}
}

// Exchange validates the credentials and runs OIDC, token info and scoped
// grant in order. The first failing step aborts the chain.
func (e *Exchanger) Exchange(ctx context.Context) (Tokens, error) {
	if err := e.creds.Validate(); err != nil {
		return Tokens{}, err
	}
	oidc, err := e.fetchOIDCToken(ctx)
	if err != nil {
		return Tokens{}, e.fail(err)
	}
	info, err := e.fetchTokenInfo(ctx, oidc)
	if err != nil {
		return Tokens{}, e.fail(err)
	}
	scoped, err := e.fetchScopedToken(ctx, info)
	if err != nil {
		return Tokens{}, e.fail(err)
	}
	out := Tokens{OIDCToken: oidc, TokenInfo: info, ScopedToken: scoped.AccessToken}
	if exp := expiry(scoped); !exp.IsZero() {
		out.ExpiresAt = &exp
	}
	e.log.Infow("dashboard tokens issued", "dashboard_id", e.creds.DashboardID, "expires_at", out.ExpiresAt)
	return out, nil
}

func (e *Exchanger) fail(err error) error {
	e.log.Errorw("token exchange failed", "err", err)
	return err
}

func (e *Exchanger) tokenURL() string { return e.creds.InstanceURL + "/oidc/v1/token" }

// clientContext hands x/oauth2 a copy of e.http whose transport rewrites
// Basic auth with the raw id and secret. x/oauth2 query-escapes both before
// encoding, which the token endpoint does not undo.
func (e *Exchanger) clientContext(ctx context.Context) context.Context {
	hc := *e.http
	hc.Transport = &rawBasicAuth{base: e.http.Transport, id: e.creds.ServicePrincipalID, secret: e.creds.ServicePrincipalSecret}
	return context.WithValue(ctx, oauth2.HTTPClient, &hc)
}

type rawBasicAuth struct {
	base       http.RoundTripper
	id, secret string
}

func (t *rawBasicAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.id, t.secret)
	return base.RoundTrip(r)
}

func (e *Exchanger) fetchOIDCToken(ctx context.Context) (string, error) {
	e.log.Debugw("fetching OIDC token")
	cc := clientcredentials.Config{
		ClientID:     e.creds.ServicePrincipalID,
		ClientSecret: e.creds.ServicePrincipalSecret,
		TokenURL:     e.tokenURL(),
		Scopes:       []string{"all-apis"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(e.clientContext(ctx))
	if err != nil {
		return "", grantError(StepOIDC, err)
	}
	e.log.Debugw("OIDC token obtained")
	return tok.AccessToken, nil
}

func (e *Exchanger) fetchTokenInfo(ctx context.Context, oidcToken string) (TokenInfo, error) {
	e.log.Debugw("fetching dashboard token info")
	q := url.Values{}
	q.Set("external_viewer_id", e.creds.ExternalViewerID)
	q.Set("external_value", e.creds.ExternalValue)
	u := fmt.Sprintf("%s/api/2.0/lakeview/dashboards/%s/published/tokeninfo?%s",
		e.creds.InstanceURL, url.PathEscape(e.creds.DashboardID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+oidcToken)
	req.Header.Set("Accept", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Step: StepTokenInfo, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{Step: StepTokenInfo, Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var info TokenInfo
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", stepLabel[StepTokenInfo], err)
	}
	e.log.Debugw("dashboard token info obtained", "fields", len(info))
	return info, nil
}

func (e *Exchanger) fetchScopedToken(ctx context.Context, info TokenInfo) (*oauth2.Token, error) {
	e.log.Debugw("requesting scoped token")
	params, err := scopedParams(info)
	if err != nil {
		return nil, err
	}
	cc := clientcredentials.Config{
		ClientID:       e.creds.ServicePrincipalID,
		ClientSecret:   e.creds.ServicePrincipalSecret,
		TokenURL:       e.tokenURL(),
		EndpointParams: params,
		AuthStyle:      oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(e.clientContext(ctx))
	if err != nil {
		return nil, grantError(StepScoped, err)
	}
	e.log.Debugw("scoped token obtained")
	return tok, nil
}

// scopedParams form-encodes the token info: every field as its string form,
// authorization_details as JSON.
func scopedParams(info TokenInfo) (url.Values, error) {
	v := url.Values{}
	for k, val := range info {
		if k == "authorization_details" {
			continue
		}
		s, err := formValue(val)
		if err != nil {
			return nil, fmt.Errorf("token info field %q: %w", k, err)
		}
		v.Set(k, s)
	}
	if details, ok := info["authorization_details"]; ok {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("token info field %q: %w", "authorization_details", err)
		}
		v.Set("authorization_details", string(b))
	}
	return v, nil
}

func formValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		b, err := json.Marshal(t)
		return string(b), err
	}
}

func grantError(step Step, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &UpstreamError{Step: step, Status: re.Response.StatusCode, StatusText: http.StatusText(re.Response.StatusCode)}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &NetworkError{Step: step, Err: err}
	}
	return fmt.Errorf("%s: %w", stepLabel[step], err)
}

// expiry prefers expires_in from the grant and falls back to the exp claim
// when the token is a JWT. Opaque tokens without expires_in yield zero.
func expiry(tok *oauth2.Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	jt, err := jwt.Parse([]byte(tok.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}
	}
	return jt.Expiration()
}
