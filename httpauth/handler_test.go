package httpauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ggoodman/oauth-bearer-go/auth"
	"github.com/ggoodman/oauth-bearer-go/auth/authtest"
	"github.com/ggoodman/oauth-bearer-go/directory"
	"github.com/ggoodman/oauth-bearer-go/guard"
)

type fixture struct {
	verifier *authtest.Verifier
	handler  *Handler
	reg      *prometheus.Registry
	server   *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	v := authtest.NewVerifier().
		Add("alice-token", auth.TokenRecord{IdentityKey: "alice", Scope: "read write"}).
		Add("admin-token", auth.TokenRecord{IdentityKey: "root", Scope: "read"}).
		Add("client-token", auth.TokenRecord{Scope: "jobs"}).
		Add("ghost-token", auth.TokenRecord{IdentityKey: "ghost", Scope: "read"}).
		Add("locked-token", auth.TokenRecord{IdentityKey: "mallory", Scope: "read"})
	d := directory.NewStatic(
		directory.User{Key: "alice", RoleList: []string{"ROLE_USER"}},
		directory.User{Key: "root", RoleList: []string{"ROLE_ADMIN"}},
		directory.User{Key: "mallory", RoleList: []string{"ROLE_USER"}, Locked: true},
	)
	a, err := auth.NewTokenAuthenticator(v, d, guard.Default())
	if err != nil {
		t.Fatalf("NewTokenAuthenticator: %v", err)
	}

	reg := prometheus.NewRegistry()
	h, err := New(a, append([]Option{WithRealm("api"), WithRegisterer(reg)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	whoami := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := CredentialFrom(r.Context())
		if !ok {
			http.Error(w, "no credential", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"roles": cred.Roles(), "anonymous": cred.Identity() == nil})
	})

	mux := http.NewServeMux()
	mux.Handle("/whoami", h.Middleware(whoami))
	mux.Handle("/admin", h.Middleware(h.RequireRoles("ROLE_ADMIN")(whoami)))
	mux.Handle("/writers", h.Middleware(h.RequireAnyRole("ROLE_WRITE", "ROLE_ADMIN")(whoami)))
	mux.Handle("/files", h.Middleware(h.RequireScopes("Files.Read")(whoami)))
	if p := h.MetadataPath(); p != "" {
		mux.Handle(p, h.MetadataHandler())
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{verifier: v, handler: h, reg: reg, server: srv}
}

func (f *fixture) do(t *testing.T, path, authz, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMiddleware_Success(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "/whoami", "Bearer alice-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Roles     []string `json:"roles"`
		Anonymous bool     `json:"anonymous"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]string{"ROLE_USER", "ROLE_READ", "ROLE_WRITE"}, body.Roles); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
	if body.Anonymous {
		t.Fatal("expected an identity")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
	if got := testutil.ToFloat64(f.handler.attempts.WithLabelValues(OutcomeOK)); got != 1 {
		t.Fatalf("ok counter = %v", got)
	}
	if n := testutil.CollectAndCount(f.handler.duration); n != 1 {
		t.Fatalf("duration histogram series = %d", n)
	}
}

func TestMiddleware_SchemeCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, "/whoami", "bearer client-token", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		authz     string
		status    int
		challenge string
		outcome   string
	}{
		{
			name:      "missing",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api"`,
			outcome:   OutcomeMissing,
		},
		{
			name:      "wrong scheme",
			authz:     "Basic dXNlcjpwYXNz",
			status:    http.StatusBadRequest,
			challenge: `Bearer realm="api", error="invalid_request", error_description="malformed bearer authorization header"`,
			outcome:   OutcomeMalformed,
		},
		{
			name:      "scheme only",
			authz:     "Bearer",
			status:    http.StatusBadRequest,
			challenge: `Bearer realm="api", error="invalid_request", error_description="malformed bearer authorization header"`,
			outcome:   OutcomeMalformed,
		},
		{
			name:      "unknown token",
			authz:     "Bearer nope",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api", error="invalid_token", error_description="authentication failed"`,
			outcome:   OutcomeInvalidToken,
		},
		{
			name:      "unknown identity",
			authz:     "Bearer ghost-token",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api", error="invalid_token", error_description="identity resolution failed"`,
			outcome:   OutcomeIdentityUnresolved,
		},
		{
			name:      "locked identity",
			authz:     "Bearer locked-token",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api", error="invalid_token", error_description="identity rejected: account is locked"`,
			outcome:   OutcomeIdentityRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(t, "/whoami", tt.authz, "")
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := resp.Header.Get("WWW-Authenticate"); got != tt.challenge {
				t.Fatalf("challenge = %q\nwant        %q", got, tt.challenge)
			}
			if got := testutil.ToFloat64(f.handler.attempts.WithLabelValues(tt.outcome)); got != 1 {
				t.Fatalf("%s counter = %v", tt.outcome, got)
			}
		})
	}
}

func TestMiddleware_EmptyToken(t *testing.T) {
	f := newFixture(t)
	mw := f.handler.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	}))
	// Built by hand so the trailing whitespace survives.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer    ")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error_description="empty bearer token"`) {
		t.Fatalf("challenge = %q", got)
	}
}

func TestMiddleware_TransportError(t *testing.T) {
	f := newFixture(t)
	f.verifier.SetErr(errors.New("introspection endpoint unreachable"))

	resp := f.do(t, "/whoami", "Bearer alice-token", "application/json")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != "" {
		t.Fatalf("unexpected challenge %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "unreachable") {
		t.Fatalf("transport detail leaked: %s", body)
	}
	if got := testutil.ToFloat64(f.handler.attempts.WithLabelValues(OutcomeError)); got != 1 {
		t.Fatalf("error counter = %v", got)
	}
}

func TestErrorBodyNegotiation(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "/whoami", "Bearer nope", "application/json")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("json content type = %q", ct)
	}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != http.StatusUnauthorized || body.Error.Message != "authentication failed" {
		t.Fatalf("body = %+v", body)
	}

	resp = f.do(t, "/whoami", "Bearer nope", "text/plain")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("text content type = %q", ct)
	}
	text, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(text)) != "authentication failed" {
		t.Fatalf("text body = %q", text)
	}
}

func TestRequireRoles(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "/admin", "Bearer alice-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := `Bearer realm="api", error="insufficient_scope", error_description="insufficient scope", scope="admin"`
	if got := resp.Header.Get("WWW-Authenticate"); got != want {
		t.Fatalf("challenge = %q", got)
	}

	if resp := f.do(t, "/admin", "Bearer admin-token", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "/admin", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}
}

func TestRequireAnyRole(t *testing.T) {
	f := newFixture(t)
	for token, status := range map[string]int{
		"alice-token":  http.StatusOK,
		"admin-token":  http.StatusOK,
		"client-token": http.StatusForbidden,
	} {
		t.Run(token, func(t *testing.T) {
			if resp := f.do(t, "/writers", "Bearer "+token, ""); resp.StatusCode != status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, status)
			}
		})
	}
}

func TestRequireScopes(t *testing.T) {
	f := newFixture(t)
	f.verifier.Add("files-token", auth.TokenRecord{Scope: "Files.Read"})

	resp := f.do(t, "/files", "Bearer alice-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := `Bearer realm="api", error="insufficient_scope", error_description="insufficient scope", scope="Files.Read"`
	if got := resp.Header.Get("WWW-Authenticate"); got != want {
		t.Fatalf("challenge = %q", got)
	}

	if resp := f.do(t, "/files", "Bearer files-token", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("files status = %d", resp.StatusCode)
	}
}

func TestRequiredScopes(t *testing.T) {
	got := requiredScopes([]string{"ROLE_FILES.READ", "ROLE_", "ADMIN"})
	if diff := cmp.Diff([]string{"files.read"}, got); diff != "" {
		t.Fatalf("scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestRequireRoles_WithoutMiddleware(t *testing.T) {
	f := newFixture(t)
	h := f.handler.RequireRoles("ROLE_ADMIN")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	sc := auth.SecurityConfig{
		Issuer:    "https://issuer.example.com",
		Audiences: []string{"https://api.example.com/v1"},
		JWKSURL:   "https://issuer.example.com/jwks.json",
		OIDC:      &auth.OIDCExtra{ScopesSupported: []string{"read", "write"}},
	}
	f := newFixture(t, WithSecurityConfig("https://api.example.com/v1", sc), WithResourceName("Jobs API"))

	if got := f.handler.MetadataPath(); got != "/.well-known/oauth-protected-resource/v1" {
		t.Fatalf("MetadataPath = %q", got)
	}

	resp := f.do(t, "/whoami", "", "")
	want := `Bearer realm="api", resource_metadata="https://api.example.com/.well-known/oauth-protected-resource/v1"`
	if got := resp.Header.Get("WWW-Authenticate"); got != want {
		t.Fatalf("challenge = %q", got)
	}

	resp = f.do(t, f.handler.MetadataPath(), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["resource"] != "https://api.example.com/v1" || doc["resource_name"] != "Jobs API" || doc["jwks_uri"] != sc.JWKSURL {
		t.Fatalf("metadata = %v", doc)
	}
	if diff := cmp.Diff([]any{"https://issuer.example.com"}, doc["authorization_servers"]); diff != "" {
		t.Fatalf("authorization_servers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{"read", "write"}, doc["scopes_supported"]); diff != "" {
		t.Fatalf("scopes_supported (-want +got):\n%s", diff)
	}
}

// newDiscoveryServer serves OIDC discovery metadata advertising scopes, plus a
// JWKS holding one fresh RSA key.
func newDiscoveryServer(t *testing.T, scopes []string) *httptest.Server {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	keys, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   srv.URL,
			"jwks_uri":                 srv.URL + "/keys",
			"authorization_endpoint":   srv.URL + "/oauth2/auth",
			"token_endpoint":           srv.URL + "/oauth2/token",
			"response_types_supported": []string{"code"},
			"scopes_supported":         scopes,
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keys)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProtectedResourceMetadata_AdvertisedScopes(t *testing.T) {
	idp := newDiscoveryServer(t, []string{"openid", "profile", "jobs:read", "internal:debug"})
	const resource = "https://api.example.com/v1"

	tests := []struct {
		name string
		opts []auth.JWTVerifierOption
		want []any
	}{
		{
			name: "discovered scopes by default",
			want: []any{"openid", "profile", "jobs:read", "internal:debug"},
		},
		{
			name: "filtered to api scopes",
			opts: []auth.JWTVerifierOption{auth.WithAdvertisedScopes(auth.FilterScopes(func(s string) bool {
				return strings.HasPrefix(s, "jobs:")
			}))},
			want: []any{"jobs:read"},
		},
		{
			name: "static scopes replace discovery",
			opts: []auth.JWTVerifierOption{auth.WithAdvertisedScopes(auth.StaticScopes("Files.Read", "admin"))},
			want: []any{"Files.Read", "admin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			vp, err := auth.NewJWTVerifierFromDiscovery(ctx, idp.URL, resource, tt.opts...)
			if err != nil {
				t.Fatalf("NewJWTVerifierFromDiscovery: %v", err)
			}

			f := newFixture(t, WithSecurityConfig(resource, vp.SecurityConfig()))
			resp := f.do(t, f.handler.MetadataPath(), "", "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("metadata status = %d", resp.StatusCode)
			}
			var doc map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, doc["scopes_supported"]); diff != "" {
				t.Fatalf("scopes_supported (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]any{idp.URL}, doc["authorization_servers"]); diff != "" {
				t.Fatalf("authorization_servers (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetadataHandler_Disabled(t *testing.T) {
	f := newFixture(t)
	if f.handler.MetadataPath() != "" {
		t.Fatal("expected no metadata path")
	}
	w := httptest.NewRecorder()
	f.handler.MetadataHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestNew_Validation(t *testing.T) {
	a := &authtest.NoAuth{}
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil authenticator")
	}
	if _, err := New(a, WithSecurityConfig("not a url", auth.SecurityConfig{Issuer: "x"})); err == nil {
		t.Fatal("expected error for invalid resource URL")
	}

	reg := prometheus.NewRegistry()
	if _, err := New(a, WithRegisterer(reg)); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New(a, WithRegisterer(reg)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "BEARER  abc ", want: "abc"},
		{header: "Bearer", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Token abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.header), func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}
