package httpauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggoodman/oauth-bearer-go/auth"
	"github.com/ggoodman/oauth-bearer-go/internal/logctx"
	"github.com/ggoodman/oauth-bearer-go/internal/wellknown"
)

var (
	jsonMediaType      = contenttype.NewMediaType("application/json")
	textMediaType      = contenttype.NewMediaType("text/plain")
	errorBodyMediaType = []contenttype.MediaType{jsonMediaType, textMediaType}
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"
	bearerScheme          = "Bearer"
)

// Outcome labels recorded on the authentications counter.
const (
	OutcomeOK                 = "ok"
	OutcomeMissing            = "missing"
	OutcomeMalformed          = "malformed"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeIdentityUnresolved = "identity_unresolved"
	OutcomeIdentityRejected   = "identity_rejected"
	OutcomeError              = "error"
)

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	realm        string
	security     *auth.SecurityConfig
	resource     string
	resourceName string
	registerer   prometheus.Registerer
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. If
// empty (default), the realm attribute is omitted.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = strings.TrimSpace(realm) }
}

// WithSecurityConfig enables the protected resource metadata document
// (RFC 9728) for resourceURL, built from sc. Challenges then carry a
// resource_metadata attribute pointing at it.
func WithSecurityConfig(resourceURL string, sc auth.SecurityConfig) Option {
	return func(c *config) {
		cc := sc.Copy()
		c.security = &cc
		c.resource = resourceURL
	}
}

// WithResourceName sets a human-readable resource name surfaced in metadata.
func WithResourceName(name string) Option {
	return func(c *config) { c.resourceName = name }
}

// WithRegisterer registers authentication metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// Handler authenticates bearer tokens on incoming requests.
type Handler struct {
	auth  auth.Authenticator
	log   *slog.Logger
	realm string

	prm    *wellknown.ProtectedResourceMetadata
	prmURL *url.URL

	attempts *prometheus.CounterVec
	duration prometheus.Histogram
}

// New creates a Handler that authenticates requests with a.
func New(a auth.Authenticator, opts ...Option) (*Handler, error) {
	if a == nil {
		return nil, errors.New("httpauth: authenticator is required")
	}
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	h := &Handler{
		auth:  a,
		log:   slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		realm: cfg.realm,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bearer_authentications_total",
			Help: "Bearer token authentication attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bearer_authentication_duration_seconds",
			Help:    "Time spent authenticating bearer tokens.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if cfg.registerer != nil {
		for _, c := range []prometheus.Collector{h.attempts, h.duration} {
			if err := cfg.registerer.Register(c); err != nil {
				return nil, fmt.Errorf("httpauth: register metrics: %w", err)
			}
		}
	}

	if cfg.security != nil {
		resource, err := url.Parse(cfg.resource)
		if err != nil || resource.Scheme == "" || resource.Host == "" {
			return nil, fmt.Errorf("httpauth: invalid resource URL %q", cfg.resource)
		}
		sc := cfg.security
		h.prm = &wellknown.ProtectedResourceMetadata{
			Resource:               resource.String(),
			AuthorizationServers:   []string{sc.Issuer},
			JwksURI:                sc.JWKSURL,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           cfg.resourceName,
		}
		if sc.OIDC != nil {
			h.prm.ScopesSupported = sc.OIDC.ScopesSupported
			h.prm.ResourceDocumentation = sc.OIDC.ServiceDocumentation
			h.prm.ResourcePolicyURI = sc.OIDC.OpPolicyURI
			h.prm.ResourceTosURI = sc.OIDC.OpTosURI
		}
		h.prmURL = wellknown.MetadataURL(resource)
	}

	return h, nil
}

func (h *Handler) resourceMetadata() string {
	if h.prmURL == nil {
		return ""
	}
	return h.prmURL.String()
}

// Middleware authenticates the request before calling next. On success the
// credential is available to next via CredentialFrom.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := withRequestData(r)
		w.Header().Set(requestIDHeader, reqID)

		cred, ok := h.authenticate(ctx, w, r)
		if !ok {
			return
		}
		ctx = WithCredential(ctx, cred)
		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{IdentityKey: identityKey(cred), RoleCount: len(cred.Roles())})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withRequestData(r *http.Request) (context.Context, string) {
	if rd, ok := logctx.RequestDataFrom(r.Context()); ok {
		return r.Context(), rd.RequestID
	}
	id := r.Header.Get(requestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	return logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	}), id
}

// identityKey is a log-safe label for the credential's principal.
func identityKey(cred *auth.AuthenticatedCredential) string {
	if cred.Identity() == nil {
		return "anonymous"
	}
	if s, ok := cred.Identity().(fmt.Stringer); ok {
		return s.String()
	}
	return "identity"
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", errors.New("malformed bearer authorization header")
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errors.New("empty bearer token")
	}
	return tok, nil
}

func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*auth.AuthenticatedCredential, bool) {
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		// RFC 6750 §3.1: no error code when the request lacks credentials.
		h.log.InfoContext(ctx, "auth.check.missing")
		h.attempts.WithLabelValues(OutcomeMissing).Inc()
		h.challenge(w, r, auth.NewAuthenticationRequired(h.realm, h.resourceMetadata()), "authentication required")
		return nil, false
	}

	tok, err := bearerToken(header)
	if err != nil {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", err.Error()))
		h.attempts.WithLabelValues(OutcomeMalformed).Inc()
		h.challenge(w, r, auth.NewInvalidRequest(h.realm, h.resourceMetadata(), err.Error()), err.Error())
		return nil, false
	}

	start := time.Now()
	cred, err := h.auth.Authenticate(ctx, auth.NewCredential(tok))
	h.duration.Observe(time.Since(start).Seconds())
	if err == nil {
		h.log.DebugContext(ctx, "auth.check.ok", slog.Int("roles", len(cred.Roles())))
		h.attempts.WithLabelValues(OutcomeOK).Inc()
		return cred, true
	}

	switch auth.Kind(err) {
	case auth.KindAuthenticationFailed:
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		h.attempts.WithLabelValues(OutcomeInvalidToken).Inc()
		h.challenge(w, r, auth.NewInvalidToken(h.realm, h.resourceMetadata(), err.Error()), err.Error())
	case auth.KindIdentityResolutionFailed:
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		h.attempts.WithLabelValues(OutcomeIdentityUnresolved).Inc()
		h.challenge(w, r, auth.NewInvalidToken(h.realm, h.resourceMetadata(), err.Error()), err.Error())
	case auth.KindIdentityRejected:
		h.log.InfoContext(ctx, "auth.check.rejected", slog.String("err", err.Error()))
		h.attempts.WithLabelValues(OutcomeIdentityRejected).Inc()
		h.challenge(w, r, auth.NewInvalidToken(h.realm, h.resourceMetadata(), err.Error()), err.Error())
	default:
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		h.attempts.WithLabelValues(OutcomeError).Inc()
		writeError(w, r, http.StatusInternalServerError, "authentication unavailable")
	}
	return nil, false
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request, c *auth.AuthenticationChallenge, msg string) {
	w.Header().Add(wwwAuthenticateHeader, c.WWWAuthenticate)
	writeError(w, r, c.Status, msg)
}

// writeError emits a small error body in the representation the client
// accepts: {"error":{"code":<status>,"message":"<reason>"}} or plain text.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	mt, _, err := contenttype.GetAcceptableMediaType(r, errorBodyMediaType)
	if err == nil && mt.String() == textMediaType.String() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(status)
		_, _ = fmt.Fprintln(w, msg)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
