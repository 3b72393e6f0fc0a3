package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
	"github.com/jmcleod/panelgate/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	crypto   *crypto.Service
	sessions session.Store
	repo     storage.Repository
	proxy    *proxy.Service

	audit    *auditLogger
	limiter  *verifyRateLimiter
	gatherer prometheus.Gatherer

	trustedProxies []netip.Prefix
	sessionTTL     time.Duration
	bindTTL        time.Duration
	issuer         string
	secureCookies  bool
	basePath       string
	now            func() time.Time

	verifyMax     int
	verifyWindow  time.Duration
	verifyLockout time.Duration
	registerer    prometheus.Registerer
	logger        *slog.Logger
	webhookURL    string
	webhookHeader string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithSessionTTL sets the lifetime of sessions created by verification.
func WithSessionTTL(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.sessionTTL = d
		}
	}
}

// WithBindTTL sets how long an unconfirmed TOTP binding stays valid.
func WithBindTTL(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.bindTTL = d
		}
	}
}

// WithIssuer sets the issuer shown by authenticator apps.
func WithIssuer(issuer string) Option {
	return func(a *API) {
		if issuer != "" {
			a.issuer = issuer
		}
	}
}

// WithSecureCookies forces the Secure attribute on every cookie.
func WithSecureCookies(on bool) Option {
	return func(a *API) { a.secureCookies = on }
}

// WithBasePath sets the prefix the router is mounted under. It is used to
// point the documentation UI at the right spec URL.
func WithBasePath(p string) Option {
	return func(a *API) { a.basePath = strings.TrimRight(p, "/") }
}

// WithVerifyLimits configures the per-IP limiter on POST /auth/verify.
func WithVerifyLimits(maxFailures int, window, lockout time.Duration) Option {
	return func(a *API) {
		a.verifyMax, a.verifyWindow, a.verifyLockout = maxFailures, window, lockout
	}
}

// WithMetrics registers auth counters on reg and serves gatherer on /metrics.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(a *API) {
		a.registerer = reg
		a.gatherer = gatherer
	}
}

// WithAuditWebhook forwards every audit event to url. header, when set,
// has the form "Name: value".
func WithAuditWebhook(url, header string) Option {
	return func(a *API) { a.webhookURL, a.webhookHeader = url, header }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithTrustedProxies parses CIDRs (or bare addresses) whose requests may
// set client IP headers.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// New creates a new API instance.
func New(cs *crypto.Service, sessions session.Store, repo storage.Repository, svc *proxy.Service, opts ...Option) *API {
	a := &API{
		crypto:        cs,
		sessions:      sessions,
		repo:          repo,
		proxy:         svc,
		sessionTTL:    session.DefaultTTL,
		bindTTL:       session.DefaultPendingTTL,
		issuer:        "panelgate",
		now:           time.Now,
		verifyMax:     defaultVerifyMaxFailures,
		verifyWindow:  defaultVerifyWindow,
		verifyLockout: defaultVerifyLockout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	var webhook *auditWebhook
	if a.webhookURL != "" {
		webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	a.audit = newAuditLogger(a.logger, newAuthMetrics(a.registerer), webhook, a.now)
	a.limiter = newVerifyRateLimiter(a.verifyMax, a.verifyWindow, a.verifyLockout, a.now)
	return a
}

// Close flushes queued audit webhook events.
func (a *API) Close() {
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    strings.TrimPrefix(a.basePath+"/docs", "/"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    strings.TrimPrefix(a.basePath+"/redoc", "/"),
	}, nil))

	r.Get("/health", a.Health)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/auth/bind", a.Bind)
	r.Post("/auth/verify", a.Verify)
	r.Post("/auth/logout", a.Logout)
	r.With(a.AuthMiddleware).Get("/auth/status", a.Status)

	r.Route("/proxy", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/bind-panel-key", a.BindPanelKey)
		r.HandleFunc("/request", a.ProxyRequest)
		r.Get("/health/{configID}", a.PanelHealth)
		r.Get("/configs", a.ListConfigs)
		r.Delete("/configs/{configID}", a.DeleteConfig)
	})

	return r
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: a.now().UTC()})
}
