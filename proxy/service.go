package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/panelgate/panel"
)

// Target is a panel endpoint with its decrypted API key.
type Target struct {
	URL       string
	Key       string
	TLSVerify bool
}

// Request is a client's proxy request before panel translation.
type Request struct {
	// Path is the logical panel path, e.g. "/containers/start".
	Path   string
	Method string
	// Params are flat parameters, typically from a GET query string.
	Params url.Values
	// Fields are structured parameters from a JSON body.
	Fields map[string]any
	// Body, when set, is forwarded verbatim.
	Body []byte
}

// Response is a successfully forwarded, normalized panel response.
type Response struct {
	Status   int
	Envelope Envelope
	Attempts int
}

// Service ties the adapter registry to the forwarding engine.
type Service struct {
	registry  *panel.Registry
	forwarder *Forwarder
	defaults  Options
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDefaults sets timeout and retry defaults. TLSVerify comes from each Target.
func WithDefaults(o Options) ServiceOption {
	return func(s *Service) { s.defaults = o }
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for signing and timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(reg *panel.Registry, fwd *Forwarder, opts ...ServiceOption) *Service {
	s := &Service{
		registry:  reg,
		forwarder: fwd,
		defaults:  DefaultOptions(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "proxy")
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) options(t Target) Options {
	o := s.defaults
	o.TLSVerify = t.TLSVerify
	return o
}

func (s *Service) prepare(a panel.Adapter, target Target, req *panel.Request, fields map[string]any) (Call, error) {
	if err := a.SignRequest(req, target.Key, s.now()); err != nil {
		return Call{}, err
	}
	out, err := panel.Build(target.URL, a.Encoding(), req, fields)
	if err != nil {
		return Call{}, &ValidationError{Field: "url", Message: err.Error()}
	}
	return Call{Method: out.Method, URL: out.URL, Header: out.Header, Body: out.Body}, nil
}

// Forward translates req for panel type t, sends it to target and
// normalizes the result. A 5xx that survives every retry is returned as a
// *ProxyError.
func (s *Service) Forward(ctx context.Context, t panel.Type, target Target, req Request) (*Response, error) {
	a, err := s.registry.Get(t)
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return nil, &ValidationError{Field: "url", Message: "logical panel path is required"}
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	preq := &panel.Request{
		Method: method,
		Path:   a.MapPath(path),
		Params: cloneValues(req.Params),
		Body:   req.Body,
	}
	call, err := s.prepare(a, target, preq, req.Fields)
	if err != nil {
		return nil, err
	}

	res, err := s.forwarder.Execute(ctx, call, s.options(target))
	if err != nil {
		var ce *PanelConnectionError
		outcome := "error"
		attempts := 0
		if errors.As(err, &ce) {
			outcome, attempts = string(ce.Kind), ce.Attempts
		}
		s.metrics.observeRequest(string(t), outcome, attempts, 0)
		return nil, err
	}
	s.metrics.observeRequest(string(t), statusOutcome(res.StatusCode), res.Attempts, res.Elapsed)

	env := Normalize(a, res, s.now())
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, &ProxyError{
			StatusCode: res.StatusCode,
			Attempts:   res.Attempts,
			Message:    env.Message,
			Data:       env.Data,
		}
	}
	return &Response{Status: res.StatusCode, Envelope: env, Attempts: res.Attempts}, nil
}

// CheckHealth calls the adapter's health path on target.
func (s *Service) CheckHealth(ctx context.Context, t panel.Type, target Target) (HealthResult, error) {
	a, err := s.registry.Get(t)
	if err != nil {
		return HealthResult{}, err
	}
	preq := &panel.Request{Method: http.MethodGet, Path: a.HealthPath()}
	call, err := s.prepare(a, target, preq, nil)
	if err != nil {
		return HealthResult{}, err
	}
	res := s.forwarder.HealthCheck(ctx, call, s.options(target))
	s.metrics.observeHealth(string(t), res.Healthy)
	if !res.Healthy {
		s.logger.Info("panel health check failed", "panel_type", string(t), "status", res.Status)
	}
	return res, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
