// Package proxy forwards signed requests to panel APIs with retry and
// transport error classification, and normalizes the results.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second

	// DefaultMaxResponseBytes caps how much of an upstream body is read.
	DefaultMaxResponseBytes = 10 << 20
)

// Options control a single Execute call.
type Options struct {
	// Timeout bounds each attempt, not the call as a whole.
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// RetryDelay is the base backoff; retry n waits RetryDelay * 2^(n-1).
	RetryDelay time.Duration
	TLSVerify  bool
}

// DefaultOptions returns the stock forwarding options.
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
		TLSVerify:     true,
	}
}

// Call is an addressed upstream request.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the final upstream response. Any status code is a result.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

// Forwarder executes calls. It keeps one pooled client for verified TLS
// and one for unverified TLS.
type Forwarder struct {
	secure   *http.Client
	insecure *http.Client
	maxBody  int64
	logger   *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*forwarderConfig)

type forwarderConfig struct {
	tlsConfig *tls.Config
	maxBody   int64
	logger    *slog.Logger
}

// WithTLSConfig sets the base TLS configuration, e.g. custom root CAs.
func WithTLSConfig(cfg *tls.Config) ForwarderOption {
	return func(c *forwarderConfig) { c.tlsConfig = cfg }
}

// WithMaxResponseBytes caps the upstream body size.
func WithMaxResponseBytes(n int64) ForwarderOption {
	return func(c *forwarderConfig) { c.maxBody = n }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ForwarderOption {
	return func(c *forwarderConfig) { c.logger = l }
}

// NewForwarder creates a Forwarder.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	cfg := forwarderConfig{maxBody: DefaultMaxResponseBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	base := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.tlsConfig != nil {
		base = cfg.tlsConfig.Clone()
	}
	insecureTLS := base.Clone()
	insecureTLS.InsecureSkipVerify = true // only used for bindings with tlsVerify=false

	return &Forwarder{
		secure:   &http.Client{Transport: newTransport(base)},
		insecure: &http.Client{Transport: newTransport(insecureTLS)},
		maxBody:  cfg.maxBody,
		logger:   cfg.logger.With("component", "forwarder"),
	}
}

func newTransport(tlsConfig *tls.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tlsConfig
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// Close releases idle connections.
func (f *Forwarder) Close() {
	f.secure.CloseIdleConnections()
	f.insecure.CloseIdleConnections()
}

func (f *Forwarder) client(verify bool) *http.Client {
	if verify {
		return f.secure
	}
	return f.insecure
}

// backoff returns the wait before retry n (1-based).
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 || base <= 0 {
		return 0
	}
	return base << (n - 1)
}

// Execute performs call, retrying 5xx responses and transient transport
// errors. 4xx responses are final. A 5xx that persists through every retry
// is returned as a Result; a persisting transport error is returned as a
// *PanelConnectionError.
func (f *Forwarder) Execute(ctx context.Context, call Call, opts Options) (*Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	host := hostOf(call.URL)
	client := f.client(opts.TLSVerify)
	start := time.Now()

	var (
		last    *Result
		lastErr error
	)
	for attempt := 1; attempt <= opts.RetryAttempts+1; attempt++ {
		if attempt > 1 {
			wait := backoff(opts.RetryDelay, attempt-1)
			f.logger.Debug("retrying panel request",
				"host", host,
				"attempt", attempt,
				"backoff", wait,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		res, err := f.attempt(ctx, client, call, opts.Timeout)
		if err == nil {
			res.Attempts = attempt
			res.Elapsed = time.Since(start)
			if res.StatusCode < http.StatusInternalServerError {
				return res, nil
			}
			last, lastErr = res, nil
			f.logger.Warn("panel returned server error",
				"host", host,
				"status", res.StatusCode,
				"attempt", attempt,
			)
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var tooLarge *ResponseTooLargeError
		if errors.As(err, &tooLarge) {
			f.logger.Warn("panel response exceeded limit",
				"host", host,
				"limit", tooLarge.Limit,
			)
			return nil, tooLarge
		}
		kind := Classify(err)
		last = nil
		lastErr = &PanelConnectionError{Kind: kind, Host: host, Attempts: attempt, Cause: err}
		f.logger.Warn("panel request failed",
			"host", host,
			"kind", string(kind),
			"attempt", attempt,
		)
		if !retryable(kind, err) {
			break
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return last, nil
}

func (f *Forwarder) attempt(ctx context.Context, client *http.Client, call Call, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBody {
		return nil, &ResponseTooLargeError{Host: req.URL.Host, Limit: f.maxBody}
	}
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// IsConnectionError reports whether err is a *PanelConnectionError of kind k.
func IsConnectionError(err error, k ErrorKind) bool {
	var ce *PanelConnectionError
	return errors.As(err, &ce) && ce.Kind == k
}
