package panel

import (
	"net/http"
	"time"
)

// Bearer authenticates with a static API key, either as an
// "Authorization: Bearer <key>" header or under a custom header name.
type Bearer struct {
	pathRouter
	header     string
	healthPath string
}

var _ Adapter = (*Bearer)(nil)

// BearerOption configures a Bearer adapter.
type BearerOption func(*Bearer)

// WithHeader sends the raw key under name instead of Authorization.
func WithHeader(name string) BearerOption {
	return func(b *Bearer) {
		if name != "" {
			b.header = http.CanonicalHeaderKey(name)
		}
	}
}

// WithHealthPath overrides the default health check path ("/").
func WithHealthPath(p string) BearerOption {
	return func(b *Bearer) {
		if p != "" {
			b.healthPath = p
		}
	}
}

// NewBearer returns a bearer-token adapter.
func NewBearer(paths *PathTable, opts ...BearerOption) *Bearer {
	if paths == nil {
		paths = NewPathTable("", nil)
	}
	b := &Bearer{
		pathRouter: newPathRouter(paths),
		header:     "Authorization",
		healthPath: "/",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (a *Bearer) Type() Type         { return TypeBearer }
func (a *Bearer) HealthPath() string { return a.healthPath }
func (a *Bearer) Encoding() Encoding { return EncodingJSON }

func (a *Bearer) SignRequest(req *Request, key string, _ time.Time) error {
	ensureRequest(req)
	if a.header == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+key)
		return nil
	}
	req.Header.Set(a.header, key)
	return nil
}

func (a *Bearer) NormalizeResponse(status int, raw []byte) Normalized {
	return normalizeGeneric(status, raw)
}
