// Package panel defines the adapter contract that translates generic proxy
// requests into the wire format of a specific server-management panel, and
// the adapters for the supported panel types.
//
// Panel-specific behaviour (signing scheme, path layout, response shape)
// lives entirely behind the Adapter interface; the forwarding engine never
// inspects the panel type.
package panel

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Type identifies a panel variant.
type Type string

const (
	// TypeBT is the BaoTa / aaPanel API (shared secret + timestamp signing).
	TypeBT Type = "bt"
	// TypeOnePanel is the 1Panel API (token header signing).
	TypeOnePanel Type = "1panel"
	// TypeBearer is any JSON API authenticated by a static bearer token.
	TypeBearer Type = "bearer"
)

// ErrUnknownPanelType is returned when no adapter is registered for a type.
var ErrUnknownPanelType = errors.New("unknown panel type")

// ParseType validates s against the known panel types.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeBT, TypeOnePanel, TypeBearer:
		return t, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownPanelType)
}

// Encoding selects how request parameters travel on non-GET requests.
type Encoding int

const (
	// EncodingJSON sends parameters as a JSON object body.
	EncodingJSON Encoding = iota
	// EncodingForm sends parameters as application/x-www-form-urlencoded.
	EncodingForm
)

// Request is a proxied call before it is addressed to a concrete endpoint.
type Request struct {
	Method string
	// Path is the concrete panel path, usually the result of MapPath.
	Path   string
	Params url.Values
	Header http.Header
	// Body, when set, is sent verbatim and Params go to the query string.
	Body []byte
}

// Normalized is the uniform response shape produced by adapters.
type Normalized struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// Adapter is implemented once per panel type.
type Adapter interface {
	Type() Type
	// SignRequest adds the panel's authentication material derived from key.
	SignRequest(req *Request, key string, now time.Time) error
	// MapPath rewrites a logical path to the panel's concrete API path.
	MapPath(logical string) string
	// NormalizeResponse converts a raw panel response body.
	NormalizeResponse(status int, raw []byte) Normalized
	// HealthPath is a cheap, read-only endpoint used for health checks.
	HealthPath() string
	Encoding() Encoding
}

func ensureRequest(req *Request) {
	if req.Params == nil {
		req.Params = url.Values{}
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
}
