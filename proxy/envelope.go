package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/panel"
)

// Envelope is the uniform response returned for every proxied call.
type Envelope struct {
	Code      int    `json:"code"`
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Normalize converts an upstream result using the adapter's response rules.
func Normalize(a panel.Adapter, res *Result, now time.Time) Envelope {
	n := a.NormalizeResponse(res.StatusCode, res.Body)
	return Envelope{
		Code:      n.Code,
		Success:   n.Success,
		Data:      n.Data,
		Message:   n.Message,
		Timestamp: now.UnixMilli(),
	}
}

// NormalizeError maps a forwarding failure to an HTTP status and an error
// envelope whose message is safe to show to the caller.
func NormalizeError(err error, now time.Time) (int, Envelope) {
	env := Envelope{Timestamp: now.UnixMilli()}
	var (
		connErr  *PanelConnectionError
		proxyErr *ProxyError
		valErr   *ValidationError
		sizeErr  *ResponseTooLargeError
	)
	switch {
	case errors.As(err, &valErr):
		env.Code, env.Message = http.StatusBadRequest, valErr.Error()
	case errors.Is(err, ErrConfigNotFound):
		env.Code, env.Message = http.StatusBadRequest, "no panel bound for this panel type"
	case errors.Is(err, panel.ErrUnknownPanelType):
		env.Code, env.Message = http.StatusBadRequest, "unknown panel type"
	case errors.As(err, &connErr):
		env.Code, env.Message, env.Hint = http.StatusBadGateway, connErr.Error(), connErr.Hint()
		if connErr.Kind == KindTLS {
			env.Code = http.StatusBadRequest
		}
	case errors.As(err, &sizeErr):
		env.Code, env.Message = http.StatusBadGateway, "upstream response too large"
	case errors.As(err, &proxyErr):
		env.Code, env.Message, env.Data = proxyErr.StatusCode, proxyErr.Error(), proxyErr.Data
		if env.Code == 0 {
			env.Code = http.StatusBadGateway
		}
	case errors.Is(err, crypto.ErrDecryption):
		env.Code, env.Message = http.StatusInternalServerError, "stored panel credential could not be decrypted"
	case errors.Is(err, context.DeadlineExceeded):
		env.Code, env.Message = http.StatusGatewayTimeout, "request deadline exceeded"
	case errors.Is(err, context.Canceled):
		env.Code, env.Message = 499, "request cancelled"
	default:
		env.Code, env.Message = http.StatusInternalServerError, "internal proxy error"
	}
	return env.Code, env
}
