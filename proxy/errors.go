package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrConfigNotFound is returned when no panel is bound for the requested type.
var ErrConfigNotFound = errors.New("panel config not found")

// ErrorKind classifies transport-level failures.
type ErrorKind string

const (
	KindDNS     ErrorKind = "dns"
	KindRefused ErrorKind = "refused"
	KindTimeout ErrorKind = "timeout"
	KindReset   ErrorKind = "reset"
	KindTLS     ErrorKind = "tls"
	KindUnknown ErrorKind = "unknown"
)

const tlsHint = "re-bind the panel with tlsVerify=false to skip certificate verification if you trust this endpoint"

// PanelConnectionError is a transport failure reaching a panel. Its message
// names the host but never the full URL, which may carry signed parameters.
type PanelConnectionError struct {
	Kind     ErrorKind
	Host     string
	Attempts int
	Cause    error
}

func (e *PanelConnectionError) Error() string {
	var what string
	switch e.Kind {
	case KindDNS:
		what = "host name could not be resolved"
	case KindRefused:
		what = "connection refused"
	case KindTimeout:
		what = "request timed out"
	case KindReset:
		what = "connection reset by peer"
	case KindTLS:
		what = "TLS certificate verification failed"
	default:
		what = "connection failed"
	}
	return fmt.Sprintf("panel %s: %s", e.Host, what)
}

func (e *PanelConnectionError) Unwrap() error { return e.Cause }

// Hint returns remediation guidance for the caller, if any.
func (e *PanelConnectionError) Hint() string {
	if e.Kind == KindTLS {
		return tlsHint
	}
	return ""
}

// ProxyError is an upstream failure that persisted after all retries.
type ProxyError struct {
	StatusCode int
	Attempts   int
	Message    string
	Data       any
}

func (e *ProxyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("panel returned status %d after %d attempt(s): %s", e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("panel returned status %d after %d attempt(s)", e.StatusCode, e.Attempts)
}

// ResponseTooLargeError is returned when a panel response body exceeds the
// forwarder's limit. The body is discarded rather than truncated.
type ResponseTooLargeError struct {
	Host  string
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("panel %s: upstream response too large (limit %d bytes)", e.Host, e.Limit)
}

// ValidationError reports a malformed proxy request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Classify maps a transport error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var (
		dnsErr      *net.DNSError
		unknownCA   x509.UnknownAuthorityError
		certInvalid x509.CertificateInvalidError
		hostErr     x509.HostnameError
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
	)
	switch {
	case errors.As(err, &verifyErr), errors.As(err, &unknownCA),
		errors.As(err, &certInvalid), errors.As(err, &hostErr),
		errors.As(err, &recordErr), errors.As(err, &alertErr):
		return KindTLS
	case errors.As(err, &dnsErr):
		return KindDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return KindReset
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// retryable reports whether err, classified as k, may succeed on a later
// attempt. Certificate failures are permanent. Resolution failures are
// permanent unless the resolver marks them temporary (SERVFAIL, resolver
// timeout).
func retryable(k ErrorKind, err error) bool {
	switch k {
	case KindTLS:
		return false
	case KindDNS:
		var dnsErr *net.DNSError
		return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
	}
	return true
}
