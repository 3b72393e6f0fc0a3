package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		TLSVerify:     true,
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.JSONEq(t, `{"ok":true}`, string(res.Body))
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	res, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteReturnsFinalServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.RetryAttempts = 2
	res, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, opts)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteSendsMethodHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		assert.Equal(t, "a=1", string(buf[:n]))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	call := Call{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"X-Test": []string{"yes"}},
		Body:   []byte("a=1"),
	}
	res, err := NewForwarder().Execute(context.Background(), call, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestExecuteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	opts := fastOptions()
	opts.RetryAttempts = 1
	_, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: addr}, opts)
	require.Error(t, err)

	var ce *PanelConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindRefused, ce.Kind)
	assert.Equal(t, 2, ce.Attempts)
	assert.Empty(t, ce.Hint())
	assert.NotContains(t, ce.Error(), "http://")
}

func TestExecuteTLSFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err, KindTLS))

	var ce *PanelConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Attempts)
	assert.NotEmpty(t, ce.Hint())
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecuteTLSVerifyDisabled(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.TLSVerify = false
	res, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
}

func TestExecuteCustomRootCAs(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tlsCfg := &tls.Config{RootCAs: srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs}
	res, err := NewForwarder(WithTLSConfig(tlsCfg)).Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExecutePerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.Timeout = 50 * time.Millisecond
	opts.RetryAttempts = 1
	_, err := NewForwarder().Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, opts)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err, KindTimeout))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecuteCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewForwarder().Execute(ctx, Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecuteResponseLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	res, err := NewForwarder(WithMaxResponseBytes(100)).Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.Error(t, err)
	assert.Nil(t, res)
	var tooLarge *ResponseTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(100), tooLarge.Limit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteResponseAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	res, err := NewForwarder(WithMaxResponseBytes(100)).Execute(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, fastOptions())
	require.NoError(t, err)
	assert.Len(t, res.Body, 100)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.Equal(t, time.Duration(0), backoff(0, 3))
	assert.Equal(t, time.Duration(0), backoff(time.Second, 0))
}

func TestHealthCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	f := NewForwarder()

	res := f.HealthCheck(context.Background(), Call{URL: srv.URL}, fastOptions())
	assert.True(t, res.Healthy)
	assert.Equal(t, "healthy: HTTP 200", res.Status)

	status.Store(http.StatusUnauthorized)
	res = f.HealthCheck(context.Background(), Call{URL: srv.URL}, fastOptions())
	assert.True(t, res.Healthy)

	status.Store(http.StatusBadGateway)
	res = f.HealthCheck(context.Background(), Call{URL: srv.URL}, fastOptions())
	assert.False(t, res.Healthy)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)

	srv.Close()
	res = f.HealthCheck(context.Background(), Call{URL: srv.URL}, fastOptions())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Status, "connection refused")
	assert.False(t, res.CheckedAt.IsZero())
}
