package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HealthResult is the outcome of a single health check.
type HealthResult struct {
	Healthy    bool
	Status     string
	StatusCode int
	Elapsed    time.Duration
	CheckedAt  time.Time
}

// HealthCheck issues one GET for call without retries. The panel is
// healthy when the transport succeeds and the status is below 500.
func (f *Forwarder) HealthCheck(ctx context.Context, call Call, opts Options) HealthResult {
	call.Method = http.MethodGet
	opts.RetryAttempts = 0

	res, err := f.Execute(ctx, call, opts)
	out := HealthResult{CheckedAt: time.Now().UTC()}
	if err != nil {
		var ce *PanelConnectionError
		if errors.As(err, &ce) {
			out.Status = "unhealthy: " + ce.Error()
		} else {
			out.Status = "unhealthy: " + err.Error()
		}
		return out
	}
	out.StatusCode = res.StatusCode
	out.Elapsed = res.Elapsed
	out.Healthy = res.StatusCode < http.StatusInternalServerError
	if out.Healthy {
		out.Status = fmt.Sprintf("healthy: HTTP %d", res.StatusCode)
	} else {
		out.Status = fmt.Sprintf("unhealthy: HTTP %d", res.StatusCode)
	}
	return out
}
