package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	webhookQueueSize = 1024
	webhookSource    = "panelgate"
)

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Source     string            `json:"source"`
	Event      string            `json:"event"`
	AccountID  string            `json:"accountId,omitempty"`
	RemoteAddr string            `json:"remoteAddr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external collector. enqueue
// never blocks: when the queue is full the event is counted and dropped.
type auditWebhook struct {
	url        string
	header     string // "Name: value"
	client     *http.Client
	events     chan webhookEvent
	retryDelay time.Duration
	logger     *slog.Logger
	dropped    atomic.Uint64
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func newAuditWebhook(url, header string, logger *slog.Logger) *auditWebhook {
	return startAuditWebhook(&auditWebhook{
		url:        url,
		header:     header,
		client:     &http.Client{Timeout: 10 * time.Second},
		events:     make(chan webhookEvent, webhookQueueSize),
		retryDelay: time.Second,
		logger:     logger,
	})
}

func startAuditWebhook(w *auditWebhook) *auditWebhook {
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "audit_webhook")
	w.wg.Add(1)
	go w.loop()
	return w
}

func eventFromAttrs(event AuditEvent, remoteAddr string, ts time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Source:     webhookSource,
		Event:      string(event),
		RemoteAddr: remoteAddr,
		Timestamp:  ts.UTC().Format(time.RFC3339),
	}
	for _, a := range attrs {
		if a.Key == "account_id" {
			evt.AccountID = a.Value.String()
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = make(map[string]string, len(attrs))
		}
		evt.Attrs[a.Key] = a.Value.String()
	}
	return evt
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	if evt.Source == "" {
		evt.Source = webhookSource
	}
	select {
	case w.events <- evt:
	default:
		// Only the first drop of a burst is logged.
		if w.dropped.Add(1) == 1 {
			w.logger.Warn("audit webhook queue full, dropping events", "event", evt.Event)
		}
	}
}

// close delivers what is still queued, then stops the sender.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
		w.wg.Wait()
		if n := w.dropped.Load(); n > 0 {
			w.logger.Warn("audit webhook dropped events", "count", n)
		}
	})
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// retryableStatus reports whether a collector response deserves the one retry.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// send POSTs the event, retrying once after a transport error, a 5xx or a 429.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "panelgate-audit-webhook/1.0")
		if name, value, ok := strings.Cut(w.header, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if retryableStatus(resp.StatusCode) {
			w.logger.Warn("collector unavailable", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		w.logger.Warn("collector rejected event", "status", resp.StatusCode, "event", evt.Event)
		return
	}
}
