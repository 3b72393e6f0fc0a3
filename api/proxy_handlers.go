package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
	"github.com/jmcleod/panelgate/storage"
)

// BindPanelKey handles POST /proxy/bind-panel-key. The key is encrypted
// into the account's durable config and held in clear only in the session.
func (a *API) BindPanelKey(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	var req BindPanelKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.mapError(w, r, err)
		return
	}
	t, err := panel.ParseType(req.Type)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	baseURL, err := validatePanelURL(req.URL)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		a.mapError(w, r, &proxy.ValidationError{Field: "key", Message: "is required"})
		return
	}
	tlsVerify := true
	if req.TLSVerify != nil {
		tlsVerify = *req.TLSVerify
	}

	enc, err := a.crypto.Encrypt(key)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	cfg, err := a.repo.UpsertPanelConfig(&storage.PanelConfig{
		AccountID: sess.AccountID,
		Type:      t,
		URL:       baseURL,
		Key:       enc,
		TLSVerify: tlsVerify,
	})
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	// Other sessions of the account may hold the replaced key.
	a.sessions.UnbindPanel(sess.AccountID, cfg.ID)
	err = a.sessions.BindPanel(sess.ID, t, session.Binding{
		ConfigID:  cfg.ID,
		URL:       baseURL,
		Key:       key,
		TLSVerify: tlsVerify,
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditPanelKeyBound, r, sess.AccountID,
		slog.String("config_id", cfg.ID),
		slog.String("panel_type", string(t)),
		slog.Bool("tls_verify", tlsVerify),
	)
	writeJSON(w, http.StatusOK, BindPanelKeyResponse{ConfigID: cfg.ID, Type: string(t), URL: baseURL})
}

// ProxyRequest handles /proxy/request for any method. Every outcome is
// written as an envelope.
func (a *API) ProxyRequest(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	t, preq, err := parseProxyRequest(w, r)
	if err != nil {
		a.writeProxyError(w, r, err)
		return
	}
	target, err := a.resolveTarget(sess, t)
	if err != nil {
		a.writeProxyError(w, r, err)
		return
	}
	resp, err := a.proxy.Forward(r.Context(), t, target, preq)
	if err != nil {
		a.writeProxyError(w, r, err)
		return
	}
	writeEnvelope(w, resp.Status, resp.Envelope)
}

func (a *API) writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := proxy.NormalizeError(err, a.proxy.Now())
	if status >= http.StatusInternalServerError {
		a.logger.LogAttrs(r.Context(), slog.LevelWarn, "proxy request failed",
			slog.Int("status", status),
			slog.String("error", env.Message),
		)
	}
	writeEnvelope(w, status, env)
}

// resolveTarget returns the session binding for t, falling back to the
// account's stored config. A stored config is cached into the session.
func (a *API) resolveTarget(sess session.Session, t panel.Type) (proxy.Target, error) {
	if b, ok := sess.PanelBindings[t]; ok {
		return proxy.Target{URL: b.URL, Key: b.Key, TLSVerify: b.TLSVerify}, nil
	}
	cfg, err := a.repo.GetPanelConfig(sess.AccountID, t)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proxy.Target{}, fmt.Errorf("%s: %w", t, proxy.ErrConfigNotFound)
		}
		return proxy.Target{}, err
	}
	key, err := a.crypto.Decrypt(cfg.Key)
	if err != nil {
		return proxy.Target{}, err
	}
	// The session may have expired since the middleware ran; forwarding
	// still proceeds with the decrypted key.
	_ = a.sessions.BindPanel(sess.ID, t, session.Binding{
		ConfigID:  cfg.ID,
		URL:       cfg.URL,
		Key:       key,
		TLSVerify: cfg.TLSVerify,
	})
	return proxy.Target{URL: cfg.URL, Key: key, TLSVerify: cfg.TLSVerify}, nil
}

// parseProxyRequest reads either a JSON body or query parameters. Query
// parameters other than url, panelType and method are forwarded.
func parseProxyRequest(w http.ResponseWriter, r *http.Request) (panel.Type, proxy.Request, error) {
	var (
		body ProxyRequestBody
		req  proxy.Request
	)
	query := r.URL.Query()
	body.URL, body.PanelType, body.Method = query.Get("url"), query.Get("panelType"), query.Get("method")
	query.Del("url")
	query.Del("panelType")
	query.Del("method")

	if hasJSONBody(r) {
		var fromBody ProxyRequestBody
		if err := decodeJSON(w, r, &fromBody); err != nil {
			return "", req, err
		}
		if fromBody.URL != "" {
			body.URL = fromBody.URL
		}
		if fromBody.PanelType != "" {
			body.PanelType = fromBody.PanelType
		}
		if fromBody.Method != "" {
			body.Method = fromBody.Method
		}
		body.Params, body.Body = fromBody.Params, fromBody.Body
	}

	if strings.TrimSpace(body.PanelType) == "" {
		return "", req, &proxy.ValidationError{Field: "panelType", Message: "is required"}
	}
	t, err := panel.ParseType(body.PanelType)
	if err != nil {
		return "", req, err
	}
	if strings.TrimSpace(body.URL) == "" {
		return "", req, &proxy.ValidationError{Field: "url", Message: "is required"}
	}
	if strings.Contains(body.URL, "://") {
		return "", req, &proxy.ValidationError{Field: "url", Message: "must be a panel path, not an absolute URL"}
	}

	method := body.Method
	if method == "" {
		method = r.Method
	}
	raw, err := rawBody(body.Body)
	if err != nil {
		return "", req, err
	}
	req = proxy.Request{
		Path:   body.URL,
		Method: method,
		Params: query,
		Fields: body.Params,
		Body:   raw,
	}
	return t, req, nil
}

func hasJSONBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "json")
}

// rawBody returns a JSON string body as its text and any other JSON value
// as its encoding.
func rawBody(msg json.RawMessage) ([]byte, error) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, &proxy.ValidationError{Field: "body", Message: "invalid string body"}
		}
		return []byte(s), nil
	}
	return []byte(trimmed), nil
}

// validatePanelURL accepts absolute http(s) URLs without credentials and
// returns them without a trailing slash.
func validatePanelURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &proxy.ValidationError{Field: "url", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &proxy.ValidationError{Field: "url", Message: "is not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &proxy.ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &proxy.ValidationError{Field: "url", Message: "host is required"}
	}
	if u.User != nil {
		return "", &proxy.ValidationError{Field: "url", Message: "must not contain credentials"}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", &proxy.ValidationError{Field: "url", Message: "must not contain a query or fragment"}
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// PanelHealth handles GET /proxy/health/{configID}.
func (a *API) PanelHealth(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	cfg, err := a.ownedConfig(sess, chi.URLParam(r, "configID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	res, err := a.checkConfig(r.Context(), cfg)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditPanelHealthChecked, r, sess.AccountID,
		slog.String("config_id", cfg.ID),
		slog.Bool("healthy", res.Healthy),
	)
	writeJSON(w, http.StatusOK, PanelHealthResponse{
		ConfigID:     cfg.ID,
		IsHealthy:    res.Healthy,
		HealthStatus: res.Status,
		StatusCode:   res.StatusCode,
		CheckedAt:    res.CheckedAt,
	})
}

// ListConfigs handles GET /proxy/configs. Keys are never returned.
func (a *API) ListConfigs(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	pr, err := parsePage(r.URL.Query())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	configs, err := a.repo.ListPanelConfigs(sess.AccountID)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	page, meta := paginate(configs, pr)
	out := make([]PanelConfigSummary, 0, len(page))
	for _, cfg := range page {
		s := PanelConfigSummary{
			ID:             cfg.ID,
			Type:           string(cfg.Type),
			URL:            cfg.URL,
			TLSVerify:      cfg.TLSVerify,
			IsHealthy:      cfg.IsHealthy,
			HealthStatus:   cfg.HealthStatus,
			BoundInSession: sess.PanelBindings[cfg.Type].ConfigID == cfg.ID,
			CreatedAt:      cfg.CreatedAt,
			UpdatedAt:      cfg.UpdatedAt,
		}
		if !cfg.LastHealthCheck.IsZero() {
			checked := cfg.LastHealthCheck
			s.LastHealthCheck = &checked
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, ListConfigsResponse{Configs: out, PaginationMeta: meta})
}

// DeleteConfig handles DELETE /proxy/configs/{configID}.
func (a *API) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	cfg, err := a.ownedConfig(sess, chi.URLParam(r, "configID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if err := a.repo.DeletePanelConfig(cfg.ID); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.sessions.UnbindPanel(sess.AccountID, cfg.ID)

	a.audit.logEvent(AuditPanelConfigDeleted, r, sess.AccountID,
		slog.String("config_id", cfg.ID),
		slog.String("panel_type", string(cfg.Type)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// ownedConfig loads a config and hides configs of other accounts behind
// storage.ErrNotFound.
func (a *API) ownedConfig(sess session.Session, id string) (*storage.PanelConfig, error) {
	if id == "" {
		return nil, storage.ErrNotFound
	}
	cfg, err := a.repo.GetPanelConfigByID(id)
	if err != nil {
		return nil, err
	}
	if cfg.AccountID != sess.AccountID {
		return nil, storage.ErrNotFound
	}
	return cfg, nil
}
