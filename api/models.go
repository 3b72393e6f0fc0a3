package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is returned for auth and validation failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// BindResponse is returned by GET /auth/bind.
type BindResponse struct {
	ProvisioningURI string    `json:"provisioningUri"`
	Secret          string    `json:"secret"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// VerifyRequest is the body of POST /auth/verify. AccountID is only used
// when no bind cookie is present.
type VerifyRequest struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId,omitempty"`
}

// VerifyResponse is returned after a successful verification.
type VerifyResponse struct {
	AccountID string    `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StatusResponse summarizes the current session.
type StatusResponse struct {
	Authenticated bool      `json:"authenticated"`
	AccountID     string    `json:"accountId"`
	ExpiresAt     time.Time `json:"expiresAt"`
	BoundPanels   []string  `json:"boundPanels"`
}

// BindPanelKeyRequest is the body of POST /proxy/bind-panel-key.
type BindPanelKeyRequest struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Key       string `json:"key"`
	TLSVerify *bool  `json:"tlsVerify,omitempty"`
}

// BindPanelKeyResponse identifies the stored panel config.
type BindPanelKeyResponse struct {
	ConfigID string `json:"configId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// ProxyRequestBody is the JSON form of a /proxy/request call.
type ProxyRequestBody struct {
	URL       string         `json:"url"`
	PanelType string         `json:"panelType"`
	Method    string         `json:"method,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	// Body is forwarded verbatim when it is a JSON string, otherwise
	// re-encoded as JSON.
	Body json.RawMessage `json:"body,omitempty"`
}

// PanelHealthResponse is returned by GET /proxy/health/{configID}.
type PanelHealthResponse struct {
	ConfigID     string    `json:"configId"`
	IsHealthy    bool      `json:"isHealthy"`
	HealthStatus string    `json:"healthStatus"`
	StatusCode   int       `json:"statusCode,omitempty"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// PanelConfigSummary describes a stored panel config without its key.
type PanelConfigSummary struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	URL             string     `json:"url"`
	TLSVerify       bool       `json:"tlsVerify"`
	IsHealthy       bool       `json:"isHealthy"`
	HealthStatus    string     `json:"healthStatus"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
	BoundInSession  bool       `json:"boundInSession"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ListConfigsResponse is returned by GET /proxy/configs.
type ListConfigsResponse struct {
	Configs []PanelConfigSummary `json:"configs"`
	PaginationMeta
}
