package panel

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// DefaultOnePanelPaths are the logical routes understood by the 1Panel adapter.
var DefaultOnePanelPaths = map[string]string{
	"/system/info":      "/api/v1/dashboard/base/os",
	"/system/current":   "/api/v1/dashboard/current",
	"/containers":       "/api/v1/containers/search",
	"/containers/start": "/api/v1/containers/operate",
	"/containers/stop":  "/api/v1/containers/operate",
	"/images":           "/api/v1/containers/image/search",
	"/websites":         "/api/v1/websites/search",
	"/databases":        "/api/v1/databases/search",
	"/files":            "/api/v1/files/search",
}

const (
	onePanelRoot       = "/api/v1"
	onePanelHealthPath = "/api/v1/dashboard/base/os"

	onePanelTokenHeader     = "1Panel-Token"
	onePanelTimestampHeader = "1Panel-Timestamp"
)

// OnePanel signs requests with the 1Panel-Token and 1Panel-Timestamp
// headers, where the token is md5("1panel" + key + timestamp).
type OnePanel struct {
	pathRouter
}

var _ Adapter = (*OnePanel)(nil)

// NewOnePanel returns a 1Panel adapter using paths, or the defaults when nil.
func NewOnePanel(paths *PathTable) *OnePanel {
	if paths == nil {
		paths = NewPathTable(onePanelRoot, DefaultOnePanelPaths)
	}
	return &OnePanel{pathRouter: newPathRouter(paths)}
}

func (a *OnePanel) Type() Type         { return TypeOnePanel }
func (a *OnePanel) HealthPath() string { return onePanelHealthPath }
func (a *OnePanel) Encoding() Encoding { return EncodingJSON }

// OnePanelToken computes the 1Panel-Token header value.
func OnePanelToken(key, timestamp string) string {
	return md5Hex("1panel" + key + timestamp)
}

func (a *OnePanel) SignRequest(req *Request, key string, now time.Time) error {
	ensureRequest(req)
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set(onePanelTimestampHeader, ts)
	req.Header.Set(onePanelTokenHeader, OnePanelToken(key, ts))
	return nil
}

type onePanelBody struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *OnePanel) NormalizeResponse(status int, raw []byte) Normalized {
	if n, ok := passthrough(raw); ok {
		return n
	}
	var body onePanelBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != nil {
		code := *body.Code
		n := Normalized{
			Code:    code,
			Success: code == http.StatusOK && status >= 200 && status < 300,
			Data:    decodeData(body.Data),
			Message: body.Message,
		}
		return n
	}
	return normalizeGeneric(status, raw)
}
