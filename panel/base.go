package panel

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// pathRouter is embedded by adapters to share MapPath and runtime
// replacement of the path table.
type pathRouter struct {
	table atomic.Pointer[PathTable]
}

func newPathRouter(t *PathTable) pathRouter {
	var r pathRouter
	r.table.Store(t)
	return r
}

func (r *pathRouter) MapPath(logical string) string {
	return r.table.Load().Resolve(logical)
}

// Paths returns the active path table.
func (r *pathRouter) Paths() *PathTable {
	return r.table.Load()
}

// SetPaths atomically replaces the active path table.
func (r *pathRouter) SetPaths(t *PathTable) {
	if t != nil {
		r.table.Store(t)
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// normalizeGeneric handles bodies that already have the unified shape and
// wraps everything else.
func normalizeGeneric(status int, raw []byte) Normalized {
	if n, ok := passthrough(raw); ok {
		return n
	}
	n := Normalized{
		Code:    status,
		Success: status >= 200 && status < 300,
		Data:    decodeData(raw),
	}
	if !n.Success {
		n.Message = http.StatusText(status)
	}
	return n
}

func passthrough(raw []byte) (Normalized, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Normalized{}, false
	}
	_, hasCode := fields["code"]
	_, hasSuccess := fields["success"]
	if !hasCode || !hasSuccess {
		return Normalized{}, false
	}
	var n Normalized
	if err := json.Unmarshal(raw, &n); err != nil {
		return Normalized{}, false
	}
	return n, true
}

// decodeData returns raw as a JSON value when it parses, otherwise as a string.
func decodeData(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
