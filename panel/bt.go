package panel

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultBTPaths are the logical routes understood by the BaoTa adapter.
var DefaultBTPaths = map[string]string{
	"/system/info":      "/system?action=GetSystemTotal",
	"/system/disk":      "/system?action=GetDiskInfo",
	"/system/network":   "/system?action=GetNetWork",
	"/system/tasks":     "/ajax?action=GetTaskCount",
	"/sites":            "/data?action=getData&table=sites",
	"/databases":        "/data?action=getData&table=databases",
	"/ftp":              "/data?action=getData&table=ftps",
	"/files":            "/files?action=GetDir",
	"/containers":       "/btdocker/container/get_list",
	"/containers/start": "/btdocker/container/set_container_status",
	"/containers/stop":  "/btdocker/container/set_container_status",
}

const btHealthPath = "/system?action=GetSystemTotal"

// BT signs requests with request_time and request_token, where
// request_token = md5(key + request_time) and request_time is the decimal
// Unix time in seconds. The panel recomputes the same digest.
type BT struct {
	pathRouter
}

var _ Adapter = (*BT)(nil)

// NewBT returns a BaoTa adapter using paths, or DefaultBTPaths when nil.
func NewBT(paths *PathTable) *BT {
	if paths == nil {
		paths = NewPathTable("", DefaultBTPaths)
	}
	return &BT{pathRouter: newPathRouter(paths)}
}

func (a *BT) Type() Type         { return TypeBT }
func (a *BT) HealthPath() string { return btHealthPath }
func (a *BT) Encoding() Encoding { return EncodingForm }

// BTToken computes the request_token for key at requestTime.
func BTToken(key, requestTime string) string {
	return md5Hex(key + requestTime)
}

func (a *BT) SignRequest(req *Request, key string, now time.Time) error {
	ensureRequest(req)
	requestTime := strconv.FormatInt(now.Unix(), 10)
	req.Params.Set("request_time", requestTime)
	req.Params.Set("request_token", BTToken(key, requestTime))
	return nil
}

type btStatus struct {
	Status *bool  `json:"status"`
	Msg    string `json:"msg"`
}

func (a *BT) NormalizeResponse(status int, raw []byte) Normalized {
	if n, ok := passthrough(raw); ok {
		return n
	}
	var st btStatus
	if err := json.Unmarshal(raw, &st); err == nil && st.Status != nil {
		n := Normalized{
			Code:    status,
			Success: *st.Status && status >= 200 && status < 300,
			Data:    decodeData(raw),
			Message: st.Msg,
		}
		return n
	}
	return normalizeGeneric(status, raw)
}
