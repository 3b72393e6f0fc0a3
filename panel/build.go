package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Outbound is a fully addressed request ready for the forwarding engine.
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Build addresses req against baseURL. Parameters go to the query string
// for GET, HEAD and DELETE and to the body otherwise, encoded per enc.
// fields carries structured client parameters; they are merged with
// req.Params (which win on conflict).
func Build(baseURL string, enc Encoding, req *Request, fields map[string]any) (*Outbound, error) {
	ensureRequest(req)
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid panel url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid panel url: scheme must be http or https")
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid panel url: missing host")
	}

	target, err := url.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid panel path: %w", err)
	}

	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(target.Path, "/")
	u.RawPath = ""
	query := base.Query()
	for k, vs := range target.Query() {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	out := &Outbound{
		Method: method,
		Header: req.Header.Clone(),
	}

	params := mergeParams(fields, req.Params)

	switch {
	case req.Body != nil:
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		out.Body = req.Body
		if out.Header.Get("Content-Type") == "" {
			out.Header.Set("Content-Type", "application/json")
		}
	case method == http.MethodGet || method == http.MethodHead || method == http.MethodDelete:
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	case enc == EncodingForm:
		out.Body = []byte(params.Encode())
		out.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		body, err := jsonBody(fields, req.Params)
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.Header.Set("Content-Type", "application/json")
	}

	u.RawQuery = query.Encode()
	out.URL = u.String()
	return out, nil
}

func mergeParams(fields map[string]any, params url.Values) url.Values {
	merged := url.Values{}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged.Set(k, stringify(fields[k]))
	}
	for k, vs := range params {
		merged[k] = append([]string(nil), vs...)
	}
	return merged
}

func jsonBody(fields map[string]any, params url.Values) ([]byte, error) {
	obj := make(map[string]any, len(fields)+len(params))
	for k, v := range fields {
		obj[k] = v
	}
	for k, vs := range params {
		if len(vs) == 1 {
			obj[k] = vs[0]
		} else {
			obj[k] = vs
		}
	}
	if len(obj) == 0 {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return body, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
