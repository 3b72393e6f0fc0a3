package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/panelgate/api"
	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
	"github.com/jmcleod/panelgate/storage"
	"github.com/jmcleod/panelgate/storage/memory"
	"github.com/jmcleod/panelgate/totp"
)

type testEnv struct {
	api      *api.API
	srv      *httptest.Server
	repo     *memory.Repository
	sessions *session.MemoryStore
}

func setupServer(t *testing.T, opts ...api.Option) *testEnv {
	t.Helper()
	cs, err := crypto.New("api-test-master-secret", crypto.WithIterations(100_000), crypto.WithSalt([]byte("api-test")))
	require.NoError(t, err)
	t.Cleanup(cs.Destroy)

	repo := memory.NewRepository()
	sessions := session.NewMemoryStore()
	svc := proxy.NewService(panel.DefaultRegistry(), proxy.NewForwarder(),
		proxy.WithDefaults(proxy.Options{Timeout: 2 * time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond}),
	)
	base := []api.Option{api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	a := api.New(cs, sessions, repo, svc, append(base, opts...)...)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(a.Close)
	return &testEnv{api: a, srv: srv, repo: repo, sessions: sessions}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func hasCookie(resp *http.Response, name string) bool {
	for _, c := range resp.Cookies() {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

// bindAndVerify runs the bind flow and returns the new account ID and the
// TOTP secret.
func bindAndVerify(t *testing.T, client *http.Client, baseURL string) (string, string) {
	t.Helper()
	resp := doJSON(t, client, http.MethodGet, baseURL+"/auth/bind", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, hasCookie(resp, "panelgate_bind"))
	bind := decode[api.BindResponse](t, resp)
	require.NotEmpty(t, bind.Secret)
	assert.True(t, strings.HasPrefix(bind.ProvisioningURI, "otpauth://totp/"))

	code, err := totp.CodeAt(bind.Secret, time.Now())
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodPost, baseURL+"/auth/verify", api.VerifyRequest{Token: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, hasCookie(resp, "panelgate_session"))
	verified := decode[api.VerifyResponse](t, resp)
	require.NotEmpty(t, verified.AccountID)
	return verified.AccountID, bind.Secret
}

// wrongCode returns a well-formed code that no accepted time step produces.
func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	now := time.Now()
	valid := map[string]bool{}
	for i := -2; i <= 2; i++ {
		c, err := totp.CodeAt(secret, now.Add(time.Duration(i*totp.Period)*time.Second))
		require.NoError(t, err)
		valid[c] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333", "444444", "555555"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

type recorded struct {
	mu    sync.Mutex
	path  string
	query url.Values
	hits  int
}

func (r *recorded) snapshot() (string, url.Values, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path, r.query, r.hits
}

func panelUpstream(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		rec.mu.Lock()
		rec.path = r.URL.Path
		rec.query = r.Form
		rec.hits++
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func bindPanel(t *testing.T, client *http.Client, baseURL string, typ, panelURL, key string) api.BindPanelKeyResponse {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/proxy/bind-panel-key", api.BindPanelKeyRequest{
		Type: typ, URL: panelURL, Key: key,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[api.BindPanelKeyResponse](t, resp)
}

func proxyGet(t *testing.T, client *http.Client, baseURL, panelType, path string) (*http.Response, proxy.Envelope) {
	t.Helper()
	q := url.Values{"panelType": {panelType}, "url": {path}}
	resp := doJSON(t, client, http.MethodGet, baseURL+"/proxy/request?"+q.Encode(), nil)
	return resp, decode[proxy.Envelope](t, resp)
}

func TestBindVerifyAndProxyBT(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, rec := panelUpstream(t, http.StatusOK, `{"status":true,"msg":"ok","data":{"sites":2}}`)

	accountID, _ := bindAndVerify(t, client, env.srv.URL)

	bound := bindPanel(t, client, env.srv.URL, "bt", upstream.URL+"/", "abc123")
	assert.NotEmpty(t, bound.ConfigID)
	assert.Equal(t, "bt", bound.Type)
	assert.Equal(t, upstream.URL, bound.URL)

	resp, envl := proxyGet(t, client, env.srv.URL, "bt", "/get")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envl.Success)
	assert.Equal(t, http.StatusOK, envl.Code)
	assert.NotZero(t, envl.Timestamp)

	path, query, _ := rec.snapshot()
	assert.Equal(t, "/get", path)
	requestTime := query.Get("request_time")
	require.NotEmpty(t, requestTime)
	assert.Equal(t, panel.BTToken("abc123", requestTime), query.Get("request_token"))

	// The key is stored encrypted.
	cfg, err := env.repo.GetPanelConfig(accountID, panel.TypeBT)
	require.NoError(t, err)
	assert.False(t, cfg.Key.IsZero())
	assert.NotContains(t, cfg.Key.Ciphertext, "abc123")
}

func TestProxyJSONBody(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, rec := panelUpstream(t, http.StatusOK, `{"code":200,"success":true,"data":null,"message":"ok"}`)
	bindAndVerify(t, client, env.srv.URL)
	bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "abc123")

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/proxy/request", api.ProxyRequestBody{
		URL:       "/data",
		PanelType: "bt",
		Params:    map[string]any{"action": "getData", "table": "sites"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	envl := decode[proxy.Envelope](t, resp)
	assert.True(t, envl.Success)

	_, query, _ := rec.snapshot()
	assert.Equal(t, "getData", query.Get("action"))
	assert.Equal(t, "sites", query.Get("table"))
	assert.NotEmpty(t, query.Get("request_token"))
}

func TestProxyUnboundTypeReturns400(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	bindAndVerify(t, client, env.srv.URL)

	resp, envl := proxyGet(t, client, env.srv.URL, "1panel", "/containers")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, http.StatusBadRequest, envl.Code)
	assert.False(t, envl.Success)
}

func TestProxyValidation(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	bindAndVerify(t, client, env.srv.URL)

	resp, envl := proxyGet(t, client, env.srv.URL, "nope", "/x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown panel type", envl.Message)

	resp, envl = proxyGet(t, client, env.srv.URL, "bt", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, envl.Message, "url")

	resp, _ = proxyGet(t, client, env.srv.URL, "bt", "http://evil.example/x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProxyUpstreamFailure(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, rec := panelUpstream(t, http.StatusBadGateway, `{"status":false,"msg":"backend down"}`)
	bindAndVerify(t, client, env.srv.URL)
	bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "abc123")

	resp, envl := proxyGet(t, client, env.srv.URL, "bt", "/get")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, http.StatusBadGateway, envl.Code)
	assert.False(t, envl.Success)
	assert.NotContains(t, envl.Message, "abc123")
	_, _, hits := rec.snapshot()
	assert.Equal(t, 2, hits, "one retry configured")
}

func TestProxyConnectionFailure(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, _ := panelUpstream(t, http.StatusOK, `{}`)
	deadURL := upstream.URL
	upstream.Close()

	bindAndVerify(t, client, env.srv.URL)
	bindPanel(t, client, env.srv.URL, "bt", deadURL, "abc123")

	resp, envl := proxyGet(t, client, env.srv.URL, "bt", "/get")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, envl.Success)
	assert.NotContains(t, envl.Message, "abc123")
}

func TestVerifyWrongCodeSetsNoCookie(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/bind", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bind := decode[api.BindResponse](t, resp)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: wrongCode(t, bind.Secret)})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, hasCookie(resp, "panelgate_session"))
	assert.True(t, bindCookieCleared(resp))
	assert.Equal(t, "invalid one-time code", decode[api.ErrorResponse](t, resp).Error)

	// The failed attempt consumed the pending bind.
	code, err := totp.CodeAt(bind.Secret, time.Now())
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: code})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, hasCookie(resp, "panelgate_session"))
}

func TestVerifyFailuresAreIndistinguishable(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	for _, req := range []api.VerifyRequest{
		{Token: "123456"},
		{Token: "123456", AccountID: "missing"},
		{Token: "abc"},
	} {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", req)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid one-time code", decode[api.ErrorResponse](t, resp).Error)
	}
}

func TestReverifyWithAccountIDUsesStoredConfig(t *testing.T) {
	env := setupServer(t)
	upstream, rec := panelUpstream(t, http.StatusOK, `{"status":true,"msg":"ok"}`)

	first := newClient(t)
	accountID, secret := bindAndVerify(t, first, env.srv.URL)
	bindPanel(t, first, env.srv.URL, "bt", upstream.URL, "abc123")

	second := newClient(t)
	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	resp := doJSON(t, second, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: code, AccountID: accountID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, accountID, decode[api.VerifyResponse](t, resp).AccountID)

	resp, envl := proxyGet(t, second, env.srv.URL, "bt", "/get")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envl.Success)
	_, query, _ := rec.snapshot()
	assert.Equal(t, panel.BTToken("abc123", query.Get("request_time")), query.Get("request_token"))

	resp = doJSON(t, second, http.MethodGet, env.srv.URL+"/auth/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"bt"}, decode[api.StatusResponse](t, resp).BoundPanels)
}

func bindCookieCleared(resp *http.Response) bool {
	for _, c := range resp.Cookies() {
		if c.Name == "panelgate_bind" && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestReverifyNotShadowedByBindCookie(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	accountID, secret := bindAndVerify(t, client, env.srv.URL)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/bind", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[api.BindResponse](t, resp)

	// A named account is checked against its stored secret even while a
	// bind cookie is held.
	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: code, AccountID: accountID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, accountID, decode[api.VerifyResponse](t, resp).AccountID)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: wrongCode(t, pending.Secret)})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, bindCookieCleared(resp), "failed pending verify must clear the bind cookie")

	code, err = totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: code, AccountID: accountID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, hasCookie(resp, "panelgate_session"))
	assert.Equal(t, accountID, decode[api.VerifyResponse](t, resp).AccountID)
}

func TestStatusAndLogout(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	accountID, _ := bindAndVerify(t, client, env.srv.URL)
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[api.StatusResponse](t, resp)
	assert.True(t, status.Authenticated)
	assert.Equal(t, accountID, status.AccountID)
	assert.Empty(t, status.BoundPanels)
	sessions, _ := env.sessions.Len()
	assert.Equal(t, 1, sessions)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, _ = env.sessions.Len()
	assert.Equal(t, 0, sessions)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTamperedSessionCookieRejected(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	bindAndVerify(t, client, env.srv.URL)

	u, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	var forged []*http.Cookie
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "panelgate_session" {
			c.Value = "forged" + c.Value[strings.Index(c.Value, "."):]
			forged = append(forged, c)
		}
	}
	require.Len(t, forged, 1)
	client.Jar.SetCookies(u, forged)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid session token", decode[api.ErrorResponse](t, resp).Error)
}

func TestVerifyRateLimited(t *testing.T) {
	env := setupServer(t, api.WithVerifyLimits(3, time.Minute, time.Minute))
	client := newClient(t)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: "123456", AccountID: "nope"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/verify", api.VerifyRequest{Token: "123456", AccountID: "nope"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestConfigsListHealthAndDelete(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, rec := panelUpstream(t, http.StatusOK, `{"status":true}`)
	bindAndVerify(t, client, env.srv.URL)
	bound := bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "abc123")

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/proxy/configs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]any](t, resp)
	configs, ok := raw["configs"].([]any)
	require.True(t, ok)
	require.Len(t, configs, 1)
	first := configs[0].(map[string]any)
	assert.Equal(t, bound.ConfigID, first["id"])
	assert.Equal(t, storage.HealthUnknown, first["healthStatus"])
	assert.Equal(t, true, first["boundInSession"])
	assert.NotContains(t, first, "key")
	assert.EqualValues(t, 1, raw["totalCount"])

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/proxy/health/"+bound.ConfigID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[api.PanelHealthResponse](t, resp)
	assert.True(t, health.IsHealthy)
	assert.Equal(t, "healthy: HTTP 200", health.HealthStatus)
	path, _, _ := rec.snapshot()
	assert.Equal(t, "/system", path)

	stored, err := env.repo.GetPanelConfigByID(bound.ConfigID)
	require.NoError(t, err)
	assert.True(t, stored.IsHealthy)
	assert.Equal(t, "healthy: HTTP 200", stored.HealthStatus)
	assert.False(t, stored.LastHealthCheck.IsZero())

	// Another account cannot see the config.
	other := newClient(t)
	bindAndVerify(t, other, env.srv.URL)
	resp = doJSON(t, other, http.MethodGet, env.srv.URL+"/proxy/health/"+bound.ConfigID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, other, http.MethodDelete, env.srv.URL+"/proxy/configs/"+bound.ConfigID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, client, http.MethodDelete, env.srv.URL+"/proxy/configs/"+bound.ConfigID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = proxyGet(t, client, env.srv.URL, "bt", "/get")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListConfigsPaging(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, _ := panelUpstream(t, http.StatusOK, `{}`)
	bindAndVerify(t, client, env.srv.URL)
	bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "abc123")
	bindPanel(t, client, env.srv.URL, "bearer", upstream.URL, "token")

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/proxy/configs?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.ListConfigsResponse](t, resp)
	require.Len(t, list.Configs, 1)
	assert.Equal(t, "bearer", list.Configs[0].Type)
	assert.Equal(t, 2, list.TotalCount)
	assert.True(t, list.HasMore)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/proxy/configs?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decode[api.ListConfigsResponse](t, resp)
	require.Len(t, list.Configs, 1)
	assert.Equal(t, "bt", list.Configs[0].Type)
	assert.False(t, list.HasMore)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/proxy/configs?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, resp).Error, "limit")
}

func TestRebindReplacesConfig(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	upstream, rec := panelUpstream(t, http.StatusOK, `{"status":true}`)
	accountID, _ := bindAndVerify(t, client, env.srv.URL)

	first := bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "old-key")
	second := bindPanel(t, client, env.srv.URL, "bt", upstream.URL, "new-key")
	assert.Equal(t, first.ConfigID, second.ConfigID)

	configs, err := env.repo.ListPanelConfigs(accountID)
	require.NoError(t, err)
	assert.Len(t, configs, 1)

	resp, _ := proxyGet(t, client, env.srv.URL, "bt", "/get")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, query, _ := rec.snapshot()
	assert.Equal(t, panel.BTToken("new-key", query.Get("request_time")), query.Get("request_token"))
}

func TestBindPanelKeyValidation(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	bindAndVerify(t, client, env.srv.URL)

	cases := []api.BindPanelKeyRequest{
		{Type: "cpanel", URL: "https://panel.example.com", Key: "k"},
		{Type: "bt", URL: "ftp://panel.example.com", Key: "k"},
		{Type: "bt", URL: "https://user:pw@panel.example.com", Key: "k"},
		{Type: "bt", URL: "https://panel.example.com", Key: " "},
	}
	for _, c := range cases {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/proxy/bind-panel-key", c)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%+v", c)
	}
}

func TestProxyRequiresSession(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/proxy/bind-panel-key", api.BindPanelKeyRequest{
		Type: "bt", URL: "https://panel.example.com", Key: "k",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "authentication required", decode[api.ErrorResponse](t, resp).Error)
}

func TestHealthMetricsAndDocs(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := setupServer(t, api.WithMetrics(reg, reg))
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[api.HealthResponse](t, resp).Status)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/bind", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `panelgate_auth_events_total{event="bind_issued"} 1`)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
}

func TestCheckAllPanels(t *testing.T) {
	env := setupServer(t)
	healthy, _ := panelUpstream(t, http.StatusOK, `{"status":true}`)
	broken, _ := panelUpstream(t, http.StatusInternalServerError, `{"status":false}`)

	first := newClient(t)
	bindAndVerify(t, first, env.srv.URL)
	okCfg := bindPanel(t, first, env.srv.URL, "bt", healthy.URL, "abc123")

	second := newClient(t)
	bindAndVerify(t, second, env.srv.URL)
	badCfg := bindPanel(t, second, env.srv.URL, "bearer", broken.URL, "tok")

	checked, unhealthy, err := env.api.CheckAllPanels(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	assert.Equal(t, 1, unhealthy)

	stored, err := env.repo.GetPanelConfigByID(okCfg.ConfigID)
	require.NoError(t, err)
	assert.True(t, stored.IsHealthy)

	stored, err = env.repo.GetPanelConfigByID(badCfg.ConfigID)
	require.NoError(t, err)
	assert.False(t, stored.IsHealthy)
	assert.Equal(t, "unhealthy: HTTP 500", stored.HealthStatus)
}

func TestSweepSessions(t *testing.T) {
	env := setupServer(t)
	now := time.Now()
	env.sessions.Put(session.Session{
		ID:        "expired",
		AccountID: "acct",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})
	env.sessions.Put(session.Session{
		ID:        "live",
		AccountID: "acct",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})

	assert.Equal(t, 1, env.api.SweepSessions())
	_, err := env.sessions.Get("live")
	assert.NoError(t, err)
}
