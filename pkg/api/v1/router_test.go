package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/oidc"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/ratelimit"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage/sqlite"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/sync"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// fakeProvider satisfies oidc.Provider for handler tests.
type fakeProvider struct {
	claims oidc.Claims
}

func (*fakeProvider) Name() string { return storage.ProviderGoogle }

func (*fakeProvider) AuthURL(state, codeChallenge string) string {
	return "https://accounts.example/authorize?state=" + state + "&code_challenge=" + codeChallenge
}

func (p *fakeProvider) Exchange(context.Context, string, string) (oidc.Claims, error) {
	return p.claims, nil
}

type testEnv struct {
	handler http.Handler
	store   storage.Store
	tokens  *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := kv.NewClientWithRedis(rdb)

	store, err := sqlite.NewStore(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Environment:  config.EnvDevelopment,
		RedirectURI:  "https://app.example.com",
		CallbackBase: "https://sync.example.com",
	}

	providers := map[string]oidc.Provider{
		storage.ProviderGoogle: &fakeProvider{
			claims: oidc.Claims{Subject: "sub-1", Email: "alice@example.com"},
		},
	}

	sessions := kv.NewSessionStore(client)
	tokens := auth.NewTokenService(strings.Repeat("s", 32), sessions)
	flow := auth.NewFlow(providers, kv.NewOAuthStore(client), tokens, store, cfg)
	engine := sync.NewService(store, cfg.MaxLiveTasks())
	limiter := ratelimit.New(client, ratelimit.DefaultPolicies())

	handler := Router(Deps{
		Config:   cfg,
		Store:    store,
		Flow:     flow,
		Tokens:   tokens,
		Engine:   engine,
		Limiter:  limiter,
		Sessions: sessions,
	})

	return &testEnv{handler: handler, store: store, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// login runs the OAuth flow over HTTP and returns the minted auth data.
func (e *testEnv) login(t *testing.T) auth.AuthData {
	t.Helper()

	rec := e.do(t, http.MethodGet, "/api/auth/oauth/google/start", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var start auth.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = e.do(t, http.MethodGet, "/api/auth/oauth/callback?code=c&state="+start.State, "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "true", location.Query().Get("success"))

	rec = e.do(t, http.MethodGet, "/api/auth/oauth/result?state="+start.State, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Status   string          `json:"status"`
		AuthData json.RawMessage `json:"authData"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "success", result.Status)

	var data auth.AuthData
	require.NoError(t, json.Unmarshal(result.AuthData, &data))
	return data
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestOAuthFlowOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/oauth/google/start", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var start auth.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = env.do(t, http.MethodGet, "/api/auth/oauth/callback?code=c&state="+start.State, "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "true", location.Query().Get("success"))

	rec = env.do(t, http.MethodGet, "/api/auth/oauth/result?state="+start.State, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Status   string          `json:"status"`
		AuthData json.RawMessage `json:"authData"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "success", result.Status)

	var data auth.AuthData
	require.NoError(t, json.Unmarshal(result.AuthData, &data))
	assert.Equal(t, "alice@example.com", data.Email)
	assert.NotEmpty(t, data.Token)
	assert.True(t, data.RequiresEncryptionSetup)

	// The result mailbox is single-use: the same state is gone after
	// the first fetch.
	rec = env.do(t, http.MethodGet, "/api/auth/oauth/result?state="+start.State, "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestWrongMethodIsJSON405(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())
}

func TestCallbackUnknownStateRedirects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/oauth/callback?code=c&state=bogus", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "success=false")
	assert.Contains(t, location, "session_expired")
}

func TestCallbackAcceptsFormPost(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/oauth/google/start", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var start auth.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	form := url.Values{"code": {"c"}, "state": {start.State}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/oauth/callback",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Location"), "success=true")
}

func TestUnknownProviderIs404(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/oauth/github/start", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sync/push", "", sync.PushRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sync/push", "not-a-token", sync.PushRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushPullRoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	data := env.login(t)

	push := sync.PushRequest{
		DeviceID: data.DeviceID,
		Operations: []sync.Operation{{
			Type:          sync.OpCreate,
			TaskID:        "t1",
			EncryptedBlob: "ciphertext",
			Nonce:         "nonce",
			Checksum:      "sum",
			VectorClock:   vclock.Clock{data.DeviceID: 1},
		}},
		ClientVectorClock: vclock.Clock{data.DeviceID: 1},
	}
	rec := env.do(t, http.MethodPost, "/api/sync/push", data.Token, push)
	require.Equal(t, http.StatusOK, rec.Code)
	var pushResp sync.PushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pushResp))
	assert.Equal(t, []string{"t1"}, pushResp.Accepted)

	rec = env.do(t, http.MethodPost, "/api/sync/pull", data.Token, sync.PullRequest{DeviceID: data.DeviceID})
	require.Equal(t, http.StatusOK, rec.Code)
	var pullResp sync.PullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pullResp))
	require.Len(t, pullResp.Tasks, 1)
	assert.Equal(t, "ciphertext", pullResp.Tasks[0].EncryptedBlob)
	assert.Equal(t, vclock.Clock{data.DeviceID: 1}, pullResp.ServerVectorClock)
}

func TestPushDeviceMismatchIs403(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	data := env.login(t)

	push := sync.PushRequest{DeviceID: "some-other-device"}
	rec := env.do(t, http.MethodPost, "/api/sync/push", data.Token, push)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEncryptionSaltRoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	data := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/auth/encryption-salt", data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"encryptionSalt":null`)

	rec = env.do(t, http.MethodPost, "/api/auth/encryption-salt", data.Token,
		map[string]string{"encryptionSalt": "c2FsdC1ieXRlcw=="})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/encryption-salt", data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"encryptionSalt":"c2FsdC1ieXRlcw=="`)
}

func TestDeviceListAndRevoke(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	first := env.login(t)
	second := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/devices", second.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Devices []deviceInfo `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Devices, 2)
	for _, dev := range list.Devices {
		assert.Equal(t, dev.ID == second.DeviceID, dev.Current)
	}

	// Revoke the first device from the second session.
	rec = env.do(t, http.MethodDelete, "/api/devices/"+first.DeviceID, second.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The first device's token is dead.
	rec = env.do(t, http.MethodGet, "/api/sync/status", first.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The second session still works.
	rec = env.do(t, http.MethodGet, "/api/sync/status", second.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	data := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/auth/logout", data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sync/status", data.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshIssuesNewToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	data := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/auth/refresh", data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed refreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.Token)
	assert.NotEqual(t, data.Token, refreshed.Token)

	rec = env.do(t, http.MethodGet, "/api/sync/status", refreshed.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitHeadersOnAuthRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/oauth/google/start", nil)
	req.Header.Set("X-Real-IP", "192.0.2.10")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
}
