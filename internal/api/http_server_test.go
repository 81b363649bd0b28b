package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/models"
	"tiktok-sheets/internal/service"
	"tiktok-sheets/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	accounts map[string]*models.Account
	patches  []service.TaskPatch
	runs     []bool
	runErr   error
	createFn func(appKey, appSecret, authCode string) (*models.Account, error)
}

func newFakeAccounts() *fakeAccounts {
	task := models.DefaultTask()
	return &fakeAccounts{accounts: map[string]*models.Account{
		"acc": {ID: "acc", AppKey: "key", AppSecret: "secret", AccessToken: "token", Enabled: true, Task: &task},
	}}
}

func (f *fakeAccounts) ListAccounts(context.Context) ([]*models.Account, error) {
	out := make([]*models.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) CreateAccount(_ context.Context, appKey, appSecret, authCode string) (*models.Account, error) {
	if f.createFn != nil {
		return f.createFn(appKey, appSecret, authCode)
	}
	a := &models.Account{ID: "new", AppKey: appKey, Enabled: true}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccounts) UpdateTask(ctx context.Context, id string, patch service.TaskPatch) (*models.Account, error) {
	a, err := f.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.CronExpression != nil && *patch.CronExpression == "bad" {
		return nil, fmt.Errorf("%w: bad cron", service.ErrInvalidInput)
	}
	f.patches = append(f.patches, patch)
	return a, nil
}

func (f *fakeAccounts) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Account, error) {
	a, err := f.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Enabled = enabled
	return a, nil
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, id string) error {
	if _, ok := f.accounts[id]; !ok {
		return database.ErrNotFound
	}
	delete(f.accounts, id)
	return nil
}

func (f *fakeAccounts) RequestRun(ctx context.Context, id string, fullYear bool) (*models.RunRequest, error) {
	if _, err := f.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.runs = append(f.runs, fullYear)
	return &models.RunRequest{ID: "req", AccountID: id, FullYear: fullYear}, nil
}

type fakeJobs map[string]string

func (j fakeJobs) Snapshot() map[string]string { return j }

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Port:    0,
		Auth: config.APIAuthConfig{
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: "secret-key", Name: "ops"}},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 100},
	}
}

func newTestServer(t *testing.T, accounts *fakeAccounts, jobs fakeJobs) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(testAPIConfig(), accounts, jobs, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-api-key", "secret-key")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthzNoAuth(t *testing.T) {
	ts := newTestServer(t, newFakeAccounts(), fakeJobs{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountsRequireKey(t *testing.T) {
	ts := newTestServer(t, newFakeAccounts(), fakeJobs{})

	resp, err := http.Get(ts.URL + "/api/v1/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/accounts", nil)
	req.Header.Set("x-api-key", "wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestListAndGetAccounts(t *testing.T) {
	ts := newTestServer(t, newFakeAccounts(), fakeJobs{})

	resp := do(t, ts, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Accounts []map[string]any `json:"accounts"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "acc", body.Accounts[0]["id"])
	assert.NotContains(t, body.Accounts[0], "app_secret")
	assert.NotContains(t, body.Accounts[0], "access_token")

	resp = do(t, ts, http.MethodGet, "/api/v1/accounts/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAccount(t *testing.T) {
	accounts := newFakeAccounts()
	ts := newTestServer(t, accounts, fakeJobs{})

	resp := do(t, ts, http.MethodPost, "/api/v1/accounts", `{"app_key":"k","app_secret":"s","auth_code":"c"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, accounts.accounts, "new")

	resp = do(t, ts, http.MethodPost, "/api/v1/accounts", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	accounts.createFn = func(string, string, string) (*models.Account, error) {
		return nil, fmt.Errorf("exchange auth code: %w", &marketplace.APIError{Code: 36004004, Message: "invalid code"})
	}
	resp = do(t, ts, http.MethodPost, "/api/v1/accounts", `{"app_key":"k","app_secret":"s","auth_code":"c"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	accounts.createFn = func(string, string, string) (*models.Account, error) {
		return nil, fmt.Errorf("%w: missing", service.ErrInvalidInput)
	}
	resp = do(t, ts, http.MethodPost, "/api/v1/accounts", `{"app_key":"","app_secret":"s","auth_code":"c"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTaskAndStatus(t *testing.T) {
	accounts := newFakeAccounts()
	ts := newTestServer(t, accounts, fakeJobs{})

	resp := do(t, ts, http.MethodPatch, "/api/v1/accounts/acc/task", `{"cron_expression":"*/10 * * * *","is_active":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, accounts.patches, 1)
	assert.Equal(t, "*/10 * * * *", *accounts.patches[0].CronExpression)

	resp = do(t, ts, http.MethodPatch, "/api/v1/accounts/acc/task", `{"cron_expression":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodPatch, "/api/v1/accounts/acc/status", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, accounts.accounts["acc"].Enabled)

	resp = do(t, ts, http.MethodPatch, "/api/v1/accounts/acc/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunAndDelete(t *testing.T) {
	accounts := newFakeAccounts()
	ts := newTestServer(t, accounts, fakeJobs{})

	resp := do(t, ts, http.MethodPost, "/api/v1/accounts/acc/run", `{"full_year":true}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = do(t, ts, http.MethodPost, "/api/v1/accounts/acc/run", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []bool{true, false}, accounts.runs)

	accounts.runErr = fmt.Errorf("enqueue run: %w", worker.ErrQueueFull)
	resp = do(t, ts, http.MethodPost, "/api/v1/accounts/acc/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, ts, http.MethodDelete, "/api/v1/accounts/acc", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, ts, http.MethodDelete, "/api/v1/accounts/acc", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs(t *testing.T) {
	ts := newTestServer(t, newFakeAccounts(), fakeJobs{"b": "0 1 * * *", "a": "0 0 * * *"})

	resp := do(t, ts, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Jobs []jobView `json:"jobs"`
	}
	decode(t, resp, &body)
	assert.Equal(t, []jobView{
		{AccountID: "a", CronExpression: "0 0 * * *"},
		{AccountID: "b", CronExpression: "0 1 * * *"},
	}, body.Jobs)
}
