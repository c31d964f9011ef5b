package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliff-de-tech/Post-Bot/internal/auth"
	"github.com/cliff-de-tech/Post-Bot/internal/config"
	"github.com/cliff-de-tech/Post-Bot/internal/domain"
	"github.com/cliff-de-tech/Post-Bot/internal/linkedin"
)

type stubRepo struct {
	accounts  map[string]*domain.Account
	saveErr   error
	statusErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{accounts: make(map[string]*domain.Account)}
}

func (r *stubRepo) Save(_ context.Context, params domain.SaveAccountParams) (*domain.Account, error) {
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	account := &domain.Account{
		UserID:       params.UserID,
		SubjectURN:   params.SubjectURN,
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		ExpiresAt:    params.ExpiresAt,
		Scopes:       params.Scopes,
	}
	r.accounts[params.UserID] = account
	return account, nil
}

func (r *stubRepo) GetByUserID(_ context.Context, userID string) (*domain.Account, error) {
	account, ok := r.accounts[userID]
	if !ok {
		return nil, domain.ErrNoCredential
	}
	return account, nil
}

func (r *stubRepo) GetBySubjectURN(_ context.Context, urn string) (*domain.Account, error) {
	for _, account := range r.accounts {
		if account.SubjectURN == urn {
			return account, nil
		}
	}
	return nil, domain.ErrNoCredential
}

func (r *stubRepo) DeleteByUserID(_ context.Context, userID string) (bool, error) {
	_, ok := r.accounts[userID]
	delete(r.accounts, userID)
	return ok, nil
}

func (r *stubRepo) ConnectionStatus(_ context.Context, userID string) (*domain.ConnectionStatus, error) {
	if r.statusErr != nil {
		return nil, r.statusErr
	}
	account, ok := r.accounts[userID]
	if !ok {
		return &domain.ConnectionStatus{}, nil
	}
	return &domain.ConnectionStatus{
		LinkedInConnected: true,
		SubjectURN:        account.SubjectURN,
		GitHubConnected:   account.GitHubUsername != "",
		GitHubUsername:    account.GitHubUsername,
		ExpiresAt:         account.ExpiresAt,
		Scopes:            account.Scopes,
	}, nil
}

func (r *stubRepo) SaveGitHub(_ context.Context, userID, username, token string) error {
	account, ok := r.accounts[userID]
	if !ok {
		return domain.ErrNoCredential
	}
	account.GitHubUsername = username
	account.GitHubToken = token
	return nil
}

type stubProvider struct {
	exchangeResp *linkedin.TokenResponse
	exchangeErr  error
	userinfoSub  string
}

func (p *stubProvider) AuthorizeURL(clientID, redirectURI, scope, state string) string {
	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", scope)
	params.Set("state", state)
	return "https://www.linkedin.com/oauth/v2/authorization?" + params.Encode()
}

func (p *stubProvider) ExchangeCode(_ context.Context, _, _, _, _ string) (*linkedin.TokenResponse, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.exchangeResp, nil
}

func (p *stubProvider) Refresh(_ context.Context, _, _, _ string) (*linkedin.TokenResponse, error) {
	return nil, errors.New("refresh not stubbed")
}

func (p *stubProvider) Userinfo(_ context.Context, _ string) (string, error) {
	return p.userinfoSub, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:               "development",
		Port:                 "8080",
		LinkedInClientID:     "client-id",
		LinkedInClientSecret: "client-secret",
		LinkedInRedirectURI:  "https://app.example.com/auth/callback",
		LinkedInScopes:       "openid profile w_member_social",
		SessionSecret:        "test-session-secret",
		RefreshBuffer:        60 * time.Second,
	}
}

func newTestServer(repo *stubRepo, provider *stubProvider, pinger stubPinger) *Server {
	cfg := testConfig()
	flow := auth.NewService(repo, provider, auth.ServiceConfig{
		Credentials: auth.ClientCredentials{ID: cfg.LinkedInClientID, Secret: cfg.LinkedInClientSecret},
		RedirectURI: cfg.LinkedInRedirectURI,
		Scopes:      cfg.LinkedInScopes,
	}, clockwork.NewRealClock())
	validator := auth.NewValidator(flow, repo)
	return New(cfg, flow, validator, repo, pinger)
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func tenantRequest(method, target, userID string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(TenantHeader, userID)
	return req
}

func TestRequireTenant_MissingHeader(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/connection", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_RedirectsWithState(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/auth/login", "tenant-1", ""))

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client-id", location.Query().Get("client_id"))
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
}

// loginAndExtractState runs the login leg and returns the state plus the
// session cookie the callback must present.
func loginAndExtractState(t *testing.T, srv *Server) (state string, cookies []*http.Cookie) {
	t.Helper()

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/auth/login", "tenant-1", ""))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	return location.Query().Get("state"), rec.Result().Cookies()
}

func TestCallback_CompletesExchange(t *testing.T) {
	repo := newStubRepo()
	provider := &stubProvider{
		exchangeResp: &linkedin.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600},
		userinfoSub:  "AbC123",
	}
	srv := newTestServer(repo, provider, stubPinger{})

	state, cookies := loginAndExtractState(t, srv)

	req := tenantRequest(http.MethodGet, "/auth/callback?code=the-code&state="+state, "tenant-1", "")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "urn:li:person:AbC123", body["linkedin_urn"])

	// Token material must never leak into the callback response.
	assert.NotContains(t, rec.Body.String(), "access-1")
	assert.NotContains(t, rec.Body.String(), "refresh-1")

	account, err := repo.GetByUserID(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", account.AccessToken)
}

func TestCallback_RejectsWrongState(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	_, cookies := loginAndExtractState(t, srv)

	req := tenantRequest(http.MethodGet, "/auth/callback?code=the-code&state=forged", "tenant-1", "")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_RejectsMissingCode(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/auth/callback?state=whatever", "tenant-1", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_ProviderDenied(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/auth/callback?error=user_cancelled_authorize", "tenant-1", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_SubjectConflict(t *testing.T) {
	repo := newStubRepo()
	repo.saveErr = domain.ErrSubjectConflict
	provider := &stubProvider{
		exchangeResp: &linkedin.TokenResponse{AccessToken: "access-1", ExpiresIn: 3600},
		userinfoSub:  "AbC123",
	}
	srv := newTestServer(repo, provider, stubPinger{})

	state, cookies := loginAndExtractState(t, srv)

	req := tenantRequest(http.MethodGet, "/auth/callback?code=the-code&state="+state, "tenant-1", "")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConnectionStatus(t *testing.T) {
	repo := newStubRepo()
	expiry := time.Now().Add(time.Hour).UTC()
	repo.accounts["tenant-1"] = &domain.Account{
		UserID:         "tenant-1",
		SubjectURN:     "urn:li:person:AbC123",
		AccessToken:    "secret-access",
		GitHubUsername: "octocat",
		ExpiresAt:      &expiry,
		Scopes:         "openid",
	}
	srv := newTestServer(repo, &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/api/connection", "tenant-1", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var body connectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.LinkedInConnected)
	assert.Equal(t, "urn:li:person:AbC123", body.LinkedInURN)
	assert.True(t, body.GitHubConnected)
	assert.Equal(t, "octocat", body.GitHubUsername)

	assert.NotContains(t, rec.Body.String(), "secret-access")
}

func TestConnectionStatus_NotConnected(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/api/connection", "tenant-ghost", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var body connectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.LinkedInConnected)
	assert.False(t, body.GitHubConnected)
}

func TestDisconnect(t *testing.T) {
	repo := newStubRepo()
	repo.accounts["tenant-1"] = &domain.Account{UserID: "tenant-1"}
	srv := newTestServer(repo, &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodDelete, "/api/connection", "tenant-1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disconnected":true`)

	rec = doRequest(srv, tenantRequest(http.MethodDelete, "/api/connection", "tenant-1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disconnected":false`)
}

func TestSaveGitHub(t *testing.T) {
	repo := newStubRepo()
	repo.accounts["tenant-1"] = &domain.Account{UserID: "tenant-1"}
	srv := newTestServer(repo, &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodPost, "/api/github", "tenant-1",
		`{"username":"octocat","token":"ghp_secret"}`))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "octocat", repo.accounts["tenant-1"].GitHubUsername)
}

func TestSaveGitHub_RequiresUsername(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodPost, "/api/github", "tenant-1", `{"token":"ghp_secret"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveGitHub_RequiresLinkedInConnection(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodPost, "/api/github", "tenant-1",
		`{"username":"octocat","token":"ghp_secret"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestToken_Valid(t *testing.T) {
	repo := newStubRepo()
	expiry := time.Now().Add(time.Hour).UTC()
	repo.accounts["tenant-1"] = &domain.Account{
		UserID:      "tenant-1",
		SubjectURN:  "urn:li:person:AbC123",
		AccessToken: "usable-access",
		ExpiresAt:   &expiry,
	}
	srv := newTestServer(repo, &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/api/token", "tenant-1", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var body auth.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Valid)
	assert.Equal(t, "usable-access", body.Token)
}

func TestToken_NotConnectedIsActionableNotAnError(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/api/token", "tenant-ghost", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var body auth.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Valid)
	assert.Equal(t, auth.CodeNoCredential, body.ErrorCode)
	assert.Equal(t, auth.ActionConnect, body.UserAction)
}

func TestToken_GitHubProvider(t *testing.T) {
	repo := newStubRepo()
	repo.accounts["tenant-1"] = &domain.Account{
		UserID:         "tenant-1",
		GitHubUsername: "octocat",
		GitHubToken:    "ghp_secret",
	}
	srv := newTestServer(repo, &stubProvider{}, stubPinger{})

	rec := doRequest(srv, tenantRequest(http.MethodGet, "/api/token?provider=github", "tenant-1", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var body auth.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Valid)
	assert.Equal(t, "ghp_secret", body.Token)
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(newStubRepo(), &stubProvider{}, stubPinger{err: errors.New("connection refused")})
	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubProvider{}, stubPinger{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
