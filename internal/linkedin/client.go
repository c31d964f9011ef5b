// Package linkedin implements the OAuth2 legs against the LinkedIn API:
// authorization URL construction, code exchange, OpenID Connect identity
// resolution, and refresh-token renewal.
package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cliff-de-tech/Post-Bot/internal/domain"
	"github.com/cliff-de-tech/Post-Bot/internal/metrics"
)

const (
	linkedinAuthURL     = "https://www.linkedin.com/oauth/v2/authorization"
	linkedinTokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
	linkedinUserinfoURL = "https://api.linkedin.com/v2/userinfo"

	httpCallTimeout = 10 * time.Second
)

// TokenResponse is the provider's answer to a code exchange or refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds, 0 when the provider reports no lifetime
}

// Client talks to the LinkedIn OAuth endpoints. Endpoint URLs are fields so
// tests can point the client at a local server.
type Client struct {
	authURL     string
	tokenURL    string
	userinfoURL string
	httpClient  *http.Client
}

func NewClient() *Client {
	return &Client{
		authURL:     linkedinAuthURL,
		tokenURL:    linkedinTokenURL,
		userinfoURL: linkedinUserinfoURL,
		httpClient:  &http.Client{Timeout: httpCallTimeout},
	}
}

// AuthorizeURL renders the authorization redirect. The state parameter is
// caller-supplied; generating and later verifying it is the caller's CSRF
// responsibility.
func (c *Client) AuthorizeURL(clientID, redirectURI, scope, state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", scope)
	params.Set("state", state)
	return c.authURL + "?" + params.Encode()
}

// ExchangeCode swaps an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)

	return c.postTokenRequest(ctx, "exchange", data)
}

// Refresh renews an access token. LinkedIn rotates refresh tokens; a missing
// refresh_token in the response means the old one stays valid.
func (c *Client) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)

	resp, err := c.postTokenRequest(ctx, "refresh", data)
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

func (c *Client) postTokenRequest(ctx context.Context, op string, data url.Values) (*TokenResponse, error) {
	timer := time.Now()
	defer func() { metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(timer).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 400/401 means the grant itself was rejected, not a transient fault.
		revoked := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
		return nil, &domain.ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Revoked:    revoked,
			Err:        fmt.Errorf("token endpoint returned status %d", resp.StatusCode),
		}
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, &domain.ProviderError{Op: op, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &domain.ProviderError{Op: op, Err: fmt.Errorf("token endpoint returned no access token")}
	}

	return &TokenResponse{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
	}, nil
}

// Userinfo resolves the OpenID Connect subject for a fresh access token.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (string, error) {
	timer := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues("userinfo").Observe(time.Since(timer).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return "", &domain.ProviderError{Op: "userinfo", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.ProviderError{Op: "userinfo", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.ProviderError{
			Op:         "userinfo",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode),
		}
	}

	var userinfo struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userinfo); err != nil {
		return "", &domain.ProviderError{Op: "userinfo", Err: fmt.Errorf("failed to decode userinfo response: %w", err)}
	}
	if userinfo.Sub == "" {
		return "", &domain.ProviderError{Op: "userinfo", Err: fmt.Errorf("userinfo response missing subject")}
	}

	return userinfo.Sub, nil
}
