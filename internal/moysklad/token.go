package moysklad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/peteski22/shopbridge/internal/batch"
)

// TokenStore provides access to the persisted access token.
type TokenStore interface {
	// Token returns the stored token, or an empty string when none is stored.
	Token(ctx context.Context) (string, error)

	// SaveToken stores a new token.
	SaveToken(ctx context.Context, token string) error
}

// tokenManager caches the bearer token and obtains a new one with the account credentials when needed.
// MoySklad tokens do not expire on a schedule; they are replaced when the API rejects them.
type tokenManager struct {
	// accessToken is the current cached token.
	accessToken string

	// baseURL is the API base URL.
	baseURL string

	// httpClient is the HTTP client for token requests.
	httpClient *http.Client

	// login is the account login.
	login string

	// mu protects accessToken.
	mu sync.Mutex

	// password is the account password.
	password string

	// tokenStore persists the token between runs.
	tokenStore TokenStore
}

// AccessToken returns the cached token, the stored token, or a freshly issued one, in that order.
func (tm *tokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.accessToken != "" {
		return tm.accessToken, nil
	}

	stored, err := tm.tokenStore.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("getting stored token: %w", err)
	}
	if stored != "" {
		tm.accessToken = stored
		return stored, nil
	}

	return tm.issue(ctx)
}

// Invalidate drops the rejected token and issues a new one.
func (tm *tokenManager) Invalidate(ctx context.Context, rejected string) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Another request already replaced it.
	if tm.accessToken != "" && tm.accessToken != rejected {
		return tm.accessToken, nil
	}

	tm.accessToken = ""
	return tm.issue(ctx)
}

// Issue obtains a new token with the account credentials and stores it.
func (tm *tokenManager) Issue(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return tm.issue(ctx)
}

// issue must be called with mu held.
func (tm *tokenManager) issue(ctx context.Context) (string, error) {
	if tm.login == "" || tm.password == "" {
		return "", errors.New("no stored token and no credentials to issue one")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+"/security/token", nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.SetBasicAuth(tm.login, tm.password)

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token request failed: %w", batch.NewHTTPError(resp))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response has no access token")
	}

	if err := tm.tokenStore.SaveToken(ctx, tokenResp.AccessToken); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}

	tm.accessToken = tokenResp.AccessToken
	return tm.accessToken, nil
}

// newTokenManager creates a new token manager.
func newTokenManager(
	baseURL string,
	login string,
	password string,
	tokenStore TokenStore,
	httpClient *http.Client,
) *tokenManager {
	return &tokenManager{
		baseURL:    baseURL,
		httpClient: httpClient,
		login:      login,
		password:   password,
		tokenStore: tokenStore,
	}
}
