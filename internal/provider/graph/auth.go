package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// expirySkew is subtracted from the advertised lifetime so a token is
	// never presented in the last moments before it lapses.
	expirySkew = 5 * time.Minute
)

// tokenCache holds one client-credentials access token and fetches a new one
// when it has lapsed or been invalidated. It is safe for concurrent use;
// concurrent callers share a single fetch.
type tokenCache struct {
	endpoint   string
	form       url.Values
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	token   string
	validTo time.Time
}

func newTokenCache(endpoint, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token or fetches a fresh one.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.token != "" && tc.now().Before(tc.validTo) {
		return tc.token, nil
	}

	resp, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}

	lifetime := time.Duration(resp.ExpiresIn)*time.Second - expirySkew
	tc.token = resp.AccessToken
	tc.validTo = tc.now().Add(max(lifetime, 0))
	return tc.token, nil
}

// Invalidate drops the cached token.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.validTo = time.Time{}
	tc.mu.Unlock()
}

func (tc *tokenCache) fetch(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.endpoint, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newTokenError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response: missing access_token")
	}
	return &tr, nil
}

// tokenError is a non-200 answer from the token endpoint. Code and
// Description come from the OAuth2 error body when it has one.
type tokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func newTokenError(status int, body []byte) *tokenError {
	te := &tokenError{StatusCode: status}
	var oe struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &oe) == nil && oe.Error != "" {
		te.Code = oe.Error
		te.Description = oe.Description
		return te
	}
	te.Description = strings.TrimSpace(string(body))
	return te
}

func (e *tokenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token endpoint (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint (HTTP %d): %s", e.StatusCode, e.Description)
}
