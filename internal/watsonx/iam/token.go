// Package iam exchanges a cloud API key for short-lived bearer tokens.
package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

const (
	DefaultURL = "https://iam.cloud.ibm.com/identity/token"
	grantType  = "urn:ibm:params:oauth:grant-type:apikey"

	// refresh this long before the token actually expires
	expiryMargin = time.Minute
)

// TokenManager caches the token obtained for one API key.
type TokenManager struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
	Clock      clockwork.Clock

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenManager returns a manager with defaults applied.
func NewTokenManager(apiKey, identityURL string) *TokenManager {
	u := strings.TrimSpace(identityURL)
	if u == "" {
		u = DefaultURL
	}
	return &TokenManager{APIKey: strings.TrimSpace(apiKey), URL: u}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Expiration  int64  `json:"expiration"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a cached token or fetches a new one.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if m == nil {
		return "", fmt.Errorf("iam token manager not configured")
	}
	if m.APIKey == "" {
		return "", fmt.Errorf("api key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && now.Add(expiryMargin).Before(m.expires) {
		return m.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("apikey", m.APIKey)

	body, err := driver.Do(ctx, m.HTTPClient, nil, driver.Call{
		Provider:    "iam",
		Method:      http.MethodPost,
		URL:         m.URL,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	m.token = parsed.AccessToken
	switch {
	case parsed.Expiration > 0:
		m.expires = time.Unix(parsed.Expiration, 0)
	case parsed.ExpiresIn > 0:
		m.expires = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	default:
		m.expires = now
	}
	return m.token, nil
}

func (m *TokenManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock.Now()
	}
	return time.Now()
}

// Source picks the token source for a client: a static token wins over an
// API key exchange.
func Source(accessToken, apiKey, identityURL string, client *http.Client) driver.TokenSource {
	if token := strings.TrimSpace(accessToken); token != "" {
		return driver.StaticToken(token)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	m := NewTokenManager(apiKey, identityURL)
	m.HTTPClient = client
	return m
}
