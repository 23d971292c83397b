package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/httpx"
	"github.com/finroute/finroute/pkg/session"
)

// IGAuthenticator performs the credential exchange for the stateful
// provider. One login per call; the session manager owns scheduling,
// dedup and retries.
type IGAuthenticator struct {
	baseURL  string
	apiKey   string
	username string
	password string
	client   *httpx.Client
}

func NewIGAuthenticator(cfg config.ProviderConfig) *IGAuthenticator {
	return &IGAuthenticator{
		baseURL:  cfg.IGBaseURL,
		apiKey:   cfg.IGAPIKey,
		username: cfg.IGUsername,
		password: cfg.IGPassword,
		client:   httpx.New(cfg.StatefulTimeout),
	}
}

type igLoginResponse struct {
	OAuthToken struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	} `json:"oauthToken"`
}

func (a *IGAuthenticator) Authenticate(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"identifier": a.username,
		"password":   a.password,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-IG-API-KEY", a.apiKey)
	req.Header.Set("Version", "3")

	res, err := a.client.Do(ctx, req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", time.Time{}, fmt.Errorf("ig login http %d: %w", res.StatusCode, session.ErrCredentialsRejected)
	default:
		return "", time.Time{}, fmt.Errorf("ig login http %d", res.StatusCode)
	}

	var lr igLoginResponse
	if err := json.NewDecoder(res.Body).Decode(&lr); err != nil {
		return "", time.Time{}, fmt.Errorf("ig login decode: %w", err)
	}
	if lr.OAuthToken.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("ig login returned no access token")
	}

	// expires_in is a string of seconds; when absent or garbled the manager
	// falls back to the token's own exp claim.
	var expires time.Time
	if secs, err := strconv.Atoi(lr.OAuthToken.ExpiresIn); err == nil && secs > 0 {
		expires = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return lr.OAuthToken.AccessToken, expires, nil
}
