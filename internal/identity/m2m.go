package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ms-events/internal/config"
	"ms-events/internal/models"
)

type m2mTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// MembershipClient fetches member snapshots from the membership service
// using a client-credentials token. The token is cached in Redis so
// concurrent lookups do not hammer Keycloak.
type MembershipClient struct {
	Config config.KeycloakConfig
	HTTP   *http.Client
	Tokens *RedisTokenCache
}

func NewMembershipClient(cfg config.KeycloakConfig, client *http.Client, tokens *RedisTokenCache) *MembershipClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MembershipClient{Config: cfg, HTTP: client, Tokens: tokens}
}

// FetchUser retrieves one member's snapshot from the membership service.
func (m *MembershipClient) FetchUser(ctx context.Context, userID string) (*models.User, error) {
	token, err := m.m2mToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire service token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/users/%s", m.Config.MembershipURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("membership service returned %s: %s", resp.Status, string(body))
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode member snapshot: %w", err)
	}
	return &user, nil
}

// m2mToken returns a cached client-credentials token, requesting a
// fresh one from Keycloak when the cache is empty or expired.
func (m *MembershipClient) m2mToken(ctx context.Context) (string, error) {
	if m.Tokens != nil {
		if cached, err := m.Tokens.GetToken(ctx); err == nil && cached.IsValid() {
			return cached.Token, nil
		}
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
		m.Config.URL, m.Config.Realm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", m.Config.ClientID)
	data.Set("client_secret", m.Config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to get token, status %s: %s", resp.Status, string(body))
	}

	var tokenResp m2mTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}

	if m.Tokens != nil {
		if err := m.Tokens.SetToken(ctx, tokenResp.AccessToken, tokenResp.ExpiresIn); err != nil {
			// Cache failures only cost an extra token request next time.
			return tokenResp.AccessToken, nil
		}
	}
	return tokenResp.AccessToken, nil
}
