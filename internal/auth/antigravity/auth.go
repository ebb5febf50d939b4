package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agpool/agpool/internal/config"
	"github.com/agpool/agpool/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenResponse represents an OAuth token response from Google.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AccountInfo carries the project association and entitlement tier discovered
// for an authenticated account.
type AccountInfo struct {
	ProjectID string
	Tier      string
}

// AntigravityAuth handles the Antigravity OAuth flows: authorization-code
// exchange, token refresh, and account provisioning lookups.
type AntigravityAuth struct {
	httpClient *http.Client
	oauthConf  *oauth2.Config

	// tokenEndpoint and baseURLs are overridable for tests.
	tokenEndpoint    string
	userInfoEndpoint string
	baseURLs         []string
}

// NewAntigravityAuth creates a new Antigravity auth service.
func NewAntigravityAuth(cfg *config.Config, httpClient *http.Client) *AntigravityAuth {
	if httpClient == nil {
		httpClient = util.SetProxy(cfg, &http.Client{})
	}
	return &AntigravityAuth{
		httpClient: httpClient,
		oauthConf: &oauth2.Config{
			ClientID:     ClientID,
			ClientSecret: ClientSecret,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		tokenEndpoint:    TokenEndpoint,
		userInfoEndpoint: UserInfoEndpoint,
		baseURLs:         BaseURLFallbackOrder,
	}
}

// BuildAuthURL generates the OAuth authorization URL carrying the PKCE
// challenge and the opaque state token.
func (o *AntigravityAuth) BuildAuthURL(state, challenge, redirectURI string) string {
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d/oauth-callback", CallbackPort)
	}
	conf := *o.oauthConf
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCodeForTokens exchanges an authorization code plus PKCE verifier for
// access and refresh tokens. It is never retried; a failure aborts the login
// attempt that produced the code.
func (o *AntigravityAuth) ExchangeCodeForTokens(ctx context.Context, code, verifier, redirectURI string) (*TokenResponse, error) {
	conf := *o.oauthConf
	conf.RedirectURL = redirectURI
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	token, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, fmt.Errorf("antigravity token exchange: %w", err)
	}

	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if expires, ok := token.Extra("expires_in").(float64); ok {
		resp.ExpiresIn = int64(expires)
	} else {
		resp.ExpiresIn = 3600
	}
	return resp, nil
}

// RefreshTokens obtains a fresh access token for the given refresh token.
// This is the single source of truth for refresh-token validity: any failure
// here means the token is unusable for this call and is returned to the
// caller, never swallowed.
func (o *AntigravityAuth) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", ClientID)
	form.Set("client_secret", ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("antigravity token refresh: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, errDo := o.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("antigravity token refresh: execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity token refresh: close body error: %v", errClose)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		body := strings.TrimSpace(string(bodyBytes))
		if body == "" {
			return nil, fmt.Errorf("antigravity token refresh: request failed: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("antigravity token refresh: request failed: status %d: %s", resp.StatusCode, body)
	}

	var token TokenResponse
	if errDecode := json.NewDecoder(resp.Body).Decode(&token); errDecode != nil {
		return nil, fmt.Errorf("antigravity token refresh: decode response: %w", errDecode)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("antigravity token refresh: response missing access token")
	}
	return &token, nil
}

// FetchUserInfo retrieves the user email from Google. Callers treat failures
// as best-effort; the email is informational only.
func (o *AntigravityAuth) FetchUserInfo(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", fmt.Errorf("antigravity userinfo: missing access token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoEndpoint, nil)
	if err != nil {
		return "", fmt.Errorf("antigravity userinfo: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, errDo := o.httpClient.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("antigravity userinfo: execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity userinfo: close body error: %v", errClose)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("antigravity userinfo: request failed: status %d", resp.StatusCode)
	}
	bodyBytes, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return "", fmt.Errorf("antigravity userinfo: read response: %w", errRead)
	}
	email := strings.TrimSpace(gjson.GetBytes(bodyBytes, "email").String())
	if email == "" {
		return "", fmt.Errorf("antigravity userinfo: response missing email")
	}
	return email, nil
}

// FetchAccountInfo discovers the project ID and entitlement tier for the
// authenticated user via loadCodeAssist, trying each base URL in the fallback
// order. It never fails: on total failure it returns an empty project ID and
// the "free" tier so provisioning can proceed with defaults.
func (o *AntigravityAuth) FetchAccountInfo(ctx context.Context, accessToken string) AccountInfo {
	info := AccountInfo{Tier: "free"}

	reqBody := `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`

	for _, baseURL := range o.baseURLs {
		endpointURL := fmt.Sprintf("%s/%s:loadCodeAssist", baseURL, APIVersion)
		req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(reqBody))
		if errReq != nil {
			log.Debugf("antigravity loadCodeAssist: create request for %s: %v", baseURL, errReq)
			continue
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", APIUserAgent)
		req.Header.Set("X-Goog-Api-Client", APIClient)
		req.Header.Set("Client-Metadata", ClientMetadata)

		resp, errDo := o.httpClient.Do(req)
		if errDo != nil {
			log.Debugf("antigravity loadCodeAssist: request to %s failed: %v", baseURL, errDo)
			continue
		}
		bodyBytes, errRead := io.ReadAll(resp.Body)
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity loadCodeAssist: close body error: %v", errClose)
		}
		if errRead != nil || resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			log.Debugf("antigravity loadCodeAssist: %s returned status %d", baseURL, resp.StatusCode)
			continue
		}

		root := gjson.ParseBytes(bodyBytes)

		projectID := ""
		companion := root.Get("cloudaicompanionProject")
		switch {
		case companion.Type == gjson.String:
			projectID = strings.TrimSpace(companion.String())
		case companion.IsObject():
			projectID = strings.TrimSpace(companion.Get("id").String())
		}

		if tiers := root.Get("allowedTiers"); tiers.IsArray() {
			for _, tier := range tiers.Array() {
				if !tier.Get("isDefault").Bool() {
					continue
				}
				if isPaidTierID(tier.Get("id").String()) {
					info.Tier = "paid"
				}
			}
		}
		if paid := root.Get("paidTier"); paid.IsObject() {
			if isPaidTierID(paid.Get("id").String()) {
				info.Tier = "paid"
			}
		}

		if projectID != "" {
			info.ProjectID = projectID
			return info
		}
	}

	return info
}

// isPaidTierID reports whether a tier identifier names a paid entitlement.
func isPaidTierID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || id == "legacy-tier" {
		return false
	}
	return !strings.Contains(id, "free") && !strings.Contains(id, "zero")
}
