package antigravity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAuth(tokenEndpoint string, baseURLs []string) *AntigravityAuth {
	auth := NewAntigravityAuth(nil, http.DefaultClient)
	if tokenEndpoint != "" {
		auth.tokenEndpoint = tokenEndpoint
	}
	if baseURLs != nil {
		auth.baseURLs = baseURLs
	}
	return auth
}

func TestRefreshTokens(t *testing.T) {
	var gotGrantType, gotRefreshToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrantType = r.PostFormValue("grant_type")
		gotRefreshToken = r.PostFormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	auth := newTestAuth(srv.URL, nil)
	resp, err := auth.RefreshTokens(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if gotGrantType != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", gotGrantType)
	}
	if gotRefreshToken != "refresh-1" {
		t.Errorf("refresh_token = %q, want refresh-1", gotRefreshToken)
	}
	if resp.AccessToken != "new-access" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRefreshTokensPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	auth := newTestAuth(srv.URL, nil)
	if _, err := auth.RefreshTokens(context.Background(), "revoked"); err == nil {
		t.Fatal("RefreshTokens() expected error for non-2xx response, got nil")
	}
}

func TestFetchAccountInfoFallsBackAcrossEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1internal:loadCodeAssist" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"cloudaicompanionProject": {"id": "proj-42"},
			"allowedTiers": [{"id": "standard-tier", "isDefault": true}]
		}`))
	}))
	defer good.Close()

	auth := newTestAuth("", []string{bad.URL, good.URL})
	info := auth.FetchAccountInfo(context.Background(), "token")
	if info.ProjectID != "proj-42" {
		t.Errorf("ProjectID = %q, want proj-42", info.ProjectID)
	}
	if info.Tier != "paid" {
		t.Errorf("Tier = %q, want paid", info.Tier)
	}
}

func TestFetchAccountInfoDefaultsOnTotalFailure(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer bad.Close()

	auth := newTestAuth("", []string{bad.URL})
	info := auth.FetchAccountInfo(context.Background(), "token")
	if info.ProjectID != "" || info.Tier != "free" {
		t.Errorf("expected empty project and free tier, got %+v", info)
	}
}

func TestFetchAccountInfoStringProjectAndFreeTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"cloudaicompanionProject": "plain-project",
			"allowedTiers": [{"id": "free-tier", "isDefault": true}]
		}`))
	}))
	defer srv.Close()

	auth := newTestAuth("", []string{srv.URL})
	info := auth.FetchAccountInfo(context.Background(), "token")
	if info.ProjectID != "plain-project" {
		t.Errorf("ProjectID = %q, want plain-project", info.ProjectID)
	}
	if info.Tier != "free" {
		t.Errorf("Tier = %q, want free", info.Tier)
	}
}

func TestBuildAuthURLCarriesPKCEParams(t *testing.T) {
	auth := newTestAuth("", nil)
	u := auth.BuildAuthURL("state-token", "challenge-value", "http://localhost:1234/oauth-callback")
	for _, want := range []string{
		"code_challenge=challenge-value",
		"code_challenge_method=S256",
		"state=state-token",
		"access_type=offline",
		"prompt=consent",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("auth URL missing %q: %s", want, u)
		}
	}
}
