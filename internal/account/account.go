// Package account implements the file-backed credential pool: durable account
// records, an atomic JSON state store, and the pool manager that hands out
// valid access tokens with transparent refresh and round-robin rotation.
package account

import (
	"strings"
	"time"

	"github.com/agpool/agpool/internal/auth/antigravity"
)

// expirySkew is the safety margin applied before the recorded expiry: a token
// within this window of expiring is refreshed ahead of use to absorb clock
// skew and in-flight latency.
const expirySkew = 60 * time.Second

// Account is one authenticated identity in the pool. Only RefreshToken is
// irreplaceable; the access token and expiry are lazily repaired from it.
type Account struct {
	// Email is the account's display identity; informational, may be empty.
	Email string `json:"email"`

	// RefreshToken is the long-lived credential. Every persisted account
	// carries a non-empty refresh token.
	RefreshToken string `json:"refreshToken"`

	// AccessToken is the short-lived bearer credential derived from
	// RefreshToken.
	AccessToken string `json:"access"`

	// ExpiresAt is the unix-seconds timestamp after which AccessToken must be
	// treated as invalid.
	ExpiresAt int64 `json:"expires"`

	// ProjectID is the upstream project association. May be empty; never
	// required to be set.
	ProjectID string `json:"projectId"`

	// Tier is the entitlement classification ("free" or "paid"),
	// informational only.
	Tier string `json:"tier"`

	// AddedAt and LastUsedAt are bookkeeping timestamps in unix milliseconds.
	AddedAt    int64 `json:"addedAt"`
	LastUsedAt int64 `json:"lastUsed"`
}

// FromProvisioned builds a pool record from an interactive login result.
func FromProvisioned(p *antigravity.ProvisionedAccount) *Account {
	now := time.Now()
	return &Account{
		Email:        p.Email,
		RefreshToken: p.RefreshToken,
		AccessToken:  p.AccessToken,
		ExpiresAt:    now.Add(time.Duration(p.ExpiresIn) * time.Second).Unix(),
		ProjectID:    p.ProjectID,
		Tier:         p.Tier,
		AddedAt:      now.UnixMilli(),
	}
}

// Valid reports whether the record satisfies the persistence invariant.
func (a *Account) Valid() bool {
	return a != nil && strings.TrimSpace(a.RefreshToken) != ""
}

// NeedsRefresh reports whether the access token is expired or within the
// safety margin of expiring at the given instant.
func (a *Account) NeedsRefresh(now time.Time) bool {
	if a.AccessToken == "" {
		return true
	}
	return !now.Before(time.Unix(a.ExpiresAt, 0).Add(-expirySkew))
}
