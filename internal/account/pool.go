package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agpool/agpool/internal/auth/antigravity"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNoValidCredential is returned when the pool is empty or the active
// account's credential cannot be made valid. Callers decide whether to rotate
// or abort; Token never rotates on its own.
var ErrNoValidCredential = errors.New("account pool: no valid credential available")

// Refresher exchanges a refresh token for a fresh access token. Implemented
// by *antigravity.AntigravityAuth.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*antigravity.TokenResponse, error)
}

// Pool manages the ordered account list and the rotation cursor. Every
// mutation is persisted synchronously before the method returns, so the store
// file always reflects the last completed operation.
type Pool struct {
	mu    sync.Mutex
	store *FileStore

	refresher    Refresher
	refreshGroup singleflight.Group

	accounts    []*Account
	activeIndex int

	now func() time.Time
}

// NewPool loads persisted state from the store and returns a ready pool.
func NewPool(store *FileStore, refresher Refresher) (*Pool, error) {
	p := &Pool{
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	p.accounts = state.Accounts
	p.activeIndex = state.ActiveIndex
	return p, nil
}

// Len returns the number of accounts in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Current returns a copy of the account under the rotation cursor.
func (p *Pool) Current() (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := p.activeLocked()
	if acct == nil {
		return Account{}, false
	}
	return *acct, true
}

func (p *Pool) activeLocked() *Account {
	if len(p.accounts) == 0 {
		return nil
	}
	if p.activeIndex < 0 || p.activeIndex >= len(p.accounts) {
		p.activeIndex = 0
	}
	return p.accounts[p.activeIndex]
}

// AddAccount appends a provisioned account to the pool and persists. The
// rotation cursor is not moved; existing accounts keep priority. Adding an
// account whose refresh token is already present replaces that record in
// place instead of duplicating it.
func (p *Pool) AddAccount(acct *Account) error {
	if !acct.Valid() {
		return fmt.Errorf("account pool: refusing to add account without refresh token")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if acct.AddedAt == 0 {
		acct.AddedAt = p.now().UnixMilli()
	}
	replaced := false
	for i, existing := range p.accounts {
		if existing.RefreshToken == acct.RefreshToken {
			p.accounts[i] = acct
			replaced = true
			break
		}
	}
	if !replaced {
		p.accounts = append(p.accounts, acct)
	}
	if errSave := p.saveLocked(); errSave != nil {
		return errSave
	}
	log.Infof("account pool: added account %q (%d total)", acct.Email, len(p.accounts))
	return nil
}

// Rotate advances the cursor to the next account in order, wrapping at the
// end, and persists the new position. On an empty pool it is a no-op.
func (p *Pool) Rotate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return nil
	}
	p.activeIndex = (p.activeIndex + 1) % len(p.accounts)
	if errSave := p.saveLocked(); errSave != nil {
		return errSave
	}
	log.Debugf("account pool: rotated to account %d/%d", p.activeIndex+1, len(p.accounts))
	return nil
}

// MarkRateLimited records that the active account was throttled upstream and
// rotates past it. The retry-after hint is logged but not awaited; the next
// account is tried immediately.
func (p *Pool) MarkRateLimited(retryAfter time.Duration) {
	if acct, ok := p.Current(); ok {
		log.Warnf("account pool: account %q rate limited (retry after %s), rotating", acct.Email, retryAfter)
	}
	if err := p.Rotate(); err != nil {
		log.Errorf("account pool: rotate after rate limit: %v", err)
	}
}

// Token returns a valid access token and project ID for the active account,
// refreshing first when the stored token is missing or within the expiry
// safety margin. A refresh failure leaves the pool untouched and surfaces as
// ErrNoValidCredential; rotation policy belongs to the caller.
func (p *Pool) Token(ctx context.Context) (accessToken, projectID string, err error) {
	p.mu.Lock()
	acct := p.activeLocked()
	if acct == nil {
		p.mu.Unlock()
		return "", "", ErrNoValidCredential
	}
	now := p.now()
	if !acct.NeedsRefresh(now) {
		acct.LastUsedAt = now.UnixMilli()
		access, project := acct.AccessToken, acct.ProjectID
		p.mu.Unlock()
		return access, project, nil
	}
	refreshToken := acct.RefreshToken
	p.mu.Unlock()

	// The refresh happens outside the pool lock; concurrent callers for the
	// same refresh token share one upstream call.
	result, errRefresh, _ := p.refreshGroup.Do(refreshToken, func() (interface{}, error) {
		return p.refresher.RefreshTokens(ctx, refreshToken)
	})
	if errRefresh != nil {
		return "", "", fmt.Errorf("%w: refresh failed: %v", ErrNoValidCredential, errRefresh)
	}
	tokenResp := result.(*antigravity.TokenResponse)

	p.mu.Lock()
	defer p.mu.Unlock()
	now = p.now()
	for _, candidate := range p.accounts {
		if candidate.RefreshToken != refreshToken {
			continue
		}
		candidate.AccessToken = tokenResp.AccessToken
		candidate.ExpiresAt = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second).Unix()
		candidate.LastUsedAt = now.UnixMilli()
		if errSave := p.saveLocked(); errSave != nil {
			return "", "", errSave
		}
		return candidate.AccessToken, candidate.ProjectID, nil
	}
	// The account was removed from the pool while we were refreshing.
	return "", "", ErrNoValidCredential
}

// Reload replaces in-memory state with whatever is on disk. Used by the file
// watcher so external edits to the accounts file take effect without a
// restart.
func (p *Pool) Reload() error {
	state, err := p.store.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = state.Accounts
	p.activeIndex = state.ActiveIndex
	log.Debugf("account pool: reloaded %d account(s) from %s", len(p.accounts), p.store.Path())
	return nil
}

func (p *Pool) saveLocked() error {
	return p.store.Save(&State{
		Version:     stateVersion,
		Accounts:    p.accounts,
		ActiveIndex: p.activeIndex,
	})
}
