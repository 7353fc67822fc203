// Package token keeps mailbox access tokens valid across their lifetime.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Provider exchanges a refresh token for a new access token.
// A returned token with an empty RefreshToken means the stored one stays valid.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f ProviderFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Repository is the account persistence the store needs.
type Repository interface {
	GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error)
	SaveAccountToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	DeactivateAccount(ctx context.Context, id, reason string) error
	ListAccountsExpiringBefore(ctx context.Context, t time.Time) ([]models.MailboxAccount, error)
}

// CachedToken holds an in-memory access token with its metadata.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
	Email       string
	Provider    string
}

// Options tune a Store. Zero values pick defaults.
type Options struct {
	// RefreshMargin is how long before expiry a token is considered stale. Default 2m.
	RefreshMargin time.Duration
	// OnReauthRequired is called once each time an account gets deactivated by a failed refresh.
	OnReauthRequired func(ctx context.Context, account *models.MailboxAccount, reason string)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store hands out valid access tokens and refreshes them at most once at a time per account.
type Store struct {
	repo      Repository
	providers map[string]Provider
	margin    time.Duration
	onReauth  func(ctx context.Context, account *models.MailboxAccount, reason string)
	now       func() time.Time

	cache map[string]*CachedToken
	mu    sync.RWMutex
	group singleflight.Group
}

// NewStore creates a credential store. providers is keyed by account provider (gmail, outlook).
func NewStore(repo Repository, providers map[string]Provider, opts Options) *Store {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		repo:      repo,
		providers: providers,
		margin:    opts.RefreshMargin,
		onReauth:  opts.OnReauthRequired,
		now:       opts.Now,
		cache:     make(map[string]*CachedToken),
	}
}

// forceRefresh asks doRefresh to refresh regardless of the stored expiry.
const forceRefresh time.Duration = -1

func (s *Store) validFor(t *CachedToken, d time.Duration) bool {
	return d >= 0 && t != nil && t.AccessToken != "" && t.ExpiresAt.After(s.now().Add(d))
}

// GetValidToken returns an access token that stays valid for at least the refresh margin.
// Concurrent callers for the same account share one refresh.
func (s *Store) GetValidToken(ctx context.Context, accountID string) (*CachedToken, error) {
	s.mu.RLock()
	cached := s.cache[accountID]
	s.mu.RUnlock()
	if s.validFor(cached, s.margin) {
		return cached, nil
	}
	return s.refresh(ctx, accountID, s.margin)
}

// ForceRefresh refreshes the account's token even when the stored one is still valid.
func (s *Store) ForceRefresh(ctx context.Context, accountID string) (*CachedToken, error) {
	return s.refresh(ctx, accountID, forceRefresh)
}

// Invalidate drops the cached token of an account, e.g. after a reconnect stored new credentials.
func (s *Store) Invalidate(accountID string) {
	s.mu.Lock()
	delete(s.cache, accountID)
	s.mu.Unlock()
}

// refresh coalesces all callers of one account into a single flight. The flight refreshes
// unless the stored token is still valid for minValidity.
func (s *Store) refresh(ctx context.Context, accountID string, minValidity time.Duration) (*CachedToken, error) {
	// A forced refresh must not join a flight that may settle for the stored token.
	key := accountID
	if minValidity == forceRefresh {
		key += ":force"
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// The flight outlives any single caller; a cancelled waiter must not abort a
		// rotation the provider already performed.
		return s.doRefresh(context.WithoutCancel(ctx), accountID, minValidity)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CachedToken), nil
	}
}

func (s *Store) doRefresh(ctx context.Context, accountID string, minValidity time.Duration) (*CachedToken, error) {
	ctx = logging.WithAccount(ctx, accountID)

	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &CredentialError{AccountID: accountID, Reason: "account not found", Err: ErrReauthRequired}
		}
		return nil, &CredentialError{AccountID: accountID, Err: fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)}
	}
	if !account.IsActive {
		s.Invalidate(accountID)
		return nil, &CredentialError{AccountID: accountID, Reason: account.ReauthReason, Err: ErrReauthRequired}
	}

	stored := &CachedToken{
		AccessToken: account.AccessToken,
		ExpiresAt:   account.TokenExpiry,
		Email:       account.Email,
		Provider:    account.Provider,
	}
	// Another flight may have refreshed while this caller waited.
	if s.validFor(stored, minValidity) {
		s.put(accountID, stored)
		return stored, nil
	}

	if account.RefreshToken == "" {
		// Without a refresh token the stored access token is used until it expires.
		if minValidity != forceRefresh && s.validFor(stored, 0) {
			s.put(accountID, stored)
			return stored, nil
		}
		return nil, s.deactivate(ctx, account, "no refresh token stored")
	}

	provider, ok := s.providers[account.Provider]
	if !ok {
		return nil, &CredentialError{AccountID: accountID, Reason: account.Provider, Err: ErrUnknownProvider}
	}

	logging.Info(ctx).Str("email", account.Email).Time("expires_at", account.TokenExpiry).Msg("refreshing access token")
	newToken, err := provider.Refresh(ctx, account.RefreshToken)
	if err != nil {
		if isPermanentRefreshError(err) {
			return nil, s.deactivate(ctx, account, err.Error())
		}
		logging.Warn(ctx).Err(err).Str("email", account.Email).Msg("transient refresh failure, account remains active")
		return nil, &CredentialError{AccountID: accountID, Err: fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)}
	}
	if newToken == nil || newToken.AccessToken == "" {
		return nil, &CredentialError{AccountID: accountID, Err: fmt.Errorf("%w: provider returned no access token", ErrRefreshUnavailable)}
	}

	rotated := ""
	if newToken.RefreshToken != "" && newToken.RefreshToken != account.RefreshToken {
		logging.Info(ctx).Str("email", account.Email).Msg("rotating refresh token")
		rotated = newToken.RefreshToken
	}
	if err := s.repo.SaveAccountToken(ctx, accountID, newToken.AccessToken, rotated, newToken.Expiry); err != nil {
		return nil, &CredentialError{AccountID: accountID, Err: fmt.Errorf("%w: save refreshed token: %v", ErrRefreshUnavailable, err)}
	}

	refreshed := &CachedToken{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
		Email:       account.Email,
		Provider:    account.Provider,
	}
	s.put(accountID, refreshed)
	logging.Info(ctx).Str("email", account.Email).Time("expires_at", newToken.Expiry).Msg("refreshed access token")
	return refreshed, nil
}

func (s *Store) put(accountID string, t *CachedToken) {
	s.mu.Lock()
	s.cache[accountID] = t
	s.mu.Unlock()
}

func (s *Store) deactivate(ctx context.Context, account *models.MailboxAccount, reason string) error {
	s.Invalidate(account.ID)
	if err := s.repo.DeactivateAccount(ctx, account.ID, reason); err != nil {
		logging.Error(ctx).Err(err).Msg("failed to deactivate account")
	}
	logging.Warn(ctx).Str("email", account.Email).Str("reason", reason).Msg("account marked inactive, reconnect required")
	if s.onReauth != nil {
		account.IsActive = false
		account.ReauthReason = reason
		s.onReauth(ctx, account, reason)
	}
	return &CredentialError{AccountID: account.ID, Reason: reason, Err: ErrReauthRequired}
}

// RefreshExpiring refreshes every active account whose token expires within lookahead.
// It returns how many accounts were refreshed successfully.
func (s *Store) RefreshExpiring(ctx context.Context, lookahead time.Duration) int {
	accounts, err := s.repo.ListAccountsExpiringBefore(ctx, s.now().Add(lookahead))
	if err != nil {
		logging.Error(ctx).Err(err).Msg("list expiring accounts")
		return 0
	}
	refreshed := 0
	for _, acc := range accounts {
		if _, err := s.refresh(ctx, acc.ID, lookahead); err != nil {
			logging.Warn(logging.WithAccount(ctx, acc.ID)).Err(err).Msg("proactive refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed
}

// StartRefreshLoop refreshes soon-to-expire tokens every interval until ctx is done.
func (s *Store) StartRefreshLoop(ctx context.Context, interval, lookahead time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if lookahead <= 0 {
		lookahead = 20 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RefreshExpiring(ctx, lookahead)
			}
		}
	}()
	logging.Info(ctx).Dur("interval", interval).Dur("lookahead", lookahead).Msg("token refresh loop started")
}
