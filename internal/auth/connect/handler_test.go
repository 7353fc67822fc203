package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProvider struct {
	email string
}

func (p *fakeProvider) Name() string { return models.ProviderGmail }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) MailboxAddress(ctx context.Context, tok *oauth2.Token) (string, error) {
	return p.email, nil
}

func setup(t *testing.T, successURL string) (*db.Repository, *Handler, http.Handler) {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	repo := db.NewRepository(gdb)

	h := NewHandler(repo, NewStateStore(time.Minute), successURL, 50, &fakeProvider{email: "owner@gmail.com"})
	r := chi.NewRouter()
	h.Routes(r)
	return repo, h, r
}

func login(t *testing.T, router http.Handler, path string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestConnectFlowStoresAccount(t *testing.T) {
	repo, h, router := setup(t, "")
	var connected *models.MailboxAccount
	h.OnConnected = func(ctx context.Context, account *models.MailboxAccount) { connected = account }

	state := login(t, router, "/auth/gmail/login?user_id=user-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/callback?code=abc&state="+state, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner@gmail.com")

	require.NotNil(t, connected)
	stored, err := repo.GetAccount(context.Background(), connected.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "access-abc", stored.AccessToken)
	assert.Equal(t, "refresh-abc", stored.RefreshToken)
	assert.Equal(t, 50, stored.DailySendLimit)
	assert.True(t, stored.IsActive)
	assert.True(t, stored.IsPrimary)

	// The state token is single-use.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/callback?code=abc&state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconnectReactivatesAccount(t *testing.T) {
	repo, _, router := setup(t, "https://app.example.com/settings")

	state := login(t, router, "/auth/gmail/login?user_id=user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/callback?code=one&state="+state, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.com/settings?success=gmail_connected", rec.Header().Get("Location"))

	accounts, err := repo.ListActiveAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.NoError(t, repo.DeactivateAccount(context.Background(), accounts[0].ID, "invalid_grant"))

	state = login(t, router, "/auth/gmail/login?user_id=user-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/callback?code=two&state="+state, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	stored, err := repo.GetAccount(context.Background(), accounts[0].ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Empty(t, stored.ReauthReason)
	assert.Equal(t, "refresh-two", stored.RefreshToken)
}

func TestLoginValidation(t *testing.T) {
	_, _, router := setup(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/yahoo/login?user_id=u", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/login", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackConsentDenied(t *testing.T) {
	_, _, router := setup(t, "https://app.example.com/settings")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/gmail/callback?error=access_denied", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=access_denied")
}

func TestStateStoreExpiryAndProviderBinding(t *testing.T) {
	s := NewStateStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	state, err := s.Issue("user-1", "gmail")
	require.NoError(t, err)
	_, ok := s.Consume(state, "outlook")
	assert.False(t, ok, "state bound to another provider")

	state, err = s.Issue("user-1", "gmail")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, ok = s.Consume(state, "gmail")
	assert.False(t, ok, "expired state")
}
