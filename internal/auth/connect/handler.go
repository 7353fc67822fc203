// Package connect implements the OAuth flow that connects or reconnects a mailbox account.
package connect

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"golang.org/x/oauth2"
)

// Provider is one OAuth mailbox provider as seen by the connect flow.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	MailboxAddress(ctx context.Context, tok *oauth2.Token) (string, error)
}

// AccountStore persists connected accounts keyed by (user, email).
type AccountStore interface {
	UpsertConnectedAccount(ctx context.Context, account *models.MailboxAccount) (*models.MailboxAccount, error)
}

// Handler serves /auth/{provider}/login and /auth/{provider}/callback.
type Handler struct {
	providers    map[string]Provider
	accounts     AccountStore
	states       *StateStore
	successURL   string
	defaultLimit int

	// OnConnected runs after an account was stored, e.g. to drop cached tokens and wake
	// campaigns that were blocked on a reconnect.
	OnConnected func(ctx context.Context, account *models.MailboxAccount)
}

// NewHandler creates a connect handler. successURL may be empty, in which case a small HTML
// page confirms the connection.
func NewHandler(accounts AccountStore, states *StateStore, successURL string, defaultLimit int, providers ...Provider) *Handler {
	h := &Handler{
		providers:    make(map[string]Provider, len(providers)),
		accounts:     accounts,
		states:       states,
		successURL:   successURL,
		defaultLimit: defaultLimit,
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
	}
	return h
}

// Routes mounts the flow on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/auth/{provider}/login", h.HandleLogin)
	r.Get("/auth/{provider}/callback", h.HandleCallback)
}

// HandleLogin redirects to the provider's consent page.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	state, err := h.states.Issue(userID, provider.Name())
	if err != nil {
		http.Error(w, "failed to create state", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback exchanges the code, resolves the mailbox address and stores the account.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")
	provider, ok := h.providers[name]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		logging.Warn(ctx).Str("provider", name).Str("error", e).Msg("oauth consent rejected")
		h.fail(w, r, e, http.StatusBadRequest)
		return
	}
	login, ok := h.states.Consume(q.Get("state"), name)
	if !ok {
		h.fail(w, r, "invalid_state", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.fail(w, r, "no_code", http.StatusBadRequest)
		return
	}

	tok, err := provider.Exchange(ctx, code)
	if err != nil {
		logging.Error(ctx).Err(err).Str("provider", name).Msg("token exchange failed")
		h.fail(w, r, "token_exchange_failed", http.StatusBadGateway)
		return
	}
	email, err := provider.MailboxAddress(ctx, tok)
	if err != nil {
		logging.Error(ctx).Err(err).Str("provider", name).Msg("mailbox lookup failed")
		h.fail(w, r, "profile_fetch_failed", http.StatusBadGateway)
		return
	}

	account, err := h.accounts.UpsertConnectedAccount(ctx, &models.MailboxAccount{
		UserID:         login.UserID,
		Email:          email,
		Provider:       name,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiry:    tok.Expiry,
		DailySendLimit: h.defaultLimit,
	})
	if err != nil {
		logging.Error(ctx).Err(err).Str("email", email).Msg("failed to store account")
		h.fail(w, r, "db_error", http.StatusInternalServerError)
		return
	}

	ctx = logging.WithAccount(ctx, account.ID)
	logging.Info(ctx).Str("email", email).Str("provider", name).Bool("has_refresh_token", tok.RefreshToken != "").
		Msg("mailbox account connected")
	if h.OnConnected != nil {
		h.OnConnected(ctx, account)
	}

	if h.successURL != "" {
		http.Redirect(w, r, withParam(h.successURL, "success", name+"_connected"), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Mailbox Connected</title></head>
<body>
	<h1>Mailbox connected</h1>
	<p><strong>Email:</strong> %s</p>
	<p><strong>Provider:</strong> %s</p>
</body>
</html>`, html.EscapeString(email), html.EscapeString(name))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, reason string, status int) {
	if h.successURL != "" {
		http.Redirect(w, r, withParam(h.successURL, "error", reason), http.StatusFound)
		return
	}
	http.Error(w, reason, status)
}

func withParam(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
