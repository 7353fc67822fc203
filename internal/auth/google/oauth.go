// Package google implements the Gmail flavor of the mailbox OAuth provider.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/util"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// ProfileURL returns the mailbox address of the authorized Gmail user.
const ProfileURL = "https://gmail.googleapis.com/gmail/v1/users/me/profile"

// Scopes needed to send and track mail.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// Configured reports whether client credentials are present.
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// GetOAuthConfig returns the OAuth2 config for Google authentication.
func GetOAuthConfig(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     googleOAuth.Endpoint,
	}
}

// Provider refreshes Gmail tokens and drives the connect flow.
type Provider struct {
	oauth      *oauth2.Config
	profileURL string
}

// NewProvider creates a Gmail provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{oauth: GetOAuthConfig(cfg), profileURL: ProfileURL}
}

// WithEndpoints overrides the token and profile endpoints, mostly for tests.
func (p *Provider) WithEndpoints(endpoint oauth2.Endpoint, profileURL string) *Provider {
	p.oauth.Endpoint = endpoint
	p.profileURL = profileURL
	return p
}

func (p *Provider) Name() string { return models.ProviderGmail }

// AuthCodeURL builds the consent URL. Offline access with forced consent makes Google
// issue a refresh token on every connect.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(ctx, code)
}

// Refresh mints a new access token from refreshToken.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// MailboxAddress looks up the address the token belongs to.
func (p *Provider) MailboxAddress(ctx context.Context, tok *oauth2.Token) (string, error) {
	client := p.oauth.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gmail profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gmail profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gmail profile: status %d: %s", resp.StatusCode, util.TruncateBytes(body))
	}

	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", fmt.Errorf("gmail profile: %w", err)
	}
	if profile.EmailAddress == "" {
		return "", fmt.Errorf("gmail profile: no email address")
	}
	return profile.EmailAddress, nil
}
