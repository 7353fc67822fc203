// Package microsoft implements the Outlook flavor of the mailbox OAuth provider.
package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/util"
	"golang.org/x/oauth2"
	msOAuth "golang.org/x/oauth2/microsoft"
)

// MeURL is the Graph endpoint describing the signed-in user.
const MeURL = "https://graph.microsoft.com/v1.0/me"

// Scopes needed to send and track mail. offline_access makes Azure AD issue a refresh token.
var Scopes = []string{
	"https://graph.microsoft.com/Mail.Send",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"offline_access",
}

// Config holds the Azure AD app registration.
type Config struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
	Tenant       string `yaml:"tenant" env:"TENANT"`
}

// Configured reports whether client credentials are present.
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// GetOAuthConfig returns the OAuth2 config for the tenant, "common" when unset.
func GetOAuthConfig(cfg Config) *oauth2.Config {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     msOAuth.AzureADEndpoint(tenant),
	}
}

// Provider refreshes Outlook tokens and drives the connect flow.
//
// Azure AD rotates the refresh token on every use, so the rotated token returned by Refresh
// must be persisted before the next refresh.
type Provider struct {
	oauth *oauth2.Config
	meURL string
}

// NewProvider creates an Outlook provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{oauth: GetOAuthConfig(cfg), meURL: MeURL}
}

// WithEndpoints overrides the token and profile endpoints, mostly for tests.
func (p *Provider) WithEndpoints(endpoint oauth2.Endpoint, meURL string) *Provider {
	p.oauth.Endpoint = endpoint
	p.meURL = meURL
	return p
}

func (p *Provider) Name() string { return models.ProviderOutlook }

// AuthCodeURL builds the consent URL.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(ctx, code)
}

// Refresh mints a new access token from refreshToken.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// MailboxAddress looks up the address the token belongs to. Work accounts without a mailbox
// property fall back to the user principal name.
func (p *Provider) MailboxAddress(ctx context.Context, tok *oauth2.Token) (string, error) {
	client := p.oauth.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.meURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph me: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("graph me: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("graph me: status %d: %s", resp.StatusCode, util.TruncateBytes(body))
	}

	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", fmt.Errorf("graph me: %w", err)
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	if me.UserPrincipalName != "" {
		return me.UserPrincipalName, nil
	}
	return "", fmt.Errorf("graph me: no mailbox address")
}
