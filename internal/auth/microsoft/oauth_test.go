package microsoft

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestRefreshRotatesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"eyJ.new","refresh_token":"rt-2","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{ClientID: "cid", ClientSecret: "secret"}).
		WithEndpoints(oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}, "")

	tok, err := p.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "eyJ.new", tok.AccessToken)
	assert.Equal(t, "rt-2", tok.RefreshToken)
}

func TestMailboxAddressFallsBackToPrincipalName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		_, _ = w.Write([]byte(`{"mail":null,"userPrincipalName":"owner@contoso.com"}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{ClientID: "cid", ClientSecret: "secret"}).WithEndpoints(oauth2.Endpoint{}, srv.URL)
	email, err := p.MailboxAddress(context.Background(), &oauth2.Token{AccessToken: "eyJ.new"})
	require.NoError(t, err)
	assert.Equal(t, "owner@contoso.com", email)
}

func TestMailboxAddressErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied"}}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{}).WithEndpoints(oauth2.Endpoint{}, srv.URL)
	_, err := p.MailboxAddress(context.Background(), &oauth2.Token{AccessToken: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestAuthCodeURLUsesTenant(t *testing.T) {
	p := NewProvider(Config{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb", Tenant: "contoso.onmicrosoft.com"})
	u, err := url.Parse(p.AuthCodeURL("state-2"))
	require.NoError(t, err)

	assert.Equal(t, "/contoso.onmicrosoft.com/oauth2/v2.0/authorize", u.Path)
	assert.Equal(t, "query", u.Query().Get("response_mode"))
	assert.Contains(t, u.Query().Get("scope"), "offline_access")
	assert.Equal(t, "outlook", p.Name())

	common := NewProvider(Config{})
	assert.Contains(t, common.AuthCodeURL("s"), "/common/")
}
