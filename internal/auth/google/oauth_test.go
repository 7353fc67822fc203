package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("refresh_token") {
		case "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		default:
			_, _ = w.Write([]byte(`{"access_token":"ya29.new","token_type":"Bearer","expires_in":3599}`))
		}
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ya29.new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"emailAddress":"owner@gmail.com","messagesTotal":12}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(srv *httptest.Server) *Provider {
	return NewProvider(Config{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb"}).
		WithEndpoints(oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}, srv.URL+"/profile")
}

func TestRefreshAndProfile(t *testing.T) {
	srv := newTestServer(t)
	p := testProvider(srv)

	tok, err := p.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.new", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)

	email, err := p.MailboxAddress(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "owner@gmail.com", email)
}

func TestRefreshRevoked(t *testing.T) {
	p := testProvider(newTestServer(t))

	_, err := p.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestAuthCodeURLRequestsOfflineAccess(t *testing.T) {
	p := NewProvider(Config{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb"})
	u, err := url.Parse(p.AuthCodeURL("state-1"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "gmail.send")
	assert.Equal(t, "gmail", p.Name())
}

func TestConfigured(t *testing.T) {
	assert.False(t, Config{}.Configured())
	assert.True(t, Config{ClientID: "a", ClientSecret: "b"}.Configured())
}
