package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(provider string) SendRequest {
	return SendRequest{
		Token:          "access-token",
		Account:        &models.MailboxAccount{ID: "acc-1", Email: "sender@example.com", Provider: provider},
		Lead:           &models.Lead{ID: "lead-1", Email: "jane@acme.test", FirstName: "Jane", LastName: "Doe"},
		Subject:        "Quick question",
		HTML:           `<p>Hi Jane,</p><p>See <a href="https://example.com/demo">our demo</a>.</p>`,
		IdempotencyKey: "camp-1:lead-1:0",
	}
}

func TestGmailSendBuildsRawMessage(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		var body struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var err error
		raw, err = base64.URLEncoding.DecodeString(body.Raw)
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"id":"18c1","threadId":"18c0","labelIds":["SENT"]}`))
	}))
	defer srv.Close()

	res, err := NewGmail(srv.Client()).WithBaseURL(srv.URL).Send(context.Background(), testRequest(models.ProviderGmail))
	require.NoError(t, err)
	assert.Equal(t, "18c1", res.ProviderMessageID)
	assert.Equal(t, "18c0", res.ThreadID)
	assert.Equal(t, "camp-1.lead-1.0@example.com", res.MessageID)
	assert.Contains(t, res.Text, "our demo [https://example.com/demo]")

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quick question", subject)
	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.Equal(t, res.MessageID, id)
	assert.Equal(t, "camp-1:lead-1:0", mr.Header.Get(DispatchHeader))
	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "jane@acme.test", to[0].Address)

	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ct, _, _ := p.Header.(*mail.InlineHeader).ContentType()
		types = append(types, ct)
	}
	assert.Equal(t, []string{"text/plain", "text/html"}, types)
}

func TestGmailSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		header       map[string]string
		body         string
		transient    bool
		unauthorized bool
		retryAfter   time.Duration
	}{
		{name: "rate limited", status: 429, header: map[string]string{"Retry-After": "30"}, body: `{}`, transient: true, retryAfter: 30 * time.Second},
		{name: "server error", status: 503, body: `{"error":{"code":503,"message":"Backend Error"}}`, transient: true},
		{name: "expired token", status: 401, body: `{"error":{"code":401,"message":"Invalid Credentials"}}`, transient: true, unauthorized: true},
		{
			name: "user rate limit", status: 403, transient: true, retryAfter: 2500 * time.Millisecond,
			body: `{"error":{"code":403,"errors":[{"reason":"userRateLimitExceeded"}],"details":[{"retryDelay":"2.5s"}]}}`,
		},
		{name: "invalid recipient", status: 400, body: `{"error":{"code":400,"message":"Invalid To header"}}`},
		{name: "forbidden", status: 403, body: `{"error":{"code":403,"errors":[{"reason":"insufficientPermissions"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewGmail(srv.Client()).WithBaseURL(srv.URL).Send(context.Background(), testRequest(models.ProviderGmail))
			require.Error(t, err)
			if tt.transient {
				te, ok := AsTransient(err)
				require.True(t, ok, "want transient, got %v", err)
				assert.Equal(t, tt.status, te.StatusCode)
				assert.Equal(t, tt.retryAfter, te.RetryAfter)
				assert.False(t, te.Ambiguous)
				assert.Equal(t, tt.unauthorized, te.Unauthorized)
				return
			}
			pe, ok := AsPermanent(err)
			require.True(t, ok, "want permanent, got %v", err)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestTransportErrorBeforeConnectIsNotAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGmail(&http.Client{Timeout: time.Second}).WithBaseURL(url).Send(context.Background(), testRequest(models.ProviderGmail))
	te, ok := AsTransient(err)
	require.True(t, ok)
	assert.False(t, te.Ambiguous)
}

func TestGraphSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/me/sendMail", r.URL.Path)
		var body struct {
			Message struct {
				Subject      string `json:"subject"`
				ToRecipients []struct {
					EmailAddress struct {
						Address string `json:"address"`
					} `json:"emailAddress"`
				} `json:"toRecipients"`
				InternetMessageHeaders []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"internetMessageHeaders"`
			} `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Quick question", body.Message.Subject)
		assert.Equal(t, "jane@acme.test", body.Message.ToRecipients[0].EmailAddress.Address)
		assert.Equal(t, DispatchHeader, body.Message.InternetMessageHeaders[0].Name)
		assert.Equal(t, "camp-1:lead-1:0", body.Message.InternetMessageHeaders[0].Value)
		w.Header().Set("request-id", "req-42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	res, err := NewGraph(srv.Client()).WithBaseURL(srv.URL).Send(context.Background(), testRequest(models.ProviderOutlook))
	require.NoError(t, err)
	assert.Equal(t, "req-42", res.ProviderMessageID)
}

func TestGraphThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"ErrorExceededMessageLimit","message":"Cannot send mail"}}`))
	}))
	defer srv.Close()

	_, err := NewGraph(srv.Client()).WithBaseURL(srv.URL).Send(context.Background(), testRequest(models.ProviderOutlook))
	_, ok := AsTransient(err)
	assert.True(t, ok)
}

type stubSender struct{ name string }

func (s stubSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	return SendResult{ProviderMessageID: s.name}, nil
}

func TestRouter(t *testing.T) {
	r := Router{models.ProviderGmail: stubSender{"g"}, models.ProviderOutlook: stubSender{"o"}}

	res, err := r.Send(context.Background(), testRequest(models.ProviderOutlook))
	require.NoError(t, err)
	assert.Equal(t, "o", res.ProviderMessageID)

	_, err = r.Send(context.Background(), testRequest("yahoo"))
	_, ok := AsPermanent(err)
	assert.True(t, ok)
}

func TestParseRetryDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 90*time.Second, ParseRetryDelay(h, nil, now))

	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.ErrorInfo","metadata":{"retryDelay":"4s"}}]}}`)
	assert.Equal(t, 4*time.Second, ParseRetryDelay(http.Header{}, body, now))

	assert.Zero(t, ParseRetryDelay(http.Header{}, []byte("not json"), now))
}

func TestHTMLToText(t *testing.T) {
	text, err := HTMLToText(`<html><head><style>p{}</style></head><body><h1>Hello</h1><p>Line&nbsp;one</p><ul><li>a</li><li>b</li></ul><script>x()</script></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nLine one\na\nb", text)

	empty, err := HTMLToText("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageIDFor(t *testing.T) {
	assert.Equal(t, "c.l.2@acme.test", MessageIDFor("c:l:2", "bob@acme.test"))
	assert.Equal(t, "c.l.2@outreach.local", MessageIDFor("c:l:2", "broken"))
}
