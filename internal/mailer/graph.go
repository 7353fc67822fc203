package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/util"
)

// GraphBaseURL is the Microsoft Graph host.
const GraphBaseURL = "https://graph.microsoft.com"

// Graph sends mail through Microsoft Graph sendMail.
type Graph struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewGraph creates a Graph sender. A nil client uses http.DefaultClient.
func NewGraph(client *http.Client) *Graph {
	if client == nil {
		client = http.DefaultClient
	}
	return &Graph{client: client, baseURL: GraphBaseURL, now: time.Now}
}

// WithBaseURL points the sender at another host, mostly for tests.
func (g *Graph) WithBaseURL(u string) *Graph {
	g.baseURL = u
	return g
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients           []graphRecipient `json:"toRecipients"`
	InternetMessageHeaders []graphHeader    `json:"internetMessageHeaders,omitempty"`
}

func (g *Graph) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	var msg graphMessage
	msg.Subject = req.Subject
	msg.Body.ContentType = "HTML"
	msg.Body.Content = req.HTML
	var to graphRecipient
	to.EmailAddress.Address = req.Lead.Email
	to.EmailAddress.Name = req.Lead.FullName()
	msg.ToRecipients = []graphRecipient{to}
	if req.IdempotencyKey != "" {
		msg.InternetMessageHeaders = []graphHeader{{Name: DispatchHeader, Value: req.IdempotencyKey}}
	}

	payload, err := json.Marshal(map[string]interface{}{"message": msg, "saveToSentItems": true})
	if err != nil {
		return SendResult{}, &PermanentError{Reason: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1.0/me/sendMail", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, &PermanentError{Reason: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return SendResult{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{}, &TransientError{StatusCode: resp.StatusCode, Ambiguous: true, Err: err}
	}
	if err := classifyResponse(resp, body, g.now()); err != nil {
		logging.Warn(ctx).Int("status", resp.StatusCode).Str("body", util.TruncateBytes(body)).Msg("graph sendMail failed")
		return SendResult{}, err
	}
	if resp.StatusCode != http.StatusAccepted {
		logging.Debug(ctx).Int("status", resp.StatusCode).Msg("graph sendMail returned unexpected success status")
	}

	text, _ := HTMLToText(req.HTML)
	// sendMail returns no identifiers; the request id is the only handle Graph gives back.
	return SendResult{ProviderMessageID: resp.Header.Get("request-id"), Text: text}, nil
}
