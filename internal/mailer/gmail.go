package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/util"
)

// GmailBaseURL is the Gmail API host.
const GmailBaseURL = "https://gmail.googleapis.com"

// Gmail sends raw RFC 5322 messages through the Gmail API.
type Gmail struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewGmail creates a Gmail sender. A nil client uses http.DefaultClient.
func NewGmail(client *http.Client) *Gmail {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gmail{client: client, baseURL: GmailBaseURL, now: time.Now}
}

// WithBaseURL points the sender at another host, mostly for tests.
func (g *Gmail) WithBaseURL(u string) *Gmail {
	g.baseURL = u
	return g
}

func (g *Gmail) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	text, err := HTMLToText(req.HTML)
	if err != nil {
		return SendResult{}, &PermanentError{Reason: fmt.Sprintf("render text body: %v", err)}
	}
	if req.PreviewText != "" && text != "" {
		text = req.PreviewText + "\n\n" + text
	}

	messageID := MessageIDFor(req.IdempotencyKey, req.Account.Email)
	raw, err := BuildMIME(Message{
		From:      mail.Address{Address: req.Account.Email},
		To:        mail.Address{Name: req.Lead.FullName(), Address: req.Lead.Email},
		Subject:   req.Subject,
		HTML:      req.HTML,
		Text:      text,
		MessageID: messageID,
		Dispatch:  req.IdempotencyKey,
		Date:      g.now(),
	})
	if err != nil {
		return SendResult{}, &PermanentError{Reason: fmt.Sprintf("build message: %v", err)}
	}

	payload, err := json.Marshal(map[string]string{"raw": base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return SendResult{}, &PermanentError{Reason: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(payload))
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
		logging.Warn(ctx).Int("status", resp.StatusCode).Str("body", util.TruncateBytes(body)).Msg("gmail send failed")
		return SendResult{}, err
	}

	var sent struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		// The message went out; only the ids are lost.
		logging.Warn(ctx).Err(err).Msg("gmail send response not decodable")
	}
	return SendResult{ProviderMessageID: sent.ID, ThreadID: sent.ThreadID, MessageID: messageID, Text: text}, nil
}
