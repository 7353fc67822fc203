// Package mailer sends campaign emails through mailbox provider APIs.
package mailer

import (
	"context"
	"fmt"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/version"
)

// UserAgent identifies the daemon to mailbox provider APIs.
var UserAgent = "outreach-nexus/" + version.Version

// SendRequest is one email to one lead.
type SendRequest struct {
	Token          string
	Account        *models.MailboxAccount
	Lead           *models.Lead
	Subject        string
	HTML           string
	PreviewText    string
	IdempotencyKey string
}

// SendResult identifies the sent message at the provider.
type SendResult struct {
	ProviderMessageID string
	ThreadID          string
	MessageID         string // RFC 5322 Message-ID without angle brackets
	Text              string // text/plain alternative that was sent
}

// Sender delivers a message. Errors are *TransientError or *PermanentError.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Router dispatches to the sender registered for the account's provider.
type Router map[string]Sender

func (r Router) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.Account == nil {
		return SendResult{}, &PermanentError{Reason: "no sending account"}
	}
	s, ok := r[req.Account.Provider]
	if !ok {
		return SendResult{}, &PermanentError{Reason: fmt.Sprintf("no sender for provider %q", req.Account.Provider)}
	}
	return s.Send(ctx, req)
}
