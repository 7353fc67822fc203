// Package logging provides the process logger and context propagation of dispatch identifiers.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	dispatchIDKey contextKey = "dispatchId"
	campaignIDKey contextKey = "campaignId"
	accountIDKey  contextKey = "accountId"
	leadIDKey     contextKey = "leadId"
)

// GenerateDispatchID creates an 8-character hex dispatch ID.
func GenerateDispatchID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithDispatchID injects a dispatch ID into the context.
func WithDispatchID(ctx context.Context, dispatchID string) context.Context {
	return context.WithValue(ctx, dispatchIDKey, dispatchID)
}

// GetDispatchID retrieves the dispatch ID from the context.
// Returns empty string if not found.
func GetDispatchID(ctx context.Context) string {
	return stringValue(ctx, dispatchIDKey)
}

// WithCampaign adds the campaign id to the context.
func WithCampaign(ctx context.Context, campaignID string) context.Context {
	return context.WithValue(ctx, campaignIDKey, campaignID)
}

// WithAccount adds the mailbox account id to the context.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// WithLead adds the lead id to the context.
func WithLead(ctx context.Context, leadID string) context.Context {
	return context.WithValue(ctx, leadIDKey, leadID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// appendContextFields adds defined fields in the context to the log event.
func appendContextFields(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return event
	}
	if id := stringValue(ctx, dispatchIDKey); id != "" {
		event.Str("dispatch", id)
	}
	if id := stringValue(ctx, campaignIDKey); id != "" {
		event.Str("campaign", id)
	}
	if id := stringValue(ctx, accountIDKey); id != "" {
		event.Str("account", id)
	}
	if id := stringValue(ctx, leadIDKey); id != "" {
		event.Str("lead", id)
	}
	return event
}
