package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/pysugar/outreach-nexus/internal/logging"
)

// Telegram posts notices to a chat.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
}

// NewTelegram creates a Telegram notifier. The token is not verified against the API at startup.
func NewTelegram(token string, chatID int64, opts ...bot.Option) (*Telegram, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notice) {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      FormatHTML(n),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		logging.Error(ctx).Err(err).Str("kind", string(n.Kind)).Msg("telegram notice failed")
	}
}

var kindTitles = map[Kind]string{
	KindReauthRequired:   "Reconnect mailbox",
	KindConfigError:      "Campaign misconfigured",
	KindPermanentFailure: "Email could not be delivered",
	KindManualReview:     "Lead needs review",
	KindCampaignComplete: "Campaign completed",
}

// FormatHTML renders a notice for Telegram's HTML parse mode.
func FormatHTML(n Notice) string {
	title, ok := kindTitles[n.Kind]
	if !ok {
		title = string(n.Kind)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(n.Message))
	for _, f := range []struct{ k, v string }{
		{"campaign", n.CampaignID},
		{"account", n.AccountID},
		{"lead", n.LeadID},
	} {
		if f.v != "" {
			fmt.Fprintf(&b, "\n%s: <code>%s</code>", f.k, html.EscapeString(f.v))
		}
	}
	return b.String()
}
