// Package notify surfaces conditions that need a user's attention.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pysugar/outreach-nexus/internal/logging"
)

// Kind classifies a notice.
type Kind string

const (
	KindReauthRequired   Kind = "reauth_required"
	KindConfigError      Kind = "config_error"
	KindPermanentFailure Kind = "permanent_failure"
	KindManualReview     Kind = "manual_review"
	KindCampaignComplete Kind = "campaign_completed"
)

// Notice is one user-facing message.
type Notice struct {
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	AccountID  string    `json:"account_id,omitempty"`
	LeadID     string    `json:"lead_id,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Notifier delivers notices. Delivery failures are logged, never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

// Log writes notices to the structured log.
type Log struct{}

func (Log) Notify(ctx context.Context, n Notice) {
	logging.Warn(ctx).
		Str("kind", string(n.Kind)).
		Str("user", n.UserID).
		Str("notice_campaign", n.CampaignID).
		Str("notice_account", n.AccountID).
		Str("notice_lead", n.LeadID).
		Msg(n.Message)
}

// Recorder keeps the most recent notices in memory for the ops API.
type Recorder struct {
	max     int
	mu      sync.RWMutex
	notices []Notice
}

// NewRecorder keeps up to max notices; 0 means 200.
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 200
	}
	return &Recorder{max: max}
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if over := len(r.notices) - r.max; over > 0 {
		r.notices = append([]Notice(nil), r.notices[over:]...)
	}
}

// List returns notices newest first, filtered by user when userID is not empty.
func (r *Recorder) List(userID string) []Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notice, 0, len(r.notices))
	for i := len(r.notices) - 1; i >= 0; i-- {
		if userID == "" || r.notices[i].UserID == userID {
			out = append(out, r.notices[i])
		}
	}
	return out
}
