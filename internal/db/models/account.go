package models

import "time"

// Provider identifies the OAuth mailbox provider of an account.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// MailboxAccount stores OAuth identity, tokens and the daily send counter of a connected mailbox.
type MailboxAccount struct {
	ID              string    `gorm:"primaryKey" json:"id"` // UUID
	UserID          string    `gorm:"uniqueIndex:idx_user_email;not null" json:"user_id"`
	Email           string    `gorm:"uniqueIndex:idx_user_email;not null" json:"email"`
	Provider        string    `gorm:"not null" json:"provider"` // "gmail" or "outlook"
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"` // empty when the provider never issued one
	TokenExpiry     time.Time `json:"token_expiry"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	IsPrimary       bool      `gorm:"default:false" json:"is_primary"`
	ReauthReason    string    `json:"reauth_reason,omitempty"`
	DailySendLimit  int       `gorm:"not null;default:100" json:"daily_send_limit"`
	EmailsSentToday int       `gorm:"not null;default:0" json:"emails_sent_today"`
	LastResetDate   string    `gorm:"size:10" json:"last_reset_date"` // YYYY-MM-DD in quota bookkeeping time
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
