package models

import "time"

// Message directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// EmailMessage is an append-only record of one email exchanged with a lead.
type EmailMessage struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"index;not null" json:"user_id"`
	LeadID            string    `gorm:"index;not null" json:"lead_id"`
	CampaignID        string    `gorm:"index;not null" json:"campaign_id"`
	AccountID         string    `json:"account_id"`
	Direction         string    `gorm:"not null" json:"direction"`
	ProviderMessageID string    `json:"provider_message_id"`
	ThreadID          string    `json:"thread_id"`
	IdempotencyKey    *string   `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	Subject           string    `json:"subject"`
	BodyHTML          string    `gorm:"type:text" json:"body_html"`
	BodyText          string    `gorm:"type:text" json:"body_text"`
	SentAt            time.Time `gorm:"index;not null" json:"sent_at"`
	CreatedAt         time.Time `json:"created_at"`
}
