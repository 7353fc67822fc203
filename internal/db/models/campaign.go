package models

import "time"

// CampaignStatus is the user-controlled lifecycle of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign holds the sending window and the assigned mailbox of one outreach campaign.
type Campaign struct {
	ID                   string         `gorm:"primaryKey" json:"id"`
	UserID               string         `gorm:"index;not null" json:"user_id"`
	Name                 string         `json:"name"`
	EmailAccountID       *string        `gorm:"index" json:"email_account_id"`
	SendFrequencyMinutes int            `gorm:"not null;default:60" json:"send_frequency_minutes"`
	SendStartHour        int            `gorm:"not null;default:9" json:"send_start_hour"`
	SendEndHour          int            `gorm:"not null;default:17" json:"send_end_hour"`
	Days                 []string       `gorm:"serializer:json" json:"days"`
	Timezone             string         `gorm:"default:UTC" json:"timezone"`
	Status               CampaignStatus `gorm:"index;default:draft" json:"status"`
	LastDispatchAt       *time.Time     `json:"last_dispatch_at"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// EmailTemplate is the subject and body sent to every lead of a campaign.
type EmailTemplate struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"index;not null" json:"user_id"`
	CampaignID  string    `gorm:"uniqueIndex;not null" json:"campaign_id"`
	Name        string    `json:"name"`
	Subject     string    `gorm:"not null" json:"subject"`
	Content     string    `gorm:"type:text;not null" json:"content"` // HTML
	PreviewText string    `json:"preview_text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
