package models

import "time"

// LeadStatus is a state of the lead lifecycle.
type LeadStatus string

const (
	LeadNew       LeadStatus = "lead"
	LeadScheduled LeadStatus = "scheduled"
	LeadSent      LeadStatus = "sent"
	LeadOpened    LeadStatus = "opened"
	LeadReplied   LeadStatus = "replied"
	LeadWon       LeadStatus = "won"
	LeadLost      LeadStatus = "lost"
)

// Terminal reports whether no further progression is possible.
func (s LeadStatus) Terminal() bool {
	return s == LeadWon || s == LeadLost
}

// Lead is one contact of a campaign.
type Lead struct {
	ID         string   `gorm:"primaryKey" json:"id"`
	UserID     string   `gorm:"index;not null" json:"user_id"`
	CampaignID string   `gorm:"index:idx_lead_queue,priority:1;not null" json:"campaign_id"`
	Email      string   `gorm:"not null" json:"email"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Company    string   `json:"company"`
	Notes      string   `gorm:"type:text" json:"notes"`
	Tags       []string `gorm:"serializer:json" json:"tags"`

	Status        LeadStatus `gorm:"index:idx_lead_queue,priority:2;not null;default:lead" json:"status"`
	FurthestStage LeadStatus `gorm:"not null;default:lead" json:"furthest_stage"` // highest progression stage ever reached

	DispatchAttempts int    `gorm:"not null;default:0" json:"dispatch_attempts"`
	NeedsReview      bool   `gorm:"not null;default:false" json:"needs_review"`
	LastError        string `json:"last_error,omitempty"`
	Version          int    `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `gorm:"index:idx_lead_queue,priority:3" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}
