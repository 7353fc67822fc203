package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&MailboxAccount{},
		&Campaign{},
		&EmailTemplate{},
		&Lead{},
		&EmailMessage{},
	}
}

func (a *MailboxAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	return nil
}

func (t *EmailTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = LeadNew
	}
	if l.FurthestStage == "" {
		l.FurthestStage = l.Status
	}
	if l.Version == 0 {
		l.Version = 1
	}
	return nil
}

func (m *EmailMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
