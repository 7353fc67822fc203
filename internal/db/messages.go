package db

import (
	"context"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
)

// CreateMessage appends an email message. Messages are never updated afterwards.
func (r *Repository) CreateMessage(ctx context.Context, msg *models.EmailMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	return translate(r.db.WithContext(ctx).Create(msg).Error)
}

// FindMessageByIdempotencyKey returns the outbound message recorded for a dispatch key.
func (r *Repository) FindMessageByIdempotencyKey(ctx context.Context, key string) (*models.EmailMessage, error) {
	var msg models.EmailMessage
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND direction = ?", key, models.DirectionOutbound).
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}
