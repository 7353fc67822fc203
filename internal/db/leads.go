package db

import (
	"context"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"gorm.io/gorm"
)

var dispatchableStatuses = []models.LeadStatus{models.LeadNew, models.LeadScheduled}

// GetLead loads a lead by id.
func (r *Repository) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	var lead models.Lead
	if err := r.db.WithContext(ctx).First(&lead, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

// NextEligibleLead returns the oldest lead of a campaign that still awaits its email.
// Leads flagged for manual review are skipped. Returns ErrNotFound when none is left.
func (r *Repository) NextEligibleLead(ctx context.Context, campaignID string) (*models.Lead, error) {
	var lead models.Lead
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status IN ? AND needs_review = ?", campaignID, dispatchableStatuses, false).
		Order("created_at, id").
		First(&lead).Error
	if err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

// CountOpenLeads counts leads that are still dispatchable and those parked for review.
func (r *Repository) CountOpenLeads(ctx context.Context, campaignID string) (pending, review int64, err error) {
	base := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("campaign_id = ? AND status IN ?", campaignID, dispatchableStatuses)
	if err = base.Session(&gorm.Session{}).Where("needs_review = ?", false).Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	if err = base.Session(&gorm.Session{}).Where("needs_review = ?", true).Count(&review).Error; err != nil {
		return 0, 0, err
	}
	return pending, review, nil
}

// ListLeadIDsByStatus returns the lead ids of a campaign in the given status, oldest first.
func (r *Repository) ListLeadIDsByStatus(ctx context.Context, campaignID string, status models.LeadStatus) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("campaign_id = ? AND status = ?", campaignID, status).
		Order("created_at, id").Pluck("id", &ids).Error
	return ids, err
}

// UpdateLeadStatus applies a status change if the lead is still at version.
// A non-empty note is stored as the lead's last error.
func (r *Repository) UpdateLeadStatus(ctx context.Context, id string, version int, status, furthest models.LeadStatus, note string) error {
	updates := map[string]interface{}{
		"status":         status,
		"furthest_stage": furthest,
		"version":        gorm.Expr("version + ?", 1),
	}
	if note != "" {
		updates["last_error"] = note
	}
	res := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// RecordDispatchFailure bumps the attempt counter of a lead after a transient send failure,
// flagging it for manual review once maxAttempts is reached. The status is left unchanged.
func (r *Repository) RecordDispatchFailure(ctx context.Context, id, reason string, maxAttempts int) (attempts int, needsReview bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Lead{}).Where("id = ?", id).Updates(map[string]interface{}{
			"dispatch_attempts": gorm.Expr("dispatch_attempts + ?", 1),
			"last_error":        reason,
			"version":           gorm.Expr("version + ?", 1),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var lead models.Lead
		if err := tx.Select("id", "dispatch_attempts").First(&lead, "id = ?", id).Error; err != nil {
			return err
		}
		attempts = lead.DispatchAttempts
		if attempts >= maxAttempts {
			needsReview = true
			return tx.Model(&models.Lead{}).Where("id = ?", id).Update("needs_review", true).Error
		}
		return nil
	})
	return attempts, needsReview, translate(err)
}

// ClearReview puts a reviewed lead back into the dispatch queue. The attempt counter keeps
// counting, so each retry still gets a new dispatch key.
func (r *Repository) ClearReview(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Updates(map[string]interface{}{
		"needs_review": false,
		"version":      gorm.Expr("version + ?", 1),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
