package db

import (
	"context"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
)

// GetCampaign loads a campaign by id.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

// ListCampaignIDsByStatus returns the ids of campaigns in the given status.
func (r *Repository) ListCampaignIDsByStatus(ctx context.Context, status models.CampaignStatus) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("status = ?", status).Order("created_at").Pluck("id", &ids).Error
	return ids, err
}

// ListCampaignIDsByAccount returns the ids of campaigns assigned to a mailbox account.
func (r *Repository) ListCampaignIDsByAccount(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("email_account_id = ?", accountID).Pluck("id", &ids).Error
	return ids, err
}

// SetCampaignStatus changes the lifecycle status of a campaign.
func (r *Repository) SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCampaignDispatched records the instant of the latest dispatch, which gates send frequency.
func (r *Repository) MarkCampaignDispatched(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Update("last_dispatch_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTemplate loads the template of a campaign.
func (r *Repository) GetTemplate(ctx context.Context, campaignID string) (*models.EmailTemplate, error) {
	var template models.EmailTemplate
	if err := r.db.WithContext(ctx).First(&template, "campaign_id = ?", campaignID).Error; err != nil {
		return nil, translate(err)
	}
	return &template, nil
}
