package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"gorm.io/gorm"
)

// GetAccount loads a mailbox account by id.
func (r *Repository) GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error) {
	var account models.MailboxAccount
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// ListActiveAccounts returns all accounts that can currently send.
func (r *Repository) ListActiveAccounts(ctx context.Context) ([]models.MailboxAccount, error) {
	var accounts []models.MailboxAccount
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&accounts).Error
	return accounts, err
}

// ListAccountsExpiringBefore returns active accounts whose access token expires before t.
func (r *Repository) ListAccountsExpiringBefore(ctx context.Context, t time.Time) ([]models.MailboxAccount, error) {
	var accounts []models.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND token_expiry < ?", true, t).
		Find(&accounts).Error
	return accounts, err
}

// SaveAccountToken persists a refreshed access token. An empty refreshToken keeps the stored one.
func (r *Repository) SaveAccountToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token":  accessToken,
		"token_expiry":  expiry,
		"is_active":     true,
		"reauth_reason": "",
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	res := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAccount marks an account as requiring re-authorization.
func (r *Repository) DeactivateAccount(ctx context.Context, id, reason string) error {
	res := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "reauth_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertConnectedAccount stores the result of an OAuth connect, keyed by (user_id, email).
// Reconnecting reactivates the account and keeps its quota bookkeeping.
func (r *Repository) UpsertConnectedAccount(ctx context.Context, account *models.MailboxAccount) (*models.MailboxAccount, error) {
	var stored models.MailboxAccount
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.MailboxAccount
		err := tx.Where("user_id = ? AND email = ?", account.UserID, account.Email).First(&existing).Error
		switch {
		case err == nil:
			existing.Provider = account.Provider
			existing.AccessToken = account.AccessToken
			if account.RefreshToken != "" {
				existing.RefreshToken = account.RefreshToken
			}
			existing.TokenExpiry = account.TokenExpiry
			existing.IsActive = true
			existing.ReauthReason = ""
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			stored = existing
			return nil
		case translate(err) != ErrNotFound:
			return err
		}

		var primaryCount int64
		if err := tx.Model(&models.MailboxAccount{}).
			Where("user_id = ? AND is_primary = ?", account.UserID, true).
			Count(&primaryCount).Error; err != nil {
			return err
		}
		stored = *account
		stored.IsActive = true
		stored.IsPrimary = primaryCount == 0
		if stored.DailySendLimit <= 0 {
			stored.DailySendLimit = 100
		}
		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &stored, nil
}

// SetPrimaryAccount makes accountID the only primary account of userID.
func (r *Repository) SetPrimaryAccount(ctx context.Context, userID, accountID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.MailboxAccount{}).
			Where("id = ? AND user_id = ?", accountID, userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&models.MailboxAccount{}).Where("user_id = ?", userID).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.MailboxAccount{}).Where("id = ?", accountID).
			Update("is_primary", true).Error
	})
}

// ReserveQuota atomically rolls the daily counter over when day is newer than the stored
// reset date and then takes one slot if the account is below its limit.
// It reports the counter after the reservation and whether a slot was taken.
func (r *Repository) ReserveQuota(ctx context.Context, accountID, day string) (sentToday int, ok bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Dates are YYYY-MM-DD, so string order is calendar order.
		if err := tx.Model(&models.MailboxAccount{}).
			Where("id = ? AND (last_reset_date IS NULL OR last_reset_date < ?)", accountID, day).
			UpdateColumns(map[string]interface{}{"emails_sent_today": 0, "last_reset_date": day}).Error; err != nil {
			return fmt.Errorf("quota rollover: %w", err)
		}

		res := tx.Model(&models.MailboxAccount{}).
			Where("id = ? AND emails_sent_today < daily_send_limit", accountID).
			UpdateColumn("emails_sent_today", gorm.Expr("emails_sent_today + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("quota increment: %w", res.Error)
		}
		ok = res.RowsAffected == 1

		var account models.MailboxAccount
		if err := tx.Select("id", "emails_sent_today").First(&account, "id = ?", accountID).Error; err != nil {
			return err
		}
		sentToday = account.EmailsSentToday
		return nil
	})
	return sentToday, ok, translate(err)
}

// ReleaseQuota gives back one slot taken on day. It is a no-op once the counter rolled over.
func (r *Repository) ReleaseQuota(ctx context.Context, accountID, day string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ? AND last_reset_date = ? AND emails_sent_today > 0", accountID, day).
		UpdateColumn("emails_sent_today", gorm.Expr("emails_sent_today - ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
