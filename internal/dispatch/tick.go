package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/outreach-nexus/internal/auth/token"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/lifecycle"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/mailer"
	"github.com/pysugar/outreach-nexus/internal/notify"
	"github.com/pysugar/outreach-nexus/internal/quota"
	"github.com/pysugar/outreach-nexus/internal/schedule"
)

// Tick runs one dispatch step for a campaign and returns when it should run next. At most one
// email is sent per tick. A zero time means the campaign needs no wake-up until it is
// activated again.
func (c *Coordinator) Tick(ctx context.Context, campaignID string) time.Time {
	ctx = logging.WithDispatchID(ctx, logging.GenerateDispatchID())
	ctx = logging.WithCampaign(ctx, campaignID)
	now := c.now()

	camp, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return time.Time{}
		}
		logging.Error(ctx).Err(err).Msg("failed to load campaign")
		return now.Add(c.cfg.RetryBackoff)
	}
	if camp.Status != models.CampaignActive {
		return time.Time{}
	}
	if camp.EmailAccountID == nil || *camp.EmailAccountID == "" {
		c.notifyOnce(ctx, c.notice(camp, notify.KindConfigError, ErrNoAccount.Error()))
		return now.Add(c.cfg.ConfigRecheck)
	}
	accountID := *camp.EmailAccountID
	ctx = logging.WithAccount(ctx, accountID)

	eligible, next, err := schedule.IsEligibleNow(camp, now)
	if err != nil {
		logging.Warn(ctx).Err(err).Msg("campaign schedule is invalid")
		c.notifyOnce(ctx, c.notice(camp, notify.KindConfigError, err.Error()))
		return now.Add(c.cfg.ConfigRecheck)
	}
	if !eligible {
		logging.Debug(ctx).Time("next", next).Msg("outside sending window")
		return next
	}

	lead, err := c.store.NextEligibleLead(ctx, campaignID)
	if errors.Is(err, db.ErrNotFound) {
		return c.idle(ctx, camp, now)
	}
	if err != nil {
		logging.Error(ctx).Err(err).Msg("failed to select next lead")
		return now.Add(c.cfg.RetryBackoff)
	}
	ctx = logging.WithLead(ctx, lead.ID)

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.notifyOnce(ctx, c.notice(camp, notify.KindConfigError, "assigned mailbox account no longer exists"))
			return now.Add(c.cfg.ConfigRecheck)
		}
		logging.Error(ctx).Err(err).Msg("failed to load mailbox account")
		return now.Add(c.cfg.RetryBackoff)
	}
	if !account.IsActive {
		c.notifyOnce(ctx, c.reauthNotice(camp, account))
		return now.Add(c.cfg.ConfigRecheck)
	}

	tmpl, err := c.store.GetTemplate(ctx, campaignID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.notifyOnce(ctx, c.notice(camp, notify.KindConfigError, ErrNoTemplate.Error()))
			return now.Add(c.cfg.ConfigRecheck)
		}
		logging.Error(ctx).Err(err).Msg("failed to load template")
		return now.Add(c.cfg.RetryBackoff)
	}

	key := IdempotencyKey(campaignID, lead.ID, lead.DispatchAttempts)
	prior, err := c.store.FindMessageByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		logging.Warn(ctx).Str("idempotency_key", key).Msg("dispatch already recorded, finishing lead transition")
		c.complete(ctx, camp, lead, prior.SentAt)
		return c.afterDispatch(ctx, camp, prior.SentAt)
	case !errors.Is(err, db.ErrNotFound):
		logging.Error(ctx).Err(err).Msg("failed to check prior dispatch")
		return now.Add(c.cfg.RetryBackoff)
	}

	if c.isStopped(campaignID) {
		return time.Time{}
	}

	res, err := c.quota.ReserveSlot(ctx, accountID, c.quota.Today(now))
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExhausted) {
			reset := c.quota.NextReset(now)
			logging.Info(ctx).Time("reset", reset).Msg("daily send limit reached")
			return reset
		}
		logging.Error(ctx).Err(err).Msg("failed to reserve send slot")
		return now.Add(c.cfg.RetryBackoff)
	}

	tok, err := c.creds.GetValidToken(ctx, accountID)
	if err != nil {
		c.release(ctx, res)
		if token.IsReauthRequired(err) {
			c.notifyOnce(ctx, c.reauthNotice(camp, account))
			return now.Add(c.cfg.ConfigRecheck)
		}
		logging.Warn(ctx).Err(err).Msg("access token unavailable, backing off")
		return now.Add(c.cfg.RetryBackoff)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	result, err := c.sender.Send(sendCtx, mailer.SendRequest{
		Token:          tok.AccessToken,
		Account:        account,
		Lead:           lead,
		Subject:        tmpl.Subject,
		HTML:           tmpl.Content,
		PreviewText:    tmpl.PreviewText,
		IdempotencyKey: key,
	})
	cancel()
	if err != nil {
		return c.sendFailed(ctx, camp, account, lead, res, err, now)
	}

	sentAt := c.now()
	msg := &models.EmailMessage{
		UserID:            camp.UserID,
		LeadID:            lead.ID,
		CampaignID:        camp.ID,
		AccountID:         accountID,
		Direction:         models.DirectionOutbound,
		ProviderMessageID: result.ProviderMessageID,
		ThreadID:          result.ThreadID,
		IdempotencyKey:    &key,
		Subject:           tmpl.Subject,
		BodyHTML:          tmpl.Content,
		BodyText:          result.Text,
		SentAt:            sentAt,
	}
	if err := c.store.CreateMessage(ctx, msg); err != nil && !errors.Is(err, db.ErrDuplicate) {
		logging.Error(ctx).Err(err).Str("idempotency_key", key).Msg("email sent but message record failed")
	}
	logging.Info(ctx).
		Str("to", lead.Email).
		Str("provider_message_id", result.ProviderMessageID).
		Int("sent_today", res.SentToday).
		Msg("email dispatched")

	c.complete(ctx, camp, lead, sentAt)
	return c.afterDispatch(ctx, camp, sentAt)
}

// complete moves the lead to sent and stamps the campaign's last dispatch.
func (c *Coordinator) complete(ctx context.Context, camp *models.Campaign, lead *models.Lead, at time.Time) {
	_, err := c.machine.ApplyTo(ctx, lead, lifecycle.DispatchSucceeded, "")
	if errors.Is(err, db.ErrVersionConflict) {
		_, err = c.machine.Apply(ctx, lead.ID, lifecycle.DispatchSucceeded, "")
	}
	if err != nil {
		logging.Error(ctx).Err(err).Msg("failed to mark lead sent")
	}
	c.markDispatched(ctx, camp, at)
	c.clearNotice(camp.ID)
	if camp.EmailAccountID != nil {
		c.setForced(*camp.EmailAccountID, false)
	}
}

func (c *Coordinator) markDispatched(ctx context.Context, camp *models.Campaign, at time.Time) {
	if err := c.store.MarkCampaignDispatched(ctx, camp.ID, at); err != nil {
		logging.Error(ctx).Err(err).Msg("failed to record campaign dispatch")
	}
}

func (c *Coordinator) afterDispatch(ctx context.Context, camp *models.Campaign, at time.Time) time.Time {
	updated := *camp
	updated.LastDispatchAt = &at
	_, next, err := schedule.IsEligibleNow(&updated, at)
	if err != nil {
		logging.Warn(ctx).Err(err).Msg("campaign schedule is invalid")
		return at.Add(c.cfg.ConfigRecheck)
	}
	return next
}

func (c *Coordinator) sendFailed(ctx context.Context, camp *models.Campaign, account *models.MailboxAccount, lead *models.Lead, res *quota.Reservation, err error, now time.Time) time.Time {
	if perm, ok := mailer.AsPermanent(err); ok {
		c.release(ctx, res)
		logging.Warn(ctx).Err(err).Str("to", lead.Email).Msg("permanent send failure, marking lead lost")
		if _, lerr := c.machine.Apply(ctx, lead.ID, lifecycle.MarkLost, perm.Reason); lerr != nil {
			logging.Error(ctx).Err(lerr).Msg("failed to mark lead lost")
			c.recordFailure(ctx, camp, lead, err.Error())
			return now.Add(c.cfg.RetryBackoff)
		}
		n := c.notice(camp, notify.KindPermanentFailure, fmt.Sprintf("email to %s failed permanently: %s", lead.Email, perm.Reason))
		n.LeadID = lead.ID
		c.notifier.Notify(ctx, n)
		// The provider saw the attempt, so it counts against the campaign frequency.
		c.markDispatched(ctx, camp, now)
		return c.afterDispatch(ctx, camp, now)
	}

	trans, ok := mailer.AsTransient(err)
	if !ok {
		trans = &mailer.TransientError{Ambiguous: true, Err: err}
	}
	if trans.Unauthorized && !c.wasForced(account.ID) {
		c.release(ctx, res)
		return c.tokenRejected(ctx, camp, account, now)
	}
	if trans.Ambiguous {
		logging.Warn(ctx).Err(err).Msg("send outcome unknown, keeping quota slot")
	} else {
		c.release(ctx, res)
		logging.Warn(ctx).Err(err).Dur("retry_after", trans.RetryAfter).Msg("transient send failure")
	}
	c.recordFailure(ctx, camp, lead, trans.Error())

	delay := c.cfg.RetryBackoff
	if trans.RetryAfter > delay {
		delay = trans.RetryAfter
	}
	return now.Add(delay)
}

// tokenRejected forces one refresh after the provider rejected a token the store still held as
// valid. The lead keeps its attempt count; a second rejection after the forced refresh is
// recorded as an ordinary failure.
func (c *Coordinator) tokenRejected(ctx context.Context, camp *models.Campaign, account *models.MailboxAccount, now time.Time) time.Time {
	logging.Warn(ctx).Str("email", account.Email).Msg("access token rejected by provider, forcing refresh")
	if _, err := c.creds.ForceRefresh(ctx, account.ID); err != nil {
		if token.IsReauthRequired(err) {
			c.notifyOnce(ctx, c.reauthNotice(camp, account))
			return now.Add(c.cfg.ConfigRecheck)
		}
		logging.Warn(ctx).Err(err).Msg("forced refresh failed, backing off")
		return now.Add(c.cfg.RetryBackoff)
	}
	c.setForced(account.ID, true)
	return now
}

func (c *Coordinator) recordFailure(ctx context.Context, camp *models.Campaign, lead *models.Lead, reason string) {
	attempts, review, err := c.store.RecordDispatchFailure(ctx, lead.ID, reason, c.cfg.MaxAttempts)
	if err != nil {
		logging.Error(ctx).Err(err).Msg("failed to record dispatch failure")
		return
	}
	if review {
		n := c.notice(camp, notify.KindManualReview,
			fmt.Sprintf("email to %s failed %d times and needs review: %s", lead.Email, attempts, reason))
		n.LeadID = lead.ID
		c.notifier.Notify(ctx, n)
	}
}

// idle completes the campaign when no lead is left to send or to review.
func (c *Coordinator) idle(ctx context.Context, camp *models.Campaign, now time.Time) time.Time {
	pending, review, err := c.store.CountOpenLeads(ctx, camp.ID)
	if err != nil {
		logging.Error(ctx).Err(err).Msg("failed to count open leads")
		return now.Add(c.cfg.RetryBackoff)
	}
	if pending > 0 || review > 0 {
		logging.Debug(ctx).Int64("needs_review", review).Msg("no lead ready to send")
		return now.Add(c.cfg.IdleRecheck)
	}
	if err := c.store.SetCampaignStatus(ctx, camp.ID, models.CampaignCompleted); err != nil {
		logging.Error(ctx).Err(err).Msg("failed to complete campaign")
		return now.Add(c.cfg.RetryBackoff)
	}
	logging.Info(ctx).Msg("campaign completed")
	c.notifier.Notify(ctx, c.notice(camp, notify.KindCampaignComplete, fmt.Sprintf("campaign %q has emailed every lead", camp.Name)))
	return time.Time{}
}

func (c *Coordinator) release(ctx context.Context, res *quota.Reservation) {
	if err := res.Release(ctx); err != nil {
		logging.Error(ctx).Err(err).Msg("failed to release send slot")
	}
}

func (c *Coordinator) notice(camp *models.Campaign, kind notify.Kind, msg string) notify.Notice {
	n := notify.Notice{Kind: kind, UserID: camp.UserID, CampaignID: camp.ID, Message: msg}
	if camp.EmailAccountID != nil {
		n.AccountID = *camp.EmailAccountID
	}
	return n
}

func (c *Coordinator) reauthNotice(camp *models.Campaign, account *models.MailboxAccount) notify.Notice {
	msg := fmt.Sprintf("mailbox %s must be reconnected", account.Email)
	if account.ReauthReason != "" {
		msg += ": " + account.ReauthReason
	}
	return c.notice(camp, notify.KindReauthRequired, msg)
}
