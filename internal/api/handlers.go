// Package api serves the operations HTTP API of the dispatch daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/outreach-nexus/internal/auth/token"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/dispatch"
	"github.com/pysugar/outreach-nexus/internal/lifecycle"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/notify"
	"github.com/pysugar/outreach-nexus/internal/schedule"
	"github.com/pysugar/outreach-nexus/internal/stats"
	"github.com/pysugar/outreach-nexus/internal/util"
	"github.com/pysugar/outreach-nexus/internal/version"
)

// CampaignControl starts and stops campaign dispatch.
type CampaignControl interface {
	Activate(ctx context.Context, campaignID string) error
	Pause(ctx context.Context, campaignID string) error
	Wake(campaignID string)
}

// StatsReader answers reporting queries.
type StatsReader interface {
	CampaignStats(ctx context.Context, campaignID string) (*stats.CampaignStats, error)
	Activities(ctx context.Context, campaignID string, limit int) ([]stats.Activity, error)
}

// LeadEvents applies lifecycle triggers.
type LeadEvents interface {
	Apply(ctx context.Context, leadID string, trigger lifecycle.Trigger, note string) (lifecycle.Result, error)
}

// TokenRefresher refreshes mailbox credentials on demand.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, accountID string) (*token.CachedToken, error)
	RefreshExpiring(ctx context.Context, lookahead time.Duration) int
}

// Store is the persistence the handlers use directly.
type Store interface {
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	ClearReview(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, msg *models.EmailMessage) error
	GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error)
	SetPrimaryAccount(ctx context.Context, userID, accountID string) error
}

// NoticeLister lists recorded notices, newest first.
type NoticeLister interface {
	List(userID string) []notify.Notice
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HealthHandler reports liveness and build metadata.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "ok",
			"version":    version.Version,
			"commit":     version.Commit,
			"build_time": version.BuildTime,
		})
	}
}

// CampaignStatsHandler handles GET /api/campaigns/{id}/stats
func CampaignStatsHandler(reader StatsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := reader.CampaignStats(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			logging.Error(r.Context()).Err(err).Msg("failed to compute campaign stats")
			writeError(w, http.StatusInternalServerError, "failed to compute stats")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CampaignActivitiesHandler handles GET /api/campaigns/{id}/activities?limit=
func CampaignActivitiesHandler(reader StatsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 || n > 100 {
				writeError(w, http.StatusBadRequest, "limit must be between 0 and 100")
				return
			}
			limit = n
		}
		activities, err := reader.Activities(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			logging.Error(r.Context()).Err(err).Msg("failed to load activities")
			writeError(w, http.StatusInternalServerError, "failed to load activities")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"activities": activities})
	}
}

// ActivateCampaignHandler handles POST /api/campaigns/{id}/activate
func ActivateCampaignHandler(control CampaignControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := control.Activate(r.Context(), id); err != nil {
			var cfgErr *schedule.ConfigError
			switch {
			case errors.Is(err, db.ErrNotFound):
				writeError(w, http.StatusNotFound, "campaign not found")
			case errors.As(err, &cfgErr),
				errors.Is(err, dispatch.ErrNoAccount),
				errors.Is(err, dispatch.ErrAccountInactive),
				errors.Is(err, dispatch.ErrNoTemplate):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				logging.Error(r.Context()).Err(err).Str("campaign_id", id).Msg("failed to activate campaign")
				writeError(w, http.StatusInternalServerError, "failed to activate campaign")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(models.CampaignActive)})
	}
}

// PauseCampaignHandler handles POST /api/campaigns/{id}/pause
func PauseCampaignHandler(control CampaignControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := control.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to pause campaign")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(models.CampaignPaused)})
	}
}

// WakeCampaignHandler handles POST /api/campaigns/{id}/wake
func WakeCampaignHandler(control CampaignControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		control.Wake(chi.URLParam(r, "id"))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "woken"})
	}
}

type inboundMessage struct {
	Subject           string    `json:"subject"`
	BodyHTML          string    `json:"body_html"`
	BodyText          string    `json:"body_text"`
	ProviderMessageID string    `json:"provider_message_id"`
	ThreadID          string    `json:"thread_id"`
	ReceivedAt        time.Time `json:"received_at"`
}

type leadEventRequest struct {
	Event   string          `json:"event"`
	Note    string          `json:"note"`
	Message *inboundMessage `json:"message,omitempty"`
}

// LeadEventHandler handles POST /api/leads/{id}/events. A reply may carry the inbound message,
// which is stored with the lead's history.
func LeadEventHandler(events LeadEvents, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leadID := chi.URLParam(r, "id")

		var req leadEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		trigger, ok := lifecycle.ParseEvent(req.Event)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown event "+strconv.Quote(req.Event))
			return
		}

		res, err := events.Apply(r.Context(), leadID, trigger, req.Note)
		if err != nil {
			switch {
			case errors.Is(err, db.ErrNotFound):
				writeError(w, http.StatusNotFound, "lead not found")
			case errors.Is(err, lifecycle.ErrInvalidTransition):
				writeError(w, http.StatusConflict, err.Error())
			default:
				logging.Error(r.Context()).Err(err).Str("lead_id", leadID).Msg("failed to apply lead event")
				writeError(w, http.StatusInternalServerError, "failed to apply event")
			}
			return
		}

		if trigger == lifecycle.ReplyReceived && req.Message != nil {
			if err := storeReply(r.Context(), store, leadID, req.Message); err != nil {
				logging.Error(r.Context()).Err(err).Str("lead_id", leadID).Msg("failed to store inbound reply")
				writeError(w, http.StatusInternalServerError, "event applied but reply not stored")
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lead_id": res.LeadID,
			"from":    res.From,
			"to":      res.To,
			"changed": res.Changed,
		})
	}
}

func storeReply(ctx context.Context, store Store, leadID string, in *inboundMessage) error {
	lead, err := store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	at := in.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return store.CreateMessage(ctx, &models.EmailMessage{
		UserID:            lead.UserID,
		LeadID:            lead.ID,
		CampaignID:        lead.CampaignID,
		Direction:         models.DirectionInbound,
		ProviderMessageID: in.ProviderMessageID,
		ThreadID:          in.ThreadID,
		Subject:           in.Subject,
		BodyHTML:          in.BodyHTML,
		BodyText:          in.BodyText,
		SentAt:            at,
	})
}

// ReviewLeadHandler handles POST /api/leads/{id}/review. It returns a lead flagged after
// repeated send failures to the queue and wakes its campaign.
func ReviewLeadHandler(store Store, control CampaignControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leadID := chi.URLParam(r, "id")
		lead, err := store.GetLead(r.Context(), leadID)
		if err == nil && !lead.NeedsReview {
			writeError(w, http.StatusConflict, "lead is not awaiting review")
			return
		}
		if err == nil {
			err = store.ClearReview(r.Context(), leadID)
		}
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "lead not found")
				return
			}
			logging.Error(r.Context()).Err(err).Str("lead_id", leadID).Msg("failed to clear lead review")
			writeError(w, http.StatusInternalServerError, "failed to requeue lead")
			return
		}
		control.Wake(lead.CampaignID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lead_id":  lead.ID,
			"status":   "requeued",
			"attempts": lead.DispatchAttempts,
		})
	}
}

// RefreshAccountHandler refreshes the token of a specific account.
func RefreshAccountHandler(tokens TokenRefresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")
		ctx := logging.WithAccount(r.Context(), accountID)

		tok, err := tokens.ForceRefresh(ctx, accountID)
		if err != nil {
			switch {
			case token.IsReauthRequired(err):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, token.ErrRefreshUnavailable):
				writeError(w, http.StatusBadGateway, err.Error())
			default:
				logging.Error(ctx).Err(err).Msg("failed to refresh account")
				writeError(w, http.StatusInternalServerError, "refresh failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"email":      tok.Email,
			"token":      util.MaskToken(tok.AccessToken),
			"expires_at": tok.ExpiresAt,
		})
	}
}

// RefreshHandler triggers a refresh of every token that expires within lookahead.
func RefreshHandler(tokens TokenRefresher, lookahead time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := tokens.RefreshExpiring(r.Context(), lookahead)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"refreshed": n,
		})
	}
}

// SetPrimaryAccountHandler handles POST /api/accounts/{id}/primary
func SetPrimaryAccountHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account, err := store.GetAccount(r.Context(), id)
		if err == nil {
			err = store.SetPrimaryAccount(r.Context(), account.UserID, id)
		}
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to set primary account")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NoticesHandler handles GET /api/notices?user_id=
func NoticesHandler(notices NoticeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"notices": notices.List(r.URL.Query().Get("user_id")),
		})
	}
}
