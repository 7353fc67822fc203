// Package stats answers reporting queries over the dispatch tables.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
)

// DefaultActivityLimit is the activity feed length when none is requested.
const DefaultActivityLimit = 10

// Counts are per-campaign lead buckets. Sent, Opened and Answered are cumulative: a lead that
// replied counts in all three, even after it was marked won or lost.
type Counts struct {
	Total       int `db:"total" json:"total"`
	Sent        int `db:"sent" json:"sent"`
	Opened      int `db:"opened" json:"opened"`
	Answered    int `db:"answered" json:"answered"`
	Scheduled   int `db:"scheduled" json:"scheduled"`
	Unscheduled int `db:"unscheduled" json:"unscheduled"`
	Won         int `db:"won" json:"won"`
	Lost        int `db:"lost" json:"lost"`
	NeedsReview int `db:"needs_review" json:"needs_review"`
}

// CampaignRef names a campaign in a report.
type CampaignRef struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Status string `db:"status" json:"status"`
}

// CampaignStats is the statistics report of one campaign.
type CampaignStats struct {
	Campaign CampaignRef `json:"campaign"`
	Stats    Counts      `json:"stats"`
}

// Activity is one entry of a campaign's activity feed.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "sent" or "answered"
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	At        time.Time `json:"at"`
	Timestamp string    `json:"timestamp"` // relative, e.g. "3 minutes ago"
}

type activityRow struct {
	ID        string    `db:"id"`
	Direction string    `db:"direction"`
	SentAt    time.Time `db:"sent_at"`
	Email     string    `db:"email"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
}

// Reporter runs read-only reporting queries.
type Reporter struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewReporter wraps an open database handle. driverName is the name the driver registered
// with database/sql, "sqlite" for the pure Go driver.
func NewReporter(conn *sql.DB, driverName string) *Reporter {
	return &Reporter{db: sqlx.NewDb(conn, driverName), now: time.Now}
}

const campaignQuery = `SELECT id, name, status FROM campaigns WHERE id = ?`

const countsQuery = `
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN furthest_stage IN (?, ?, ?) THEN 1 ELSE 0 END), 0) AS sent,
	COALESCE(SUM(CASE WHEN furthest_stage IN (?, ?) THEN 1 ELSE 0 END), 0) AS opened,
	COALESCE(SUM(CASE WHEN furthest_stage = ? THEN 1 ELSE 0 END), 0) AS answered,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS scheduled,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS unscheduled,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS won,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS lost,
	COALESCE(SUM(CASE WHEN needs_review = ? AND status IN (?, ?) THEN 1 ELSE 0 END), 0) AS needs_review
FROM leads
WHERE campaign_id = ?`

const activitiesQuery = `
SELECT m.id, m.direction, m.sent_at, l.email, l.first_name, l.last_name
FROM email_messages m
JOIN leads l ON l.id = m.lead_id
WHERE m.campaign_id = ?
ORDER BY m.sent_at DESC, m.id
LIMIT ?`

// CampaignStats returns the lead buckets of a campaign, or db.ErrNotFound.
func (r *Reporter) CampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	var out CampaignStats
	if err := r.db.GetContext(ctx, &out.Campaign, campaignQuery, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	err := r.db.GetContext(ctx, &out.Stats, countsQuery,
		models.LeadSent, models.LeadOpened, models.LeadReplied,
		models.LeadOpened, models.LeadReplied,
		models.LeadReplied,
		models.LeadScheduled,
		models.LeadNew,
		models.LeadWon,
		models.LeadLost,
		true, models.LeadNew, models.LeadScheduled,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Activities returns the newest messages of a campaign. limit <= 0 uses DefaultActivityLimit.
func (r *Reporter) Activities(ctx context.Context, campaignID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	var rows []activityRow
	if err := r.db.SelectContext(ctx, &rows, activitiesQuery, campaignID, limit); err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]Activity, 0, len(rows))
	for _, row := range rows {
		kind := "sent"
		if row.Direction == models.DirectionInbound {
			kind = "answered"
		}
		lead := models.Lead{FirstName: row.FirstName, LastName: row.LastName}
		out = append(out, Activity{
			ID:        row.ID,
			Type:      kind,
			Email:     row.Email,
			Name:      lead.FullName(),
			At:        row.SentAt,
			Timestamp: relative(row.SentAt, now),
		})
	}
	return out, nil
}

func relative(at, now time.Time) string {
	if now.Sub(at) < time.Minute {
		return "just now"
	}
	return humanize.RelTime(at, now, "ago", "from now")
}
