package stats

import (
	"context"
	"testing"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*db.Repository, *Reporter, *models.Campaign) {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	repo := db.NewRepository(gdb)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	camp := &models.Campaign{UserID: "user-1", Name: "Spring", Days: []string{"mon"}, Status: models.CampaignActive}
	require.NoError(t, gdb.Create(camp).Error)
	return repo, NewReporter(sqlDB, "sqlite"), camp
}

func addLead(t *testing.T, repo *db.Repository, campaignID, email string, status, furthest models.LeadStatus) *models.Lead {
	t.Helper()
	lead := &models.Lead{UserID: "user-1", CampaignID: campaignID, Email: email, Status: status, FurthestStage: furthest}
	require.NoError(t, repo.DB().Create(lead).Error)
	return lead
}

func TestCampaignStats_CumulativeFromFurthestStage(t *testing.T) {
	repo, reporter, camp := setup(t)
	addLead(t, repo, camp.ID, "a@example.com", models.LeadNew, models.LeadNew)
	addLead(t, repo, camp.ID, "b@example.com", models.LeadScheduled, models.LeadScheduled)
	addLead(t, repo, camp.ID, "c@example.com", models.LeadSent, models.LeadSent)
	addLead(t, repo, camp.ID, "d@example.com", models.LeadOpened, models.LeadOpened)
	addLead(t, repo, camp.ID, "e@example.com", models.LeadReplied, models.LeadReplied)
	addLead(t, repo, camp.ID, "f@example.com", models.LeadWon, models.LeadReplied)
	addLead(t, repo, camp.ID, "g@example.com", models.LeadLost, models.LeadScheduled)
	review := addLead(t, repo, camp.ID, "h@example.com", models.LeadScheduled, models.LeadScheduled)
	require.NoError(t, repo.DB().Model(review).Update("needs_review", true).Error)
	addLead(t, repo, "other", "x@example.com", models.LeadSent, models.LeadSent)

	got, err := reporter.CampaignStats(context.Background(), camp.ID)
	require.NoError(t, err)

	assert.Equal(t, CampaignRef{ID: camp.ID, Name: "Spring", Status: "active"}, got.Campaign)
	assert.Equal(t, Counts{
		Total:       8,
		Sent:        4,
		Opened:      3,
		Answered:    2,
		Scheduled:   2,
		Unscheduled: 1,
		Won:         1,
		Lost:        1,
		NeedsReview: 1,
	}, got.Stats)
	assert.LessOrEqual(t, got.Stats.Opened, got.Stats.Sent)
	assert.LessOrEqual(t, got.Stats.Answered, got.Stats.Opened)
}

func TestCampaignStats_UnknownCampaign(t *testing.T) {
	_, reporter, _ := setup(t)

	_, err := reporter.CampaignStats(context.Background(), "missing")

	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestActivities_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	repo, reporter, camp := setup(t)
	now := time.Date(2026, 5, 12, 12, 0, 0, 0, time.UTC)
	reporter.now = func() time.Time { return now }

	lead := addLead(t, repo, camp.ID, "jane@example.com", models.LeadReplied, models.LeadReplied)
	require.NoError(t, repo.DB().Model(lead).Updates(map[string]interface{}{"first_name": "Jane", "last_name": "Doe"}).Error)
	for i, m := range []struct {
		dir string
		ago time.Duration
	}{
		{models.DirectionOutbound, 3 * time.Hour},
		{models.DirectionInbound, 20 * time.Minute},
		{models.DirectionOutbound, 2 * time.Hour},
	} {
		key := string(rune('a' + i))
		msg := &models.EmailMessage{
			UserID:     "user-1",
			LeadID:     lead.ID,
			CampaignID: camp.ID,
			Direction:  m.dir,
			SentAt:     now.Add(-m.ago),
		}
		if m.dir == models.DirectionOutbound {
			msg.IdempotencyKey = &key
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
	}

	got, err := reporter.Activities(ctx, camp.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "answered", got[0].Type)
	assert.Equal(t, "jane@example.com", got[0].Email)
	assert.Equal(t, "Jane Doe", got[0].Name)
	assert.Equal(t, "20 minutes ago", got[0].Timestamp)
	assert.Equal(t, "sent", got[1].Type)
	assert.Equal(t, "2 hours ago", got[1].Timestamp)

	all, err := reporter.Activities(ctx, camp.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRelative(t *testing.T) {
	now := time.Date(2026, 5, 12, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", relative(now.Add(-20*time.Second), now))
	assert.Equal(t, "3 days ago", relative(now.Add(-72*time.Hour), now))
}
