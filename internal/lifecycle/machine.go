package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/logging"
)

const maxConflictRetries = 3

// Repository is the lead persistence the machine needs.
type Repository interface {
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, version int, status, furthest models.LeadStatus, note string) error
}

// Machine applies transitions to stored leads with optimistic locking.
type Machine struct {
	repo Repository
}

// NewMachine creates a machine over repo.
func NewMachine(repo Repository) *Machine {
	return &Machine{repo: repo}
}

// Result is the outcome of an applied trigger.
type Result struct {
	LeadID  string
	From    models.LeadStatus
	To      models.LeadStatus
	Changed bool
}

// Apply loads the lead and applies trigger, retrying when a concurrent update bumped the
// version. note is recorded as the lead's last error when non-empty.
func (m *Machine) Apply(ctx context.Context, leadID string, trigger Trigger, note string) (Result, error) {
	ctx = logging.WithLead(ctx, leadID)
	for attempt := 0; ; attempt++ {
		lead, err := m.repo.GetLead(ctx, leadID)
		if err != nil {
			return Result{LeadID: leadID}, fmt.Errorf("load lead %s: %w", leadID, err)
		}
		res, err := m.ApplyTo(ctx, lead, trigger, note)
		if errors.Is(err, db.ErrVersionConflict) && attempt < maxConflictRetries {
			logging.Debug(ctx).Int("attempt", attempt+1).Msg("lead version conflict, retrying")
			continue
		}
		return res, err
	}
}

// ApplyTo applies trigger to an already loaded lead. It fails with db.ErrVersionConflict when
// the stored lead changed since it was loaded. On success the lead value is updated in place.
func (m *Machine) ApplyTo(ctx context.Context, lead *models.Lead, trigger Trigger, note string) (Result, error) {
	res := Result{LeadID: lead.ID, From: lead.Status, To: lead.Status}

	to, changed, err := Next(lead.Status, trigger)
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			te.LeadID = lead.ID
		}
		logging.Warn(ctx).Str("from", string(lead.Status)).Str("trigger", string(trigger)).Msg("rejected lead transition")
		return res, err
	}
	if !changed {
		return res, nil
	}

	furthest := FurthestStage(lead.FurthestStage, to)
	if err := m.repo.UpdateLeadStatus(ctx, lead.ID, lead.Version, to, furthest, note); err != nil {
		return res, err
	}

	lead.Status = to
	lead.FurthestStage = furthest
	lead.Version++
	if note != "" {
		lead.LastError = note
	}
	res.To = to
	res.Changed = true
	logging.Info(ctx).Str("from", string(res.From)).Str("to", string(to)).Str("trigger", string(trigger)).Msg("lead transitioned")
	return res, nil
}
