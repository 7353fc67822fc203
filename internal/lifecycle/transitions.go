// Package lifecycle validates and applies lead status transitions.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/pysugar/outreach-nexus/internal/db/models"
)

// Trigger is an event that may move a lead to another status.
type Trigger string

const (
	Schedule          Trigger = "schedule"
	DispatchSucceeded Trigger = "dispatch_succeeded"
	OpenTracked       Trigger = "open_tracked"
	ReplyReceived     Trigger = "reply_received"
	MarkWon           Trigger = "mark_won"
	MarkLost          Trigger = "mark_lost"
)

// ErrInvalidTransition is returned for a trigger that is not allowed from the lead's status.
var ErrInvalidTransition = errors.New("invalid lead transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	LeadID  string
	From    models.LeadStatus
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lead %s: %s not allowed from %q", e.LeadID, e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type edge struct {
	from []models.LeadStatus
	to   models.LeadStatus
	// noop lists sources at which the trigger is accepted without a change.
	noop []models.LeadStatus
}

var nonTerminal = []models.LeadStatus{
	models.LeadNew, models.LeadScheduled, models.LeadSent, models.LeadOpened, models.LeadReplied,
}

var table = map[Trigger]edge{
	Schedule:          {from: []models.LeadStatus{models.LeadNew}, to: models.LeadScheduled},
	DispatchSucceeded: {from: []models.LeadStatus{models.LeadNew, models.LeadScheduled}, to: models.LeadSent},
	OpenTracked: {
		from: []models.LeadStatus{models.LeadSent},
		to:   models.LeadOpened,
		noop: []models.LeadStatus{models.LeadOpened, models.LeadReplied},
	},
	ReplyReceived: {
		from: []models.LeadStatus{models.LeadSent, models.LeadOpened},
		to:   models.LeadReplied,
		noop: []models.LeadStatus{models.LeadReplied},
	},
	MarkWon:  {from: nonTerminal, to: models.LeadWon, noop: []models.LeadStatus{models.LeadWon}},
	MarkLost: {from: nonTerminal, to: models.LeadLost, noop: []models.LeadStatus{models.LeadLost}},
}

func contains(list []models.LeadStatus, s models.LeadStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Next returns the status reached by applying trigger at from. changed is false when the
// trigger is an accepted no-op, such as a repeated open.
func Next(from models.LeadStatus, trigger Trigger) (to models.LeadStatus, changed bool, err error) {
	e, ok := table[trigger]
	if !ok {
		return from, false, fmt.Errorf("%w: unknown trigger %q", ErrInvalidTransition, trigger)
	}
	if contains(e.noop, from) {
		return from, false, nil
	}
	if contains(e.from, from) {
		return e.to, true, nil
	}
	return from, false, &TransitionError{From: from, Trigger: trigger}
}

var stageRank = map[models.LeadStatus]int{
	models.LeadNew:       0,
	models.LeadScheduled: 1,
	models.LeadSent:      2,
	models.LeadOpened:    3,
	models.LeadReplied:   4,
}

// FurthestStage returns the progression stage after moving to status, given the previous one.
// Terminal statuses keep the stage reached before them.
func FurthestStage(prev, status models.LeadStatus) models.LeadStatus {
	r, ok := stageRank[status]
	if !ok {
		return prev
	}
	if pr, ok := stageRank[prev]; ok && pr >= r {
		return prev
	}
	return status
}

// ParseEvent maps an external event name to its trigger.
func ParseEvent(name string) (Trigger, bool) {
	switch name {
	case "opened", "open":
		return OpenTracked, true
	case "replied", "reply":
		return ReplyReceived, true
	case "won":
		return MarkWon, true
	case "lost":
		return MarkLost, true
	}
	return "", false
}
