// Package quota tracks per-account daily send allowances.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/logging"
)

var (
	ErrQuotaExhausted  = errors.New("daily send quota exhausted")
	ErrAccountNotFound = errors.New("mailbox account not found")
)

const dayLayout = "2006-01-02"

// Day is a calendar date in the tracker's bookkeeping timezone.
type Day string

// Store is the atomic counter surface the tracker relies on.
type Store interface {
	ReserveQuota(ctx context.Context, accountID, day string) (sentToday int, ok bool, err error)
	ReleaseQuota(ctx context.Context, accountID, day string) (bool, error)
}

// Tracker reserves and releases quota slots.
type Tracker struct {
	store    Store
	location *time.Location
}

// NewTracker creates a tracker whose days roll over at midnight in loc. A nil loc means UTC.
func NewTracker(store Store, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, location: loc}
}

// Today returns the bookkeeping day containing now.
func (t *Tracker) Today(now time.Time) Day {
	return Day(now.In(t.location).Format(dayLayout))
}

// NextReset returns the start of the bookkeeping day after now.
func (t *Tracker) NextReset(now time.Time) time.Time {
	local := now.In(t.location)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.location)
}

// Reservation is one slot taken from an account's allowance.
type Reservation struct {
	AccountID string
	Day       Day
	SentToday int

	tracker  *Tracker
	once     sync.Once
	released bool
}

// ReserveSlot takes one slot for accountID on today, rolling the counter over first when the
// stored reset date is older. It fails with ErrQuotaExhausted when the limit is reached.
func (t *Tracker) ReserveSlot(ctx context.Context, accountID string, today Day) (*Reservation, error) {
	sent, ok, err := t.store.ReserveQuota(ctx, accountID, string(today))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("reserve quota for %s: %w", accountID, err)
	}
	if !ok {
		logging.Debug(ctx).Int("sent_today", sent).Msg("quota exhausted")
		return nil, ErrQuotaExhausted
	}
	return &Reservation{AccountID: accountID, Day: today, SentToday: sent, tracker: t}, nil
}

// Release gives the slot back. Only call it when no send was attempted with the provider.
// Repeated calls are no-ops.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil || r.tracker == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		var ok bool
		ok, err = r.tracker.store.ReleaseQuota(ctx, r.AccountID, string(r.Day))
		if err != nil {
			err = fmt.Errorf("release quota for %s: %w", r.AccountID, err)
			return
		}
		r.released = true
		if !ok {
			logging.Debug(ctx).Str("day", string(r.Day)).Msg("quota release skipped after rollover")
		}
	})
	return err
}
