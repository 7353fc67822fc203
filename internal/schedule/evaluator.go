package schedule

import (
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
)

// IsEligibleNow reports whether the campaign may dispatch at now and the earliest instant at which
// it may. When eligible, next equals now. A misconfigured window returns a *ConfigError.
func IsEligibleNow(c *models.Campaign, now time.Time) (eligible bool, next time.Time, err error) {
	w, err := WindowFor(c)
	if err != nil {
		return false, time.Time{}, err
	}
	next = w.NextEligible(now)
	return next.Equal(now), next, nil
}

// Contains reports whether t falls on an allowed weekday inside [StartHour, EndHour) local time.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location)
	if !w.Days[local.Weekday()] {
		return false
	}
	h := local.Hour()
	return h >= w.StartHour && h < w.EndHour
}

// NextEligible returns the earliest instant >= now that lies inside the window and at least
// Frequency after the last dispatch.
func (w Window) NextEligible(now time.Time) time.Time {
	earliest := now
	if !w.LastDispatchAt.IsZero() {
		if gate := w.LastDispatchAt.Add(w.Frequency); gate.After(earliest) {
			earliest = gate
		}
	}

	local := earliest.In(w.Location)
	y, m, d := local.Date()

	// One week plus a day covers every weekday after the starting day.
	for offset := 0; offset <= 7; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, w.Location)
		if !w.Days[day.Weekday()] {
			continue
		}
		open := w.alignOpen(time.Date(y, m, d+offset, w.StartHour, 0, 0, 0, w.Location))
		closing := time.Date(y, m, d+offset, w.EndHour, 0, 0, 0, w.Location)

		if earliest.Before(open) {
			return open
		}
		if earliest.Before(closing) {
			return earliest
		}
	}

	// Unreachable for a validated window with at least one day.
	return earliest
}

// alignOpen moves an opening instant that time.Date normalized backwards across a
// daylight-saving gap forward until its local hour reaches StartHour.
func (w Window) alignOpen(open time.Time) time.Time {
	for i := 0; i < 3 && open.In(w.Location).Hour() < w.StartHour; i++ {
		open = open.Add(time.Hour)
	}
	return open
}
