// Package schedule decides when a campaign may dispatch.
//
// Everything here is pure: the same campaign settings and instant always produce the same answer.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
)

var (
	ErrZeroWidthWindow  = errors.New("send window is empty: start hour must be before end hour")
	ErrInvalidHours     = errors.New("send hours must be between 0 and 23")
	ErrNoDays           = errors.New("at least one sending day is required")
	ErrUnknownDay       = errors.New("unknown weekday")
	ErrInvalidTimezone  = errors.New("unknown timezone")
	ErrInvalidFrequency = errors.New("send frequency must be at least 1 minute")
)

// ConfigError reports a campaign whose window can never be satisfied as configured.
type ConfigError struct {
	CampaignID string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("campaign %s: %v", e.CampaignID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Window is the validated sending window of a campaign.
type Window struct {
	StartHour      int
	EndHour        int
	Days           [7]bool // indexed by time.Weekday
	Location       *time.Location
	Frequency      time.Duration
	LastDispatchAt time.Time // zero when the campaign never dispatched
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or abbreviated English weekday names in any case.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownDay, name)
	}
	return d, nil
}

// WindowFor builds the window of a campaign, failing with *ConfigError when it is misconfigured.
func WindowFor(c *models.Campaign) (Window, error) {
	w, err := buildWindow(c)
	if err != nil {
		return Window{}, &ConfigError{CampaignID: c.ID, Err: err}
	}
	return w, nil
}

// Validate checks campaign window settings without evaluating any instant.
func Validate(c *models.Campaign) error {
	_, err := WindowFor(c)
	return err
}

func buildWindow(c *models.Campaign) (Window, error) {
	var w Window

	if c.SendStartHour < 0 || c.SendStartHour > 23 || c.SendEndHour < 0 || c.SendEndHour > 23 {
		return w, ErrInvalidHours
	}
	// Overnight windows are not supported; start >= end is treated as empty.
	if c.SendStartHour >= c.SendEndHour {
		return w, ErrZeroWidthWindow
	}
	if c.SendFrequencyMinutes < 1 {
		return w, ErrInvalidFrequency
	}
	if len(c.Days) == 0 {
		return w, ErrNoDays
	}
	for _, name := range c.Days {
		d, err := ParseWeekday(name)
		if err != nil {
			return w, err
		}
		w.Days[d] = true
	}

	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return w, fmt.Errorf("%w %q", ErrInvalidTimezone, c.Timezone)
	}

	w.StartHour = c.SendStartHour
	w.EndHour = c.SendEndHour
	w.Location = loc
	w.Frequency = time.Duration(c.SendFrequencyMinutes) * time.Minute
	if c.LastDispatchAt != nil {
		w.LastDispatchAt = *c.LastDispatchAt
	}
	return w, nil
}
