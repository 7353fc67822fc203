package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func campaign(start, end int, days ...string) *models.Campaign {
	return &models.Campaign{
		ID:                   "camp-1",
		SendFrequencyMinutes: 1,
		SendStartHour:        start,
		SendEndHour:          end,
		Days:                 days,
		Timezone:             "UTC",
	}
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestIsEligibleNow_WrongWeekdayWaitsForNextMonday(t *testing.T) {
	c := campaign(9, 17, "monday")
	c.Timezone = "America/New_York"
	ny := mustLoad(t, "America/New_York")

	// Tuesday 2026-03-03 10:00 New York.
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, ny)

	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.True(t, next.Equal(time.Date(2026, 3, 9, 9, 0, 0, 0, ny)), "got %s", next.In(ny))
}

func TestIsEligibleNow_InsideWindow(t *testing.T) {
	c := campaign(9, 17, "Mon", "TUESDAY")
	now := time.Date(2026, 3, 3, 16, 59, 0, 0, time.UTC)

	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.True(t, next.Equal(now))
}

func TestIsEligibleNow_EndHourIsExclusive(t *testing.T) {
	c := campaign(9, 17, "tuesday", "wednesday")
	now := time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC)

	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestIsEligibleNow_BeforeStartSameDay(t *testing.T) {
	c := campaign(9, 17, "tuesday")
	now := time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC)

	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestIsEligibleNow_FrequencyGate(t *testing.T) {
	c := campaign(9, 17, "tuesday")
	c.SendFrequencyMinutes = 30
	last := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	c.LastDispatchAt = &last

	eligible, next, err := IsEligibleNow(c, last.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, last.Add(30*time.Minute), next.UTC())

	eligible, _, err = IsEligibleNow(c, last.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestIsEligibleNow_FrequencyGateCrossesWindowEnd(t *testing.T) {
	c := campaign(9, 17, "tuesday", "thursday")
	c.SendFrequencyMinutes = 120
	last := time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC)
	c.LastDispatchAt = &last

	eligible, next, err := IsEligibleNow(c, last.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestIsEligibleNow_EvaluatesInCampaignTimezone(t *testing.T) {
	c := campaign(9, 17, "monday")
	c.Timezone = "Asia/Tokyo"

	// Sunday 23:30 UTC is Monday 08:30 in Tokyo.
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), next.UTC())

	eligible, _, err = IsEligibleNow(c, next)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestIsEligibleNow_DaylightSavingStart(t *testing.T) {
	c := campaign(2, 4, "sunday")
	c.Timezone = "America/New_York"
	ny := mustLoad(t, "America/New_York")

	// 2026-03-08 is the spring-forward Sunday; 02:00 local does not exist.
	now := time.Date(2026, 3, 8, 1, 0, 0, 0, ny)
	eligible, next, err := IsEligibleNow(c, now)
	require.NoError(t, err)
	assert.False(t, eligible)

	w, err := WindowFor(c)
	require.NoError(t, err)
	assert.True(t, w.Contains(next), "next %s must lie in the window", next.In(ny))
}

func TestIsEligibleNow_NeverOutsideWindow(t *testing.T) {
	c := campaign(9, 17, "monday", "wednesday", "friday")
	c.Timezone = "Europe/Berlin"
	c.SendFrequencyMinutes = 45
	w, err := WindowFor(c)
	require.NoError(t, err)

	start := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 14*24*4; i++ {
		now := start.Add(time.Duration(i) * 15 * time.Minute)
		eligible, next, err := IsEligibleNow(c, now)
		require.NoError(t, err)
		assert.True(t, w.Contains(next), "next %s outside window", next)
		assert.False(t, next.Before(now))
		if eligible {
			assert.True(t, w.Contains(now))
		}
	}
}

func TestWindowFor_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.Campaign)
		want   error
	}{
		{name: "zero width", mutate: func(c *models.Campaign) { c.SendStartHour, c.SendEndHour = 9, 9 }, want: ErrZeroWidthWindow},
		{name: "overnight", mutate: func(c *models.Campaign) { c.SendStartHour, c.SendEndHour = 22, 6 }, want: ErrZeroWidthWindow},
		{name: "hour range", mutate: func(c *models.Campaign) { c.SendEndHour = 24 }, want: ErrInvalidHours},
		{name: "no days", mutate: func(c *models.Campaign) { c.Days = nil }, want: ErrNoDays},
		{name: "bad day", mutate: func(c *models.Campaign) { c.Days = []string{"funday"} }, want: ErrUnknownDay},
		{name: "bad timezone", mutate: func(c *models.Campaign) { c.Timezone = "Mars/Olympus" }, want: ErrInvalidTimezone},
		{name: "frequency", mutate: func(c *models.Campaign) { c.SendFrequencyMinutes = 0 }, want: ErrInvalidFrequency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := campaign(9, 17, "monday")
			tt.mutate(c)

			_, _, err := IsEligibleNow(c, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "camp-1", cfgErr.CampaignID)
		})
	}
}

func TestWindowFor_EmptyTimezoneDefaultsToUTC(t *testing.T) {
	c := campaign(9, 17, "monday")
	c.Timezone = ""
	w, err := WindowFor(c)
	require.NoError(t, err)
	assert.Equal(t, "UTC", w.Location.String())
}
