package models

import (
	"fmt"
	"time"
)

// DefaultPreference applies to users without stored preferences
func DefaultPreference(userID string) AlertPreference {
	return AlertPreference{
		UserID:      userID,
		MinPriority: PriorityLow,
		Frequency:   FrequencyImmediate,
		TimeZone:    "UTC",
	}
}

// Location resolves the preference timezone, defaulting to UTC
func (p *AlertPreference) Location() *time.Location {
	if p.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InQuietHours reports whether t falls within the user's quiet window.
// Windows that wrap midnight (22:00-07:00) are supported.
func (p *AlertPreference) InQuietHours(t time.Time) bool {
	if p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}
	start, err := parseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	local := t.In(p.Location())
	now := local.Hour()*60 + local.Minute()

	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}
