package usecase

import (
	"fmt"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

// Window dates travel as local wall-clock strings. Any zone offset a caller
// appended is discarded: the first 19 characters are reinterpreted in the
// record's own timezone, so "2024-09-02T09:00:00-05:00" with timezone
// America/Chicago means 9am Chicago time no matter who formatted it.
const wallLayout = "2006-01-02T15:04:05"

func parseWall(s string, loc *time.Location) (time.Time, error) {
	if len(s) < len(wallLayout) {
		return time.Time{}, fmt.Errorf("window date %q too short", s)
	}
	t, err := time.ParseInLocation(wallLayout, s[:len(wallLayout)], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("window date %q: %w", s, err)
	}
	return t, nil
}

func formatWall(t time.Time) string {
	return t.Format(time.RFC3339)
}

// isoWeekday maps Go's Sunday-first weekday to ISO-8601 (Monday=1, Sunday=7).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// rolledWindow is a freshly computed execution window plus its trigger fire
// time. Start and end are wall-clock strings in the window's timezone;
// FireAt is the start instant in UTC.
type rolledWindow struct {
	Start  string
	End    string
	FireAt time.Time
}

// rollWindow advances a window from its current start date: the new start is
// the old start at the randomized hour/minute plus startDays, the new end the
// same anchor plus endDays. Days are calendar days in the window's timezone,
// so a DST transition shifts the absolute interval, not the wall clock.
func rollWindow(body domain.WindowPayload, loc *time.Location, hour, minute, startDays, endDays int) (rolledWindow, error) {
	oldStart, err := parseWall(body.WindowStartDate, loc)
	if err != nil {
		return rolledWindow{}, err
	}

	anchor := time.Date(oldStart.Year(), oldStart.Month(), oldStart.Day(), hour, minute, oldStart.Second(), 0, loc)
	newStart := anchor.AddDate(0, 0, startDays)
	newEnd := anchor.AddDate(0, 0, endDays)

	return rolledWindow{
		Start:  formatWall(newStart),
		End:    formatWall(newEnd),
		FireAt: newStart.UTC(),
	}, nil
}
