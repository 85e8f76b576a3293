package server

import (
	"fmt"
	"time"

	// Zone lookups must work in containers without a system zoneinfo dir;
	// otherwise every named zone would silently hit the UTC fallback.
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

// Window is a UTC query window for upstream resource calls. UTCFallback
// records that the requested zone could not be loaded and the input was
// interpreted as UTC instead; callers favour availability over failing the
// request, but tests and logs can see which path was taken.
type Window struct {
	Start       time.Time
	End         time.Time
	UTCFallback bool
}

// DayWindow computes the UTC instants of local midnight and local
// end-of-day for a calendar date in the named zone.
func DayWindow(date, zone string) (Window, error) {
	loc, fallback := loadZone(zone)

	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return Window{}, fmt.Errorf("parse date %q: %w", date, err)
	}

	start := day
	end := day.AddDate(0, 0, 1).Add(-time.Second)

	return Window{
		Start:       start.UTC(),
		End:         end.UTC(),
		UTCFallback: fallback,
	}, nil
}

// LastNDays computes the window from local midnight n days ago through now.
func LastNDays(n int, zone string, now time.Time) Window {
	loc, fallback := loadZone(zone)

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start := midnight.AddDate(0, 0, -n)

	return Window{
		Start:       start.UTC(),
		End:         now.UTC(),
		UTCFallback: fallback,
	}
}

// loadZone resolves a named zone, falling back to UTC for malformed names
// rather than failing the request.
func loadZone(zone string) (*time.Location, bool) {
	if zone == "" {
		return time.UTC, false
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}
