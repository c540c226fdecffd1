// Package businessday defines "today" for the whole platform. A business day
// begins at a fixed clock-hour offset (05:00) rather than midnight, so that
// activity between midnight and 05:00 is attributed to the previous calendar
// day, matching late-night streaming patterns.
//
// All math is evaluated in a single fixed zone (Asia/Tokyo) baked into the
// package, never the host's local zone, so the system behaves identically
// regardless of deployment region.
package businessday

import (
	"fmt"
	"time"
)

const (
	// BoundaryHour is the local clock hour at which a new business day begins.
	BoundaryHour = 5

	// GraceHours extends token validity past the business-day end, tolerating
	// early-morning form completion after a late stream. Day end 05:00 plus
	// 7h of grace puts expiry at noon of the following calendar day.
	GraceHours = 7

	// DateLayout is the wire format for business dates.
	DateLayout = "2006-01-02"
)

// zone is the fixed zone for all business-day math. Loaded once; the IANA
// name keeps DST-free JST explicit rather than relying on a numeric offset.
var zone = mustLoadZone()

func mustLoadZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		// Fall back to a fixed offset when the zone database is unavailable
		// (e.g., scratch containers). JST has no DST, so this is equivalent.
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// Zone returns the fixed business-day zone.
func Zone() *time.Location { return zone }

// DateOf returns the business date string for the given instant: subtract
// the boundary offset, then take the calendar date in the fixed zone.
// 04:30 local belongs to the previous business day; 05:30 to the current.
func DateOf(instant time.Time) string {
	shifted := instant.In(zone).Add(-BoundaryHour * time.Hour)
	return shifted.Format(DateLayout)
}

// DayEnd returns the instant the business day closes: the next calendar day
// at the boundary hour in the fixed zone.
func DayEnd(date string) (time.Time, error) {
	d, err := Parse(date)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddDate(0, 0, 1).Add(BoundaryHour * time.Hour), nil
}

// TokenExpiry returns the instant check-in tokens for the given business
// date stop validating: the business-day end plus the grace window.
func TokenExpiry(date string) (time.Time, error) {
	end, err := DayEnd(date)
	if err != nil {
		return time.Time{}, err
	}
	return end.Add(GraceHours * time.Hour), nil
}

// Parse validates a YYYY-MM-DD business date string and returns midnight of
// that calendar date in the fixed zone.
func Parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("businessday: invalid date %q: %w", date, err)
	}
	return t, nil
}

// MonthPrefix returns the "YYYY-MM" prefix of a business date, used for
// month-scoped aggregation such as the level refresh.
func MonthPrefix(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7]
}
