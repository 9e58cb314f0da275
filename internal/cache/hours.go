package cache

import "time"

// Calendar describes the trading session used to pick cache TTLs. Weekends
// are always closed.
type Calendar struct {
	loc       *time.Location
	openMins  int
	closeMins int
}

// NewCalendar builds a calendar for the given timezone and session times.
// An unknown timezone falls back to UTC.
func NewCalendar(timezone string, openHour, openMin, closeHour, closeMin int) *Calendar {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Calendar{
		loc:       loc,
		openMins:  openHour*60 + openMin,
		closeMins: closeHour*60 + closeMin,
	}
}

// DefaultCalendar returns a US equities session calendar.
func DefaultCalendar() *Calendar {
	return NewCalendar("America/New_York", 9, 30, 16, 0)
}

// IsOpenAt reports whether the market is open at the given instant.
func (c *Calendar) IsOpenAt(t time.Time) bool {
	local := t.In(c.loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

// IsOpen reports whether the market is open now.
func (c *Calendar) IsOpen() bool {
	return c.IsOpenAt(time.Now())
}

// NextOpen returns the next session open after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(),
		c.openMins/60, c.openMins%60, 0, 0, c.loc)
	if !local.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
