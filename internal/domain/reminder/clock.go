package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with minute precision.
type Clock struct {
	minutes int
}

// NewClock returns the clock for hour (0-23) and minute (0-59).
func NewClock(hour, minute int) Clock {
	return Clock{minutes: (hour*60 + minute) % (24 * 60)}
}

// ParseClock parses 12-hour display strings such as "9:00 AM" or "12:30pm".
// A string without an AM/PM suffix is read as a 24-hour "15:04" value.
func ParseClock(s string) (Clock, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	switch {
	case strings.HasSuffix(raw, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(raw, "PM"):
		meridiem = "PM"
	}
	raw = strings.TrimSpace(strings.TrimSuffix(raw, meridiem))

	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return Clock{}, fmt.Errorf("invalid hour in %q", s)
		}
	default:
		if hour < 1 || hour > 12 {
			return Clock{}, fmt.Errorf("invalid hour in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
		if meridiem == "PM" {
			hour += 12
		}
	}
	return NewClock(hour, minute), nil
}

func mustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hour returns the hour in 24-hour form.
func (c Clock) Hour() int { return c.minutes / 60 }

// Minute returns the minute within the hour.
func (c Clock) Minute() int { return c.minutes % 60 }

// Before reports whether c is earlier in the day than o.
func (c Clock) Before(o Clock) bool { return c.minutes < o.minutes }

// String renders the clock as "9:00 AM".
func (c Clock) String() string {
	h := c.Hour()
	meridiem := "AM"
	if h >= 12 {
		meridiem = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, c.Minute(), meridiem)
}

// On returns the instant at this clock time on date's calendar day, in loc.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = date.Location()
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}
