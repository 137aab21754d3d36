package calls

import (
	"regexp"
	"time"

	"recovery-caller/internal/merchants"
)

// NextCallTime snaps t into the daily window [Start, End] in the window's
// location. Inside the window t is returned unchanged; before the start it moves
// to that day's start; after the end it moves to the next day's start.
func NextCallTime(t time.Time, w merchants.Window) time.Time {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	dayStart := at(y, m, d, w.Start, loc)
	dayEnd := at(y, m, d, w.End, loc)

	switch {
	case local.Before(dayStart):
		return dayStart
	case local.After(dayEnd):
		return at(y, m, d+1, w.Start, loc)
	default:
		return t
	}
}

func at(y int, m time.Month, d int, offset time.Duration, loc *time.Location) time.Time {
	h := int(offset / time.Hour)
	mins := int((offset % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mins, 0, 0, loc)
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidE164 reports whether phone is a dialable E.164 number.
func ValidE164(phone string) bool { return e164.MatchString(phone) }
