package digest

import (
	"strconv"
	"time"
)

const (
	dayHours  = 24
	weekHours = 7 * dayHours
)

// lastSentFrom backs the latest audit record off by a second so notifications
// stamped in the same instant as the send are not skipped. No record means epoch.
func lastSentFrom(rec time.Time, ok bool) time.Time {
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return rec.Add(-time.Second)
}

// hoursSinceMidnight is the fractional hour of day in loc.
func hoursSinceMidnight(now time.Time, loc *time.Location) float64 {
	local := now.In(loc)
	y, m, d := local.Date()
	return local.Sub(time.Date(y, m, d, 0, 0, 0, 0, loc)).Hours()
}

// shouldSend reports whether a digest is due. Live always is. Daily and Weekly
// go out within the first two local hours of the day, once the previous send
// is at least a window (less one hour of slack) old.
func shouldSend(freq Frequency, now, lastSent time.Time, hasRecord bool, sinceMidnight float64) bool {
	var window time.Duration
	switch freq {
	case Live:
		return true
	case Daily:
		window = dayHours * time.Hour
	case Weekly:
		window = weekHours * time.Hour
	default:
		return false
	}
	if sinceMidnight >= 2 {
		return false
	}
	if !hasRecord {
		return true
	}
	return now.Sub(lastSent) >= window-time.Hour
}

// startTime is the lower bound for notifications listed in the email.
func startTime(freq Frequency, now, lastSent time.Time) time.Time {
	switch freq {
	case Daily:
		return now.AddDate(0, 0, -1)
	case Weekly:
		return now.AddDate(0, 0, -7)
	default:
		return lastSent
	}
}

// announcementBucket reports whether an announcement of the given age still
// qualifies for a user on freq.
func announcementBucket(freq Frequency, age time.Duration) bool {
	h := age.Hours()
	switch freq {
	case Live:
		return h < 1
	case Daily:
		return h < dayHours*1.5
	case Weekly:
		return h < weekHours*1.5
	default:
		return false
	}
}

func pluralCount(n int) string {
	s := strconv.Itoa(n) + " unread notification"
	if n > 1 {
		s += "s"
	}
	return s
}

// Subject formats the email subject for freq with the dates taken from now.
func Subject(freq Frequency, count int, now time.Time) string {
	dayAgo := now.AddDate(0, 0, -1)
	weekAgo := now.AddDate(0, 0, -7)
	switch freq {
	case Daily:
		return pluralCount(count) + " from " + longDate(dayAgo)
	case Weekly:
		return pluralCount(count) + " from " + shortDate(weekAgo) + " - " + longDate(dayAgo)
	default:
		return pluralCount(count)
	}
}

// shortDate renders "January 2nd".
func shortDate(t time.Time) string {
	return t.Format("January") + " " + ordinal(t.Day())
}

// longDate renders "January 2nd 2006".
func longDate(t time.Time) string {
	return shortDate(t) + " " + strconv.Itoa(t.Year())
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}
