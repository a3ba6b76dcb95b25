package nexus

import "time"

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func yearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// nextMonthStart returns the first day of the month after t.
func nextMonthStart(t time.Time) time.Time {
	return monthStart(t).AddDate(0, 1, 0)
}

// monthStartOnOrAfter returns t when it is the first of a month, otherwise
// the first day of the following month.
func monthStartOnOrAfter(t time.Time) time.Time {
	t = dateOf(t)
	if t.Day() == 1 {
		return t
	}
	return nextMonthStart(t)
}

func quarterStart(t time.Time) time.Time {
	month := time.Month((int(t.Month())-1)/3*3 + 1)
	return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC)
}

// periodStart returns the start of the twelve-month period beginning in
// startMonth that contains t.
func periodStart(t time.Time, startMonth time.Month) time.Time {
	year := t.Year()
	if t.Month() < startMonth {
		year--
	}
	return time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole days from start to end, clamped to zero.
func daysBetween(start, end time.Time) int {
	days := int(dateOf(end).Sub(dateOf(start)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// monthsBetween returns completed calendar months from start to end, clamped to zero.
func monthsBetween(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
