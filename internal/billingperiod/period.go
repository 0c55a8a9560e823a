// Package billingperiod resolves the billing period a point in time falls
// into, anchored to a subscription's start date. Periods advance in whole
// calendar months from the anchor; when the anchor day does not exist in a
// target month the start clamps to that month's last day. Period ends are
// inclusive: the day before the next period's start.
package billingperiod

import "time"

// Period is one billing cycle. Start and End carry the anchor's time of day;
// End is the last day of the cycle, inclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

// Resolve returns the period containing now. Months are always counted from
// the anchor itself, so an anchor on Jan 31 yields Feb 28 and then Mar 31
// rather than drifting to Mar 28. For now before the anchor the first period
// is returned.
func Resolve(anchor, now time.Time) Period {
	n := 0
	for !now.Before(AddMonths(anchor, n+1)) {
		n++
	}
	return Period{
		Start: AddMonths(anchor, n),
		End:   AddMonths(anchor, n+1).AddDate(0, 0, -1),
	}
}

// AddMonths advances t by n calendar months, clamping the day of month to the
// target month's last day. Unlike time.Time.AddDate it never overflows into
// the following month.
func AddMonths(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	year, month, day := t.Date()
	total := int(month) + n
	year += (total - 1) / 12
	month = time.Month((total-1)%12 + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Contains reports whether t falls inside the period. The comparison treats
// End as inclusive through the end of its day relative to the anchor time.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End.AddDate(0, 0, 1))
}

// Days returns the period length in whole days, counting both endpoints.
func (p Period) Days() int {
	return int(p.End.AddDate(0, 0, 1).Sub(p.Start).Hours() / 24)
}

func daysIn(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
