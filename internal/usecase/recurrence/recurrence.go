package recurrence

import (
	"time"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// Next returns the next scheduled date after an execution on last: the calendar day of
// last plus exactly one period, at the anchor's time of day.
//
// Monthly and quarterly dates keep the anchor's day of month when last fell on a month
// end clamped from it, so a plan anchored on the 31st runs on Jan 31, Feb 29, Mar 31.
// A late execution shifts the cadence to the day it actually ran (Feb 27 -> Mar 27).
func Next(frequency domain.Frequency, anchor, last time.Time) (time.Time, error) {
	if !frequency.Valid() {
		return time.Time{}, domain.NewValidationError("frequency", "unknown frequency "+string(frequency))
	}

	loc := anchor.Location()
	year, month, day := last.In(loc).Date()
	hour, min, sec := anchor.Clock()
	base := time.Date(year, month, day, hour, min, sec, anchor.Nanosecond(), loc)

	switch frequency {
	case domain.FrequencyWeekly:
		return base.AddDate(0, 0, 7), nil
	case domain.FrequencyBiweekly:
		return base.AddDate(0, 0, 14), nil
	case domain.FrequencyMonthly:
		return addMonths(base, 1, targetDay(base, anchor)), nil
	default: // quarterly
		return addMonths(base, 3, targetDay(base, anchor)), nil
	}
}

// ResumeDate returns the next execution date of a plan resumed at now.
// A resumed plan restarts its cadence one day after the resume instead of keeping its
// historical phase.
func ResumeDate(frequency domain.Frequency, now time.Time) (time.Time, error) {
	if !frequency.Valid() {
		return time.Time{}, domain.NewValidationError("frequency", "unknown frequency "+string(frequency))
	}
	return now.AddDate(0, 0, 1), nil
}

// targetDay is the day of month the next occurrence aims for. It is the day of base,
// except when base is a month end clamped down from a later anchor day.
func targetDay(base, anchor time.Time) int {
	day := base.Day()
	if day == daysIn(base.Year(), base.Month(), base.Location()) && anchor.Day() > day {
		return anchor.Day()
	}
	return day
}

// AddMonthsClamped adds n calendar months to t keeping the day of month,
// clamped to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
// time.AddDate would normalize Feb 31 into March instead.
func AddMonthsClamped(t time.Time, n int) time.Time {
	return addMonths(t, n, t.Day())
}

func addMonths(t time.Time, n, day int) time.Time {
	hour, min, sec := t.Clock()

	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if lastDay := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), t.Location()); day > lastDay {
		day = lastDay
	}

	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
