package sched

import "time"

// RecurrenceKind selects how an event recomputes its next due time.
type RecurrenceKind int

const (
	// Once runs a single time and is then removed.
	Once RecurrenceKind = iota
	// Every repeats at a fixed interval anchored to the previous due time.
	Every
	// Daily runs at a time of day.
	Daily
	// Weekly runs on a weekday at a time of day.
	Weekly
	// Monthly runs on a day of month at a time of day, clamped to the last
	// day of shorter months.
	Monthly
)

// Recurrence describes an event's repetition rule.
type Recurrence struct {
	Kind RecurrenceKind

	// Interval applies to Every (any duration ≥ 1s; seconds, minutes and
	// hours are all expressed here).
	Interval time.Duration

	// TimeOfDay applies to Daily, Weekly and Monthly, as an offset from
	// local midnight.
	TimeOfDay time.Duration

	// Weekday applies to Weekly.
	Weekday time.Weekday

	// DayOfMonth applies to Monthly (1..31).
	DayOfMonth int
}

// EverySeconds builds a fixed-interval recurrence of n seconds.
func EverySeconds(n int) Recurrence {
	return Recurrence{Kind: Every, Interval: time.Duration(n) * time.Second}
}

// EveryMinutes builds a fixed-interval recurrence of n minutes.
func EveryMinutes(n int) Recurrence {
	return Recurrence{Kind: Every, Interval: time.Duration(n) * time.Minute}
}

// EveryHours builds a fixed-interval recurrence of n hours.
func EveryHours(n int) Recurrence {
	return Recurrence{Kind: Every, Interval: time.Duration(n) * time.Hour}
}

// DailyAt builds a daily recurrence at hh:mm:ss.
func DailyAt(hh, mm, ss int) Recurrence {
	return Recurrence{Kind: Daily, TimeOfDay: timeOfDay(hh, mm, ss)}
}

// WeeklyAt builds a weekly recurrence on dow at hh:mm:ss.
func WeeklyAt(dow time.Weekday, hh, mm, ss int) Recurrence {
	return Recurrence{Kind: Weekly, Weekday: dow, TimeOfDay: timeOfDay(hh, mm, ss)}
}

// MonthlyAt builds a monthly recurrence on day at hh:mm:ss.
func MonthlyAt(day, hh, mm, ss int) Recurrence {
	return Recurrence{Kind: Monthly, DayOfMonth: day, TimeOfDay: timeOfDay(hh, mm, ss)}
}

func timeOfDay(hh, mm, ss int) time.Duration {
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second
}

// Next computes the due time following an execution. prevDue is the due time
// the event just fired for; now is the current clock reading. For Every the
// result anchors to prevDue so a scheduler that falls behind fires catch-up
// runs (the caller decides whether to coalesce). Calendar kinds anchor to
// now. Returns zero time for Once.
func (r Recurrence) Next(prevDue, now time.Time) time.Time {
	switch r.Kind {
	case Every:
		if r.Interval <= 0 {
			return time.Time{}
		}
		return prevDue.Add(r.Interval)
	case Daily:
		return nextDaily(now, r.TimeOfDay)
	case Weekly:
		return nextWeekly(now, r.Weekday, r.TimeOfDay)
	case Monthly:
		return nextMonthly(now, r.DayOfMonth, r.TimeOfDay)
	default:
		return time.Time{}
	}
}

// CoalescedNext is like Next but skips any catch-up backlog: the returned
// time is always after now.
func (r Recurrence) CoalescedNext(prevDue, now time.Time) time.Time {
	next := r.Next(prevDue, now)
	if next.IsZero() || r.Kind != Every {
		return next
	}
	for !next.After(now) {
		next = next.Add(r.Interval)
	}
	return next
}

func nextDaily(now time.Time, tod time.Duration) time.Time {
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(tod)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(now time.Time, dow time.Weekday, tod time.Duration) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	days := (int(dow) - int(now.Weekday()) + 7) % 7
	candidate := midnight.AddDate(0, 0, days).Add(tod)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthly(now time.Time, day int, tod time.Duration) time.Time {
	if day < 1 {
		day = 1
	}
	y, m, _ := now.Date()
	candidate := monthlyOn(y, m, day, tod, now.Location())
	if !candidate.After(now) {
		ny, nm := y, m+1
		if nm > time.December {
			ny, nm = y+1, time.January
		}
		candidate = monthlyOn(ny, nm, day, tod, now.Location())
	}
	return candidate
}

// monthlyOn builds the occurrence in a given month, clamping day to the
// month's last day.
func monthlyOn(y int, m time.Month, day int, tod time.Duration, loc *time.Location) time.Time {
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(y, m, day, 0, 0, 0, 0, loc).Add(tod)
}
