package recurrence

import (
	"slices"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// Pattern classifies the recurrence. Rules with ordinal weekdays, set
// positions or week numbers are relative; everything else, including
// series made only of explicit dates, is absolute.
func (e *Event) Pattern() Pattern {
	if !e.IsRecurring() {
		return PatternNone
	}
	if e.rule == nil {
		return PatternAbsolute
	}
	r := e.rule
	if len(r.Bysetpos) > 0 || len(r.Byweekno) > 0 {
		return PatternRelative
	}
	for i := range r.Byweekday {
		if r.Byweekday[i].N() != 0 {
			return PatternRelative
		}
	}
	if len(r.Byweekday) > 0 && (r.Freq == rrule.MONTHLY || r.Freq == rrule.YEARLY) {
		return PatternRelative
	}
	return PatternAbsolute
}

// Precision returns the repeat granularity.
func (e *Event) Precision() Precision {
	if !e.IsRecurring() {
		return PrecisionNone
	}
	if e.rule == nil {
		return PrecisionFixed
	}
	switch e.rule.Freq {
	case rrule.YEARLY:
		return PrecisionYearly
	case rrule.MONTHLY:
		return PrecisionMonthly
	case rrule.WEEKLY:
		return PrecisionWeekly
	default:
		return PrecisionDaily
	}
}

// Interval returns the rule's INTERVAL, 1 when unset and 0 when the event
// has no rule.
func (e *Event) Interval() int {
	if e.rule == nil {
		return 0
	}
	if e.rule.Interval < 1 {
		return 1
	}
	return e.rule.Interval
}

// Weekdays returns the weekdays the rule selects. A weekly rule without
// BYDAY repeats on the weekday of DTSTART.
func (e *Event) Weekdays() []time.Weekday {
	if e.rule == nil {
		return nil
	}
	if len(e.rule.Byweekday) == 0 {
		if e.rule.Freq == rrule.WEEKLY {
			return []time.Weekday{e.Start().Weekday()}
		}
		return nil
	}
	out := make([]time.Weekday, 0, len(e.rule.Byweekday))
	for i := range e.rule.Byweekday {
		// rrule-go counts from Monday.
		wd := time.Weekday((e.rule.Byweekday[i].Day() + 1) % 7)
		if !slices.Contains(out, wd) {
			out = append(out, wd)
		}
	}
	return out
}

// MonthDays returns BYMONTHDAY, or the day of DTSTART for a plain monthly
// or yearly rule.
func (e *Event) MonthDays() []int {
	if e.rule == nil {
		return nil
	}
	if len(e.rule.Bymonthday) > 0 {
		return slices.Clone(e.rule.Bymonthday)
	}
	if len(e.rule.Byweekday) > 0 || len(e.rule.Byyearday) > 0 || len(e.rule.Byweekno) > 0 {
		return nil
	}
	if e.rule.Freq == rrule.MONTHLY || e.rule.Freq == rrule.YEARLY {
		return []int{e.Start().Day()}
	}
	return nil
}

// YearDays returns BYYEARDAY.
func (e *Event) YearDays() []int {
	if e.rule == nil {
		return nil
	}
	return slices.Clone(e.rule.Byyearday)
}

// WeekNumbers returns BYWEEKNO.
func (e *Event) WeekNumbers() []int {
	if e.rule == nil {
		return nil
	}
	return slices.Clone(e.rule.Byweekno)
}

// Months returns BYMONTH, or the month of DTSTART for a plain yearly rule.
func (e *Event) Months() []time.Month {
	if e.rule == nil {
		return nil
	}
	if len(e.rule.Bymonth) == 0 {
		if e.rule.Freq == rrule.YEARLY && len(e.rule.Byyearday) == 0 && len(e.rule.Byweekno) == 0 {
			return []time.Month{e.Start().Month()}
		}
		return nil
	}
	out := make([]time.Month, 0, len(e.rule.Bymonth))
	for _, m := range e.rule.Bymonth {
		out = append(out, time.Month(m))
	}
	return out
}

// SetPositions returns BYSETPOS.
func (e *Event) SetPositions() []int {
	if e.rule == nil {
		return nil
	}
	return slices.Clone(e.rule.Bysetpos)
}

// EndDate returns the start of the last occurrence. It is absent for
// unbounded series and for series running past MaxDate.
func (e *Event) EndDate() mo.Option[time.Time] {
	if !e.isFinite() {
		return mo.None[time.Time]()
	}
	last, count, capped := e.scan()
	if capped || count == 0 {
		return mo.None[time.Time]()
	}
	return mo.Some(last)
}

// OccurrenceCount returns the number of occurrences when it can be
// determined, after EXDATEs and RDATEs are applied.
func (e *Event) OccurrenceCount() mo.Option[int] {
	if !e.isFinite() {
		return mo.None[int]()
	}
	_, count, capped := e.scan()
	if capped {
		return mo.None[int]()
	}
	return mo.Some(count)
}
