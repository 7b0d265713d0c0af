package recurrence

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Event interprets the temporal definition of one calendar component. It
// never mutates the component it was built from.
type Event struct {
	comp   *ical.Component
	logger *slog.Logger

	start  zonedValue
	end    zonedValue
	allDay bool

	rule    *rrule.ROption
	ruleErr error
	// iterRule is rule with COUNT reduced by an off-pattern DTSTART. It is
	// nil when DTSTART uses up the whole count.
	iterRule *rrule.ROption
	rdates  []time.Time
	exdates []time.Time
}

// NewEventFromPayload decodes data and builds the Event for the component
// carrying uid. It returns ErrNotFound if no such component exists.
func NewEventFromPayload(data []byte, uid string, opts ...Option) (*Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	comp := masterComponent(cal, uid)
	if comp == nil {
		return nil, fmt.Errorf("%w: uid %q", ErrNotFound, uid)
	}
	return NewEvent(cal, comp, opts...)
}

// NewEvent builds an Event from an already parsed component. cal may be nil;
// when present it supplies the payload-global time zone.
func NewEvent(cal *ical.Calendar, comp *ical.Component, opts ...Option) (*Event, error) {
	if comp == nil {
		return nil, ErrNotFound
	}
	c := newConfig(opts)
	r := resolver{zones: c.zones}
	r.global, r.hasGlobal = globalZone(cal, c.zones)

	e := &Event{comp: comp, logger: c.logger}
	if err := e.resolveTimes(r); err != nil {
		return nil, err
	}
	e.resolveRecurrence(r)
	return e, nil
}

func (e *Event) resolveTimes(r resolver) error {
	props := e.comp.Props
	startProp := props.Get(ical.PropDateTimeStart)
	if startProp == nil && e.comp.Name == ical.CompToDo {
		startProp = props.Get(ical.PropDue)
	}
	start, err := r.value(startProp)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	e.start = start

	switch {
	case props.Get(ical.PropDateTimeEnd) != nil:
		end, err := r.value(props.Get(ical.PropDateTimeEnd))
		if err != nil {
			return fmt.Errorf("invalid end time: %w", err)
		}
		e.end = end
	case props.Get(ical.PropDuration) != nil:
		d, err := props.Get(ical.PropDuration).Duration()
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		e.end = zonedValue{Time: start.Time.Add(d), Zone: start.Zone, IsDate: start.IsDate}
	case props.Get(ical.PropDue) != nil && e.comp.Name == ical.CompToDo:
		due, err := r.value(props.Get(ical.PropDue))
		if err != nil {
			return fmt.Errorf("invalid due time: %w", err)
		}
		e.end = due
	case start.IsDate:
		e.end = zonedValue{Time: start.Time.AddDate(0, 0, 1), Zone: start.Zone, IsDate: true}
	default:
		e.end = start
	}
	if e.end.Time.Before(e.start.Time) {
		e.end = e.start
	}

	e.allDay = e.start.IsDate || spansWholeDays(e.start.Time.In(e.start.Zone), e.end.Time.In(e.start.Zone))
	return nil
}

func spansWholeDays(start, end time.Time) bool {
	if !end.After(start) || !isMidnight(start) || !isMidnight(end) {
		return false
	}
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	days := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC).Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC))
	return days >= 24*time.Hour
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

func (e *Event) resolveRecurrence(r resolver) {
	props := e.comp.Props
	if prop := props.Get(ical.PropRecurrenceRule); prop != nil && prop.Value != "" {
		opt, err := rrule.StrToROptionInLocation(prop.Value, e.start.Zone)
		if err == nil {
			opt.Dtstart = e.start.Time.In(e.start.Zone)
			// Validate eagerly so a bad rule is caught once, not per iterator.
			_, err = rrule.NewRRule(*opt)
		}
		if err != nil {
			e.ruleErr = fmt.Errorf("malformed recurrence rule %q: %w", prop.Value, err)
			e.logger.Warn("ignoring malformed recurrence rule",
				"uid", props.Get(ical.PropUID).Value,
				"rrule", prop.Value,
				"error", err)
		} else {
			e.rule = opt
			e.iterRule = countedFromStart(opt)
		}
	}
	e.rdates = r.dateList(e.comp, ical.PropRecurrenceDates, e.start)
	e.exdates = r.dateList(e.comp, ical.PropExceptionDates, e.start)
}

// countedFromStart adjusts a COUNT rule whose DTSTART is not one of its own
// instances. DTSTART is always the first occurrence and counts towards
// COUNT, so the rule keeps one instance fewer.
func countedFromStart(opt *rrule.ROption) *rrule.ROption {
	if opt.Count == 0 {
		return opt
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return opt
	}
	if first, ok := r.Iterator()(); ok && first.Equal(opt.Dtstart) {
		return opt
	}
	if opt.Count == 1 {
		return nil
	}
	adjusted := *opt
	adjusted.Count--
	return &adjusted
}

// Component returns the component the event was built from.
func (e *Event) Component() *ical.Component { return e.comp }

// Start returns the first instant of the event in its start zone.
func (e *Event) Start() time.Time { return e.start.Time.In(e.start.Zone) }

// StartZone returns the resolved zone of DTSTART.
func (e *Event) StartZone() *time.Location { return e.start.Zone }

// End returns the end instant of the first occurrence in its end zone.
func (e *Event) End() time.Time { return e.end.Time.In(e.end.Zone) }

// EndZone returns the resolved zone of DTEND (or of DTSTART when the end is derived).
func (e *Event) EndZone() *time.Location { return e.end.Zone }

// Duration is the length of every occurrence.
func (e *Event) Duration() time.Duration { return e.end.Time.Sub(e.start.Time) }

// IsAllDay reports whether the event spans one or more entire days.
func (e *Event) IsAllDay() bool { return e.allDay }

// RuleErr returns the parse error of a malformed RRULE, if any. A malformed
// rule is otherwise treated as absent.
func (e *Event) RuleErr() error { return e.ruleErr }

// IsRecurring reports whether a usable rule or explicit extra dates exist.
func (e *Event) IsRecurring() bool {
	return e.rule != nil || len(e.rdates) > 0
}

// rruleFor builds a fresh rule; rrule.RRule carries iteration state, so
// iterators never share one.
func (e *Event) rruleFor() *rrule.RRule {
	if e.iterRule == nil {
		return nil
	}
	r, err := rrule.NewRRule(*e.iterRule)
	if err != nil {
		return nil
	}
	return r
}

// source returns a generator over all occurrence starts, in chronological
// order, with EXDATEs removed and RDATEs merged.
func (e *Event) source() func() (time.Time, bool) {
	set := &rrule.Set{}
	if r := e.rruleFor(); r != nil {
		set.RRule(r)
	}
	set.RDate(e.Start())
	for _, d := range e.rdates {
		set.RDate(d)
	}
	for _, d := range e.exdates {
		set.ExDate(d)
	}
	return set.Iterator()
}

// isFinite reports whether the series has a defined end.
func (e *Event) isFinite() bool {
	if e.rule == nil {
		return true
	}
	return e.rule.Count > 0 || !e.rule.Until.IsZero()
}

// HasEnd reports whether the series ends, by COUNT, UNTIL or because it
// consists of explicit dates only.
func (e *Event) HasEnd() bool { return e.isFinite() }

// maxScanInstances bounds the walk over a finite series. Denser series are
// indexed as if they ran to MaxDate.
const maxScanInstances = 100000

// scan walks a finite series up to MaxDate and returns the last occurrence
// and the number of occurrences seen. capped is true when MaxDate or the
// instance budget was hit.
func (e *Event) scan() (last time.Time, count int, capped bool) {
	it := e.Iterator()
	for t, ok := it.Current(); ok; t, ok = it.Advance() {
		if t.After(MaxDate) || count == maxScanInstances {
			return last, count, true
		}
		last = t
		count++
	}
	return last, count, false
}

// Bounds returns the indexing window of the series.
func (e *Event) Bounds() Bounds {
	first, ok := e.Iterator().Current()
	if !ok {
		// Every instance excluded: index the master instance.
		return Bounds{First: e.Start(), Last: e.Start().Add(e.Duration())}
	}
	if !e.isFinite() {
		return Bounds{First: first, Last: MaxDate}
	}
	last, _, capped := e.scan()
	if capped {
		return Bounds{First: first, Last: MaxDate}
	}
	end := last.Add(e.Duration())
	if end.After(MaxDate) {
		end = MaxDate
	}
	return Bounds{First: first, Last: end}
}
