package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/recurrence"
)

// TextMatch describes a <text‑match> constraint.
type TextMatch struct {
	Collation string // "i;ascii-casemap" when empty, "i;octet", etc.
	MatchType string // "equals", "contains", …
	Negate    bool   // true if negate-condition="yes"
	Value     string // text to match
}

// ParamFilter describes a <param-filter> inside a prop-filter.
type ParamFilter struct {
	Name         string     // e.g. "LANGUAGE", "PARTSTAT"
	IsNotDefined bool       // <is-not-defined/>
	TextMatch    *TextMatch // optional
}

// PropFilter describes a <prop‑filter> inside a comp-filter.
type PropFilter struct {
	Name         string        // e.g. "SUMMARY", "UID"
	IsNotDefined bool          // <is-not-defined/>
	TextMatch    *TextMatch    // optional
	ParamFilters []ParamFilter // zero or more <param-filter>
	Test         string        // "anyof" (default) or "allof"
}

// TimeRange describes a <time‑range> in a comp-filter. A nil bound is open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Filter is the one node type of a calendar query.
// It can represent a comp-filter, time-range, or prop-filters
type Filter struct {
	Component    string       // Name of component (e.g. "VCALENDAR", "VEVENT")
	IsNotDefined bool         // <is-not-defined/>
	TimeRange    *TimeRange   // optional <time-range>
	PropFilters  []PropFilter // zero or more <prop-filter>
	Children     []Filter     // nested <comp-filter>
	Test         string       // "anyof" (default) or "allof"
}

// Validate checks the shape of a query filter: the root must name
// VCALENDAR and every time range must be ordered.
func (f *Filter) Validate() error {
	if f == nil {
		return fmt.Errorf("empty filter")
	}
	if f.Component != ical.CompCalendar {
		return fmt.Errorf("root filter must select %s, got %q", ical.CompCalendar, f.Component)
	}
	return f.validateNode()
}

func (f *Filter) validateNode() error {
	if f.Component == "" {
		return fmt.Errorf("comp-filter without component name")
	}
	if tr := f.TimeRange; tr != nil && tr.Start != nil && tr.End != nil && !tr.Start.Before(*tr.End) {
		return fmt.Errorf("time range of %s: start %s is not before end %s", f.Component, tr.Start, tr.End)
	}
	for i := range f.Children {
		if err := f.Children[i].validateNode(); err != nil {
			return err
		}
	}
	return nil
}

// ComponentTypes returns the component types selected directly below the
// VCALENDAR root, for index pre-filtering. nil means any type.
func (f *Filter) ComponentTypes() []string {
	if f == nil || (len(f.Children) > 1 && f.Test == "allof") {
		return nil
	}
	var out []string
	for _, child := range f.Children {
		if child.IsNotDefined || len(f.PropFilters) > 0 {
			return nil
		}
		out = append(out, child.Component)
	}
	return out
}

// Window returns the widest time window the filter can match, for index
// pre-filtering. Zero values are open bounds.
func (f *Filter) Window() (start, end time.Time) {
	if f == nil || len(f.Children) == 0 || len(f.PropFilters) > 0 {
		return time.Time{}, time.Time{}
	}
	openStart, openEnd := false, false
	for i, child := range f.Children {
		if child.IsNotDefined || child.TimeRange == nil {
			return time.Time{}, time.Time{}
		}
		if s := child.TimeRange.Start; s == nil {
			openStart = true
		} else if i == 0 || s.Before(start) {
			start = *s
		}
		if e := child.TimeRange.End; e == nil {
			openEnd = true
		} else if i == 0 || e.After(end) {
			end = *e
		}
	}
	if openStart {
		start = time.Time{}
	}
	if openEnd {
		end = time.Time{}
	}
	return start, end
}

// Match reports whether cal satisfies f. Time ranges are evaluated against
// every occurrence of a recurring component.
func (f *Filter) Match(cal *ical.Calendar, opts ...recurrence.Option) bool {
	if cal == nil {
		return f.matchComponent(nil, nil, opts)
	}
	return f.matchComponent(cal, cal.Component, opts)
}

func (f *Filter) matchComponent(cal *ical.Calendar, comp *ical.Component, opts []recurrence.Option) bool {
	if comp == nil || comp.Name != f.Component {
		return f.IsNotDefined
	}
	if f.IsNotDefined {
		return false
	}
	if f.TimeRange != nil && !matchTimeRange(cal, comp, f.TimeRange, opts) {
		return false
	}

	var results []bool
	for i := range f.PropFilters {
		results = append(results, f.PropFilters[i].match(comp))
	}
	for i := range f.Children {
		results = append(results, f.Children[i].matchChildren(cal, comp, opts))
	}
	return combine(results, f.Test)
}

// matchChildren evaluates a nested comp-filter against the children of
// parent: any child of the named type may satisfy it.
func (f *Filter) matchChildren(cal *ical.Calendar, parent *ical.Component, opts []recurrence.Option) bool {
	found := false
	for _, child := range parent.Children {
		if child.Name != f.Component {
			continue
		}
		found = true
		if f.IsNotDefined {
			return false
		}
		if f.matchComponent(cal, child, opts) {
			return true
		}
	}
	return !found && f.IsNotDefined
}

func matchTimeRange(cal *ical.Calendar, comp *ical.Component, tr *TimeRange, opts []recurrence.Option) bool {
	var start, end time.Time
	if tr.Start != nil {
		start = *tr.Start
	}
	if tr.End != nil {
		end = *tr.End
	}
	ev, err := recurrence.NewEvent(cal, comp, opts...)
	if err != nil {
		// A to-do without DTSTART and DUE matches every range.
		return comp.Name == ical.CompToDo && comp.Props.Get(ical.PropDateTimeStart) == nil && comp.Props.Get(ical.PropDue) == nil
	}
	if icalutil.IsOverride(comp) || ev.RuleErr() != nil {
		return overlaps(ev.Start(), ev.End(), start, end)
	}
	return ev.Overlaps(start, end)
}

// overlaps tests [s, e) against [start, end); zero bounds are open. An
// instant event matches when it lies inside the range.
func overlaps(s, e, start, end time.Time) bool {
	if !end.IsZero() && !s.Before(end) {
		return false
	}
	if start.IsZero() {
		return true
	}
	return e.After(start) || (s.Equal(e) && !s.Before(start))
}

func (pf *PropFilter) match(comp *ical.Component) bool {
	props := comp.Props[strings.ToUpper(pf.Name)]
	if pf.IsNotDefined {
		return len(props) == 0
	}
	if len(props) == 0 {
		return false
	}
	for i := range props {
		if pf.matchProp(&props[i]) {
			return true
		}
	}
	return false
}

func (pf *PropFilter) matchProp(prop *ical.Prop) bool {
	if pf.TextMatch == nil && len(pf.ParamFilters) == 0 {
		return true
	}
	var results []bool
	if pf.TextMatch != nil {
		results = append(results, matchText(propText(prop), pf.TextMatch))
	}
	for i := range pf.ParamFilters {
		results = append(results, pf.ParamFilters[i].match(prop))
	}
	return combine(results, pf.Test)
}

func (pf *ParamFilter) match(prop *ical.Prop) bool {
	values, ok := prop.Params[strings.ToUpper(pf.Name)]
	if pf.IsNotDefined {
		return !ok
	}
	if !ok {
		return false
	}
	if pf.TextMatch == nil {
		return true
	}
	for _, v := range values {
		if matchText(v, pf.TextMatch) {
			return true
		}
	}
	return false
}

// propText returns the unescaped value of text properties and the raw value
// of everything else.
func propText(prop *ical.Prop) string {
	if text, err := prop.Text(); err == nil {
		return text
	}
	return prop.Value
}

// matchText applies tm to value. The octet collation and an unset one
// compare bytes; the casemap collations ignore case.
func matchText(value string, tm *TextMatch) bool {
	needle := tm.Value
	// An empty collation is i;ascii-casemap, the calendar-query default.
	switch strings.ToLower(tm.Collation) {
	case "", "i;unicode-casemap", "i;ascii-casemap":
		value = strings.ToLower(value)
		needle = strings.ToLower(needle)
	}

	var ok bool
	switch tm.MatchType {
	case "equals":
		ok = value == needle
	case "starts-with":
		ok = strings.HasPrefix(value, needle)
	case "ends-with":
		ok = strings.HasSuffix(value, needle)
	default:
		ok = strings.Contains(value, needle)
	}
	return ok != tm.Negate
}

// combine folds filter results by test: "allof" needs every result,
// anything else needs one. No results is a match.
func combine(results []bool, test string) bool {
	if len(results) == 0 {
		return true
	}
	all := test == "allof"
	for _, r := range results {
		if r && !all {
			return true
		}
		if !r && all {
			return false
		}
	}
	return all
}
