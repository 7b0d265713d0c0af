package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/emersion/go-ical"
)

const (
	layoutDate     = "20060102"
	layoutLocal    = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
	propWRTimezone = "X-WR-TIMEZONE"
)

// masterComponent finds the component carrying uid. The master (no
// RECURRENCE-ID) wins over overridden instances.
func masterComponent(cal *ical.Calendar, uid string) *ical.Component {
	var fallback *ical.Component
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		prop := child.Props.Get(ical.PropUID)
		if prop == nil || prop.Value != uid {
			continue
		}
		if child.Props.Get(ical.PropRecurrenceID) == nil {
			return child
		}
		if fallback == nil {
			fallback = child
		}
	}
	return fallback
}

// globalZone returns the zone declared once for the whole payload, either
// through X-WR-TIMEZONE or a single VTIMEZONE definition.
func globalZone(cal *ical.Calendar, zones *ZoneTable) (*time.Location, bool) {
	if cal == nil {
		return nil, false
	}
	if prop := cal.Props.Get(propWRTimezone); prop != nil && prop.Value != "" {
		if loc, ok := zones.Resolve(prop.Value); ok {
			return loc, true
		}
	}
	var tzids []string
	for _, child := range cal.Children {
		if child.Name != ical.CompTimezone {
			continue
		}
		if prop := child.Props.Get(ical.PropTimezoneID); prop != nil && prop.Value != "" {
			tzids = append(tzids, prop.Value)
		}
	}
	if len(tzids) != 1 {
		return nil, false
	}
	return zones.Resolve(tzids[0])
}

// zonedValue is a DATE or DATE-TIME property value resolved to an instant.
type zonedValue struct {
	Time   time.Time
	Zone   *time.Location
	IsDate bool
}

// resolver turns property values into instants following the zone
// precedence: TZID parameter, payload-global zone, UTC.
type resolver struct {
	zones     *ZoneTable
	global    *time.Location
	hasGlobal bool
}

func (r resolver) zoneFor(prop *ical.Prop) *time.Location {
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		// Unresolvable names fall back to UTC rather than to the global zone.
		loc, _ := r.zones.Resolve(tzid)
		return loc
	}
	if r.hasGlobal {
		return r.global
	}
	return time.UTC
}

func isDateValue(prop *ical.Prop, value string) bool {
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") {
		return true
	}
	return len(value) == len(layoutDate)
}

func (r resolver) value(prop *ical.Prop) (zonedValue, error) {
	if prop == nil {
		return zonedValue{}, fmt.Errorf("missing property")
	}
	values, err := r.values(prop)
	if err != nil {
		return zonedValue{}, err
	}
	if len(values) == 0 {
		return zonedValue{}, fmt.Errorf("empty %s value", prop.Name)
	}
	return values[0], nil
}

// values parses every comma-separated value of prop. PERIOD values keep
// their start.
func (r resolver) values(prop *ical.Prop) ([]zonedValue, error) {
	loc := r.zoneFor(prop)
	var out []zonedValue
	for _, raw := range strings.Split(prop.Value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if idx := strings.IndexByte(raw, '/'); idx != -1 {
			raw = raw[:idx]
		}
		v, err := parseValue(raw, isDateValue(prop, raw), loc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", prop.Name, raw, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseValue(raw string, date bool, loc *time.Location) (zonedValue, error) {
	switch {
	case date:
		t, err := time.ParseInLocation(layoutDate, raw, loc)
		return zonedValue{Time: t, Zone: loc, IsDate: true}, err
	case strings.HasSuffix(raw, "Z"):
		t, err := time.Parse(layoutUTC, raw)
		return zonedValue{Time: t, Zone: time.UTC}, err
	default:
		t, err := time.ParseInLocation(layoutLocal, raw, loc)
		return zonedValue{Time: t, Zone: loc}, err
	}
}

// dateList collects the instants of every property named name, aligning
// DATE values of a timed series to the series' clock time.
func (r resolver) dateList(comp *ical.Component, name string, start zonedValue) []time.Time {
	var out []time.Time
	for i := range comp.Props[name] {
		prop := &comp.Props[name][i]
		values, err := r.values(prop)
		if err != nil {
			continue
		}
		for _, v := range values {
			t := v.Time
			if v.IsDate && !start.IsDate {
				st := start.Time.In(start.Zone)
				t = time.Date(t.Year(), t.Month(), t.Day(), st.Hour(), st.Minute(), st.Second(), 0, start.Zone)
			}
			out = append(out, t.In(start.Zone))
		}
	}
	return out
}
