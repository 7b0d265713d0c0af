package scheduling

import (
	"bytes"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/emersion/go-ical"
)

// ComponentChange pairs the old and new version of one UID. Old is nil for
// a new UID and New is nil for a removed one. The enclosing calendars are
// kept so messages can carry overrides and time zones.
type ComponentChange struct {
	UID         string
	Old         *ical.Component
	New         *ical.Component
	OldCalendar *ical.Calendar
	NewCalendar *ical.Calendar
}

// Diff pairs up the master components of both calendars by UID and reports
// every UID whose component changed. Either calendar may be nil. A component
// is unchanged only when SEQUENCE, LAST-MODIFIED and everything else except
// DTSTAMP are equal, so attendee edits count even without a sequence bump.
// Changes are ordered
// by their position in newCal, followed by removals in the order of oldCal.
func Diff(oldCal, newCal *ical.Calendar) []ComponentChange {
	oldMasters := icalutil.Masters(oldCal)
	byUID := make(map[string]*ical.Component, len(oldMasters))
	for _, comp := range oldMasters {
		byUID[icalutil.UID(comp)] = comp
	}

	var changes []ComponentChange
	seen := make(map[string]bool)
	for _, comp := range icalutil.Masters(newCal) {
		uid := icalutil.UID(comp)
		seen[uid] = true
		prev := byUID[uid]
		if prev != nil && !modified(prev, comp) {
			continue
		}
		changes = append(changes, ComponentChange{UID: uid, Old: prev, New: comp, OldCalendar: oldCal, NewCalendar: newCal})
	}
	for _, comp := range oldMasters {
		uid := icalutil.UID(comp)
		if seen[uid] {
			continue
		}
		changes = append(changes, ComponentChange{UID: uid, Old: comp, OldCalendar: oldCal, NewCalendar: newCal})
	}
	return changes
}

func modified(a, b *ical.Component) bool {
	if propValue(a, ical.PropSequence) != propValue(b, ical.PropSequence) ||
		propValue(a, ical.PropLastModified) != propValue(b, ical.PropLastModified) {
		return true
	}
	ca, cb := canonical(a), canonical(b)
	return ca == nil || cb == nil || !bytes.Equal(ca, cb)
}

// canonical encodes comp with DTSTAMP blanked. It returns nil when the
// component cannot be encoded.
func canonical(comp *ical.Component) []byte {
	clone := icalutil.CloneComponent(comp)
	clone.Props.Set(&ical.Prop{Name: ical.PropDateTimeStamp, Params: make(ical.Params)})
	cal := icalutil.NewCalendar()
	cal.Children = append(cal.Children, clone)
	data, err := icalutil.Encode(cal)
	if err != nil {
		return nil
	}
	return data
}

func propValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}
