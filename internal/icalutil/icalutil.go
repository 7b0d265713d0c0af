// Package icalutil holds small helpers around go-ical shared by the server
// packages.
package icalutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-ical"
)

// ProductID is stamped on calendars this module generates.
const ProductID = "-//Calstore//Go Calendar//EN"

// Decode parses a raw calendar payload.
func Decode(data []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}

// Encode serializes cal.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// NewCalendar returns an empty VCALENDAR with VERSION and PRODID set.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// IsSchedulable reports whether a component type carries a UID and time
// data of its own.
func IsSchedulable(name string) bool {
	switch name {
	case ical.CompEvent, ical.CompToDo, ical.CompJournal:
		return true
	}
	return false
}

// UID returns the UID of comp, or "".
func UID(comp *ical.Component) string {
	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		return prop.Value
	}
	return ""
}

// IsOverride reports whether comp is an overridden instance of a series.
func IsOverride(comp *ical.Component) bool {
	return comp.Props.Get(ical.PropRecurrenceID) != nil
}

// Masters returns the master component of every UID in cal, in declaration
// order. A UID made only of overrides is represented by its first override.
func Masters(cal *ical.Calendar) []*ical.Component {
	if cal == nil {
		return nil
	}
	index := make(map[string]int)
	var out []*ical.Component
	for _, child := range cal.Children {
		if !IsSchedulable(child.Name) {
			continue
		}
		uid := UID(child)
		i, seen := index[uid]
		switch {
		case !seen:
			index[uid] = len(out)
			out = append(out, child)
		case IsOverride(out[i]) && !IsOverride(child):
			out[i] = child
		}
	}
	return out
}

// CloneComponent returns a deep copy of comp.
func CloneComponent(comp *ical.Component) *ical.Component {
	out := &ical.Component{
		Name:  comp.Name,
		Props: make(ical.Props, len(comp.Props)),
	}
	for name, props := range comp.Props {
		cloned := make([]ical.Prop, len(props))
		for i, p := range props {
			cloned[i] = ical.Prop{Name: p.Name, Value: p.Value, Params: make(ical.Params, len(p.Params))}
			for k, v := range p.Params {
				cloned[i].Params[k] = append([]string(nil), v...)
			}
		}
		out.Props[name] = cloned
	}
	for _, child := range comp.Children {
		out.Children = append(out.Children, CloneComponent(child))
	}
	return out
}

// CloneCalendar returns a deep copy of cal.
func CloneCalendar(cal *ical.Calendar) *ical.Calendar {
	return &ical.Calendar{Component: CloneComponent(cal.Component)}
}

// NormalizeAddress returns the comparison key of a calendar user address:
// lower-cased, without the mailto: scheme.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = addr[7:]
	}
	return strings.ToLower(addr)
}
