package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/recurrence"
)

// inspection holds everything derived from a payload at write time.
type inspection struct {
	calendar       *ical.Calendar
	uid            string
	componentType  string
	classification classification.Classification
	bounds         recurrence.Bounds
	size           int
	etag           string
}

// apply copies the derived fields onto obj.
func (in *inspection) apply(obj *CalendarObject, data []byte) {
	obj.Data = data
	obj.UID = in.uid
	obj.ComponentType = in.componentType
	obj.Classification = in.classification
	obj.FirstOccurrence = in.bounds.First
	obj.LastOccurrence = in.bounds.Last
	obj.Size = in.size
	obj.ETag = in.etag
}

// ETag returns the entity tag of a payload: the quoted hex MD5 of its bytes.
func ETag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// inspect decodes and validates data. Any failure is a validation error.
func (s *Store) inspect(data []byte) (*inspection, error) {
	if len(data) == 0 {
		return nil, validation("empty calendar payload", nil)
	}
	parsed, err := icalutil.Decode(data)
	if err != nil {
		return nil, validation("payload is not a calendar", err)
	}

	uid, err := uidOf(parsed).Get()
	if err != nil {
		return nil, validation("invalid calendar object", err)
	}
	typ, err := componentTypeOf(parsed).Get()
	if err != nil {
		return nil, validation("invalid calendar object", err)
	}
	bounds, err := s.boundsOf(parsed).Get()
	if err != nil {
		return nil, validation("invalid calendar object", err)
	}

	return &inspection{
		calendar:       parsed,
		uid:            uid,
		componentType:  typ,
		classification: classification.Of(parsed),
		bounds:         bounds,
		size:           len(data),
		etag:           ETag(data),
	}, nil
}

// uidOf returns the single UID shared by every event, to-do and journal.
func uidOf(cal *ical.Calendar) mo.Result[string] {
	uid := ""
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		u := icalutil.UID(child)
		switch {
		case u == "":
			return mo.Err[string](fmt.Errorf("%s without UID", child.Name))
		case uid == "":
			uid = u
		case u != uid:
			return mo.Err[string](fmt.Errorf("multiple UIDs %q and %q in one object", uid, u))
		}
	}
	if uid == "" {
		return mo.Err[string](fmt.Errorf("no %s, %s or %s component", ical.CompEvent, ical.CompToDo, ical.CompJournal))
	}
	return mo.Ok(uid)
}

// componentTypeOf returns the one component type of the object.
func componentTypeOf(cal *ical.Calendar) mo.Result[string] {
	typ := ""
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		if typ != "" && child.Name != typ {
			return mo.Err[string](fmt.Errorf("mixed %s and %s components", typ, child.Name))
		}
		typ = child.Name
	}
	return mo.Ok(typ)
}

// boundsOf computes the indexing window over every component of the object.
// Overrides count with their own times, so a moved instance stays findable.
func (s *Store) boundsOf(cal *ical.Calendar) mo.Result[recurrence.Bounds] {
	var out recurrence.Bounds
	seen := false
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		b, ok, err := s.componentBounds(cal, child)
		if err != nil {
			return mo.Err[recurrence.Bounds](err)
		}
		if !ok {
			continue
		}
		if !seen || b.First.Before(out.First) {
			out.First = b.First
		}
		if !seen || b.Last.After(out.Last) {
			out.Last = b.Last
		}
		seen = true
	}
	if !seen {
		// Undated to-dos and journals match every time range.
		return mo.Ok(recurrence.Bounds{Last: recurrence.MaxDate})
	}
	out.First = out.First.UTC()
	out.Last = out.Last.UTC()
	return mo.Ok(out)
}

func (s *Store) componentBounds(cal *ical.Calendar, comp *ical.Component) (recurrence.Bounds, bool, error) {
	undated := comp.Props.Get(ical.PropDateTimeStart) == nil &&
		(comp.Name != ical.CompToDo || comp.Props.Get(ical.PropDue) == nil)
	if undated {
		if comp.Name == ical.CompEvent && !icalutil.IsOverride(comp) {
			return recurrence.Bounds{}, false, fmt.Errorf("%s %q has no DTSTART", comp.Name, icalutil.UID(comp))
		}
		return recurrence.Bounds{}, false, nil
	}

	ev, err := recurrence.NewEvent(cal, comp, s.recurrenceOptions()...)
	if err != nil {
		return recurrence.Bounds{}, false, fmt.Errorf("%s %q: %w", comp.Name, icalutil.UID(comp), err)
	}
	if err := ev.RuleErr(); err != nil {
		return recurrence.Bounds{}, false, err
	}
	if icalutil.IsOverride(comp) {
		return recurrence.Bounds{First: ev.Start(), Last: ev.End()}, true, nil
	}
	return ev.Bounds(), true, nil
}

func (s *Store) recurrenceOptions() []recurrence.Option {
	return []recurrence.Option{recurrence.WithZones(s.zones), recurrence.WithLogger(s.logger)}
}

// checkSupported rejects components the calendar does not accept.
func (in *inspection) checkSupported(cal *Calendar) error {
	if !cal.Supports(in.componentType) {
		return validation(fmt.Sprintf("calendar %q does not accept %s components", cal.URI, in.componentType), nil)
	}
	return nil
}
