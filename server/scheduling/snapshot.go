package scheduling

import (
	"strconv"
	"strings"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/emersion/go-ical"
)

// State is the scheduling state of one event UID.
type State int

const (
	StateNonExistent State = iota
	StateActive
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return "non-existent"
	}
}

// Attendee is one ATTENDEE of a snapshot.
type Attendee struct {
	Address    string
	CommonName string
	PartStat   string
	Role       string
	RSVP       bool
}

// Snapshot is the scheduling-relevant view of one version of an event.
type Snapshot struct {
	UID          string
	Organizer    string
	Sequence     int
	Status       string
	LastModified string
	// Timing concatenates the properties that define when the event happens.
	Timing    string
	Attendees []Attendee
}

// timingProps define when an event happens; a change to any of them is a
// reschedule.
var timingProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDuration,
	ical.PropDue,
	ical.PropRecurrenceRule,
	ical.PropRecurrenceDates,
	ical.PropExceptionDates,
}

// SnapshotOf extracts a snapshot from comp. It returns nil for a nil
// component.
func SnapshotOf(comp *ical.Component) *Snapshot {
	if comp == nil {
		return nil
	}
	s := &Snapshot{UID: icalutil.UID(comp)}
	if prop := comp.Props.Get(ical.PropOrganizer); prop != nil {
		s.Organizer = strings.TrimSpace(prop.Value)
	}
	if prop := comp.Props.Get(ical.PropSequence); prop != nil {
		s.Sequence, _ = strconv.Atoi(strings.TrimSpace(prop.Value))
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil {
		s.Status = strings.ToUpper(strings.TrimSpace(prop.Value))
	}
	if prop := comp.Props.Get(ical.PropLastModified); prop != nil {
		s.LastModified = prop.Value
	}

	var timing strings.Builder
	for _, name := range timingProps {
		for _, prop := range comp.Props[name] {
			timing.WriteString(name)
			if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
				timing.WriteString(";" + tzid)
			}
			timing.WriteString(":" + prop.Value + "\n")
		}
	}
	s.Timing = timing.String()

	seen := make(map[string]bool)
	for _, prop := range comp.Props[ical.PropAttendee] {
		addr := strings.TrimSpace(prop.Value)
		key := icalutil.NormalizeAddress(addr)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		s.Attendees = append(s.Attendees, Attendee{
			Address:    addr,
			CommonName: prop.Params.Get(ical.ParamCommonName),
			PartStat:   prop.Params.Get(ical.ParamParticipationStatus),
			Role:       prop.Params.Get(ical.ParamRole),
			RSVP:       strings.EqualFold(prop.Params.Get(ical.ParamRSVP), "TRUE"),
		})
	}
	return s
}

// StateOf maps a snapshot to its scheduling state.
func StateOf(s *Snapshot) State {
	switch {
	case s == nil:
		return StateNonExistent
	case s.Status == "CANCELLED":
		return StateCancelled
	default:
		return StateActive
	}
}

// recipients returns the attendees that may receive messages, i.e. every
// attendee except the organizer.
func (s *Snapshot) recipients() []Attendee {
	if s == nil {
		return nil
	}
	organizer := icalutil.NormalizeAddress(s.Organizer)
	out := make([]Attendee, 0, len(s.Attendees))
	for _, a := range s.Attendees {
		if icalutil.NormalizeAddress(a.Address) == organizer {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Snapshot) hasAttendee(addr string) bool {
	key := icalutil.NormalizeAddress(addr)
	for _, a := range s.Attendees {
		if icalutil.NormalizeAddress(a.Address) == key {
			return true
		}
	}
	return false
}

// attendanceKey lists attendee addresses; participation fields are left
// out.
func (s *Snapshot) attendanceKey() string {
	keys := make([]string, 0, len(s.Attendees))
	for _, a := range s.recipients() {
		keys = append(keys, icalutil.NormalizeAddress(a.Address))
	}
	return strings.Join(keys, ",")
}
