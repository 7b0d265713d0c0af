// Package scheduling turns changes to calendar objects into iTIP scheduling
// messages (REQUEST and CANCEL) for the attendees of an event. It builds the
// messages only; delivering them is left to an Outbox.
package scheduling

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// Method is the iTIP method of a message.
type Method string

const (
	MethodRequest Method = "REQUEST"
	MethodCancel  Method = "CANCEL"
)

// Message is one outbound scheduling message for a single recipient.
type Message struct {
	ID        uuid.UUID
	Method    Method
	Sender    string
	Recipient string
	UID       string
	Body      *ical.Calendar
}

// Encode serializes the message body.
func (m *Message) Encode() ([]byte, error) {
	return icalutil.Encode(m.Body)
}

// ErrEmptyChange is returned for a change without any component.
var ErrEmptyChange = errors.New("scheduling: change has neither old nor new component")

// Broker decides which messages a change requires.
type Broker struct {
	logger *slog.Logger
	now    func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the broker's logger.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = l
	}
}

// WithBrokerClock sets the clock used for DTSTAMP.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// NewBroker creates a Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Messages returns the messages change requires, REQUESTs first, each
// group in attendee declaration order. Events without an organizer are not
// scheduling objects and produce nothing.
func (b *Broker) Messages(change ComponentChange) ([]Message, error) {
	if change.Old == nil && change.New == nil {
		return nil, ErrEmptyChange
	}
	prev := SnapshotOf(change.Old)
	cur := SnapshotOf(change.New)
	prevState, curState := StateOf(prev), StateOf(cur)

	var msgs []Message
	switch {
	case prevState == StateNonExistent:
		if curState == StateCancelled || cur.Organizer == "" {
			return nil, nil
		}
		msgs = b.requests(change, cur)

	case curState == StateNonExistent:
		if prevState == StateCancelled || prev.Organizer == "" {
			return nil, nil
		}
		msgs = b.cancels(change.OldCalendar, change.Old, prev, prev.recipients())

	case curState == StateCancelled:
		sender := withOrganizer(cur, prev)
		if prevState == StateCancelled || sender.Organizer == "" {
			return nil, nil
		}
		msgs = b.cancels(change.NewCalendar, change.New, sender, prev.recipients())

	case len(cur.recipients()) == 0:
		sender := withOrganizer(cur, prev)
		if sender.Organizer == "" {
			return nil, nil
		}
		msgs = b.cancels(change.NewCalendar, change.New, sender, prev.recipients())

	default:
		if cur.Organizer == "" || !semanticChange(prev, cur) {
			return nil, nil
		}
		msgs = b.requests(change, cur)
		var removed []Attendee
		for _, a := range prev.recipients() {
			if !cur.hasAttendee(a.Address) {
				removed = append(removed, a)
			}
		}
		msgs = append(msgs, b.cancels(change.NewCalendar, change.New, cur, removed)...)
	}

	b.logger.Debug("computed scheduling messages",
		"uid", change.UID,
		"from", prevState,
		"to", curState,
		"count", len(msgs))
	return msgs, nil
}

// withOrganizer returns cur, or a copy carrying prev's organizer when cur
// dropped ORGANIZER.
func withOrganizer(cur, prev *Snapshot) *Snapshot {
	if cur.Organizer != "" || prev == nil {
		return cur
	}
	out := *cur
	out.Organizer = prev.Organizer
	return &out
}

// semanticChange reports whether attendees must hear about the change.
// PARTSTAT and other participation fields are ignored.
func semanticChange(prev, cur *Snapshot) bool {
	return prev.Sequence != cur.Sequence ||
		prev.Timing != cur.Timing ||
		prev.attendanceKey() != cur.attendanceKey() ||
		StateOf(prev) != StateOf(cur)
}

func (b *Broker) requests(change ComponentChange, cur *Snapshot) []Message {
	recipients := cur.recipients()
	msgs := make([]Message, 0, len(recipients))
	for _, a := range recipients {
		msgs = append(msgs, Message{
			ID:        uuid.New(),
			Method:    MethodRequest,
			Sender:    cur.Organizer,
			Recipient: a.Address,
			UID:       cur.UID,
			Body:      b.requestBody(change.NewCalendar, change.New, cur.UID),
		})
	}
	return msgs
}

func (b *Broker) cancels(cal *ical.Calendar, master *ical.Component, snap *Snapshot, recipients []Attendee) []Message {
	msgs := make([]Message, 0, len(recipients))
	for _, a := range recipients {
		msgs = append(msgs, Message{
			ID:        uuid.New(),
			Method:    MethodCancel,
			Sender:    snap.Organizer,
			Recipient: a.Address,
			UID:       snap.UID,
			Body:      b.cancelBody(cal, master, a.Address),
		})
	}
	return msgs
}

// requestBody carries the full updated event: master, overrides and the
// time zones they reference.
func (b *Broker) requestBody(cal *ical.Calendar, master *ical.Component, uid string) *ical.Calendar {
	out := icalutil.NewCalendar()
	out.Props.SetText(ical.PropMethod, string(MethodRequest))
	if cal == nil {
		out.Children = append(out.Children, b.stamp(icalutil.CloneComponent(master)))
		return out
	}
	for _, child := range cal.Children {
		switch {
		case child.Name == ical.CompTimezone:
			out.Children = append(out.Children, icalutil.CloneComponent(child))
		case icalutil.IsSchedulable(child.Name) && icalutil.UID(child) == uid:
			out.Children = append(out.Children, b.stamp(icalutil.CloneComponent(child)))
		}
	}
	return out
}

// cancelBody carries the last known master, marked cancelled and addressed
// to the single recipient.
func (b *Broker) cancelBody(cal *ical.Calendar, master *ical.Component, recipient string) *ical.Calendar {
	out := icalutil.NewCalendar()
	out.Props.SetText(ical.PropMethod, string(MethodCancel))
	if cal != nil {
		for _, child := range cal.Children {
			if child.Name == ical.CompTimezone {
				out.Children = append(out.Children, icalutil.CloneComponent(child))
			}
		}
	}

	comp := b.stamp(icalutil.CloneComponent(master))
	comp.Props.SetText(ical.PropStatus, "CANCELLED")
	key := icalutil.NormalizeAddress(recipient)
	var kept []ical.Prop
	for _, prop := range comp.Props[ical.PropAttendee] {
		if icalutil.NormalizeAddress(prop.Value) == key {
			kept = append(kept, prop)
		}
	}
	if len(kept) == 0 {
		kept = []ical.Prop{{Name: ical.PropAttendee, Value: recipient, Params: make(ical.Params)}}
	}
	comp.Props[ical.PropAttendee] = kept[:1]
	// Overrides and alarms do not belong in a cancellation.
	comp.Children = nil
	out.Children = append(out.Children, comp)
	return out
}

func (b *Broker) stamp(comp *ical.Component) *ical.Component {
	comp.Props.SetDateTime(ical.PropDateTimeStamp, b.now().UTC())
	return comp
}

// MessagesFor runs Diff and Messages over two versions of a payload.
func (b *Broker) MessagesFor(oldCal, newCal *ical.Calendar) ([]Message, error) {
	var out []Message
	for _, change := range Diff(oldCal, newCal) {
		msgs, err := b.Messages(change)
		if err != nil {
			return nil, fmt.Errorf("uid %q: %w", change.UID, err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}
