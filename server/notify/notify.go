// Package notify carries lifecycle notifications for calendars and calendar
// objects from the store to interested collaborators (scheduling, activity
// feeds, search indexers).
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition.
type EventType string

const (
	CalendarCreated    EventType = "calendar.created"
	CalendarUpdated    EventType = "calendar.updated"
	CalendarDeleted    EventType = "calendar.deleted"
	ObjectCreated      EventType = "object.created"
	ObjectUpdated      EventType = "object.updated"
	ObjectDeleted      EventType = "object.deleted"
	SubscriptionPurged EventType = "subscription.purged"
)

// Event describes one committed change. OldData and NewData hold the raw
// payloads before and after an object change; either is nil on creation and
// deletion respectively.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Type         EventType `json:"type"`
	Time         time.Time `json:"time"`
	Principal    string    `json:"principal"`
	CalendarID   int64     `json:"calendar_id"`
	CalendarURI  string    `json:"calendar_uri"`
	Subscription bool      `json:"subscription,omitempty"`
	ObjectURI    string    `json:"object_uri,omitempty"`
	UID          string    `json:"uid,omitempty"`
	SyncToken    int64     `json:"sync_token"`
	OldData      []byte    `json:"old_data,omitempty"`
	NewData      []byte    `json:"new_data,omitempty"`
}

// NewEvent stamps a fresh ID and time on a notification.
func NewEvent(typ EventType, now time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Time: now}
}

// Listener receives notifications after the change they describe has been
// committed. A returned error is reported by the caller but never undoes
// the change.
type Listener interface {
	Notify(ctx context.Context, ev Event) error
}

// Notifier is what the store talks to; any Listener can be used directly.
type Notifier = Listener

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans a notification out to several listeners. Every listener is
// called even if an earlier one fails.
type Multi []Listener

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, l := range m {
		if err := l.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
