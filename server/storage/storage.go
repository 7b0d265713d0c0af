// Package storage is the calendar store: it persists calendars, calendar
// objects and subscription mirrors through an Engine, derives the indexed
// fields of every object at write time, keeps a per-collection change log for
// incremental sync and filters what non-owners may read.
package storage

import (
	"context"
)

// Engine connects the store with a transactional backend (e.g. a database).
// Implementations must report uniqueness violations as ErrConflict and
// missing rows as ErrNotFound, using the error types of this package.
type Engine interface {
	// WithTx runs fn in a transaction. The transaction commits if fn returns
	// nil and rolls back otherwise; no effect of a failed fn is observable.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-level interface of one transaction.
type Tx interface {
	// InsertCalendar stores cal and sets its ID. The (principal, type, URI)
	// triple is unique.
	InsertCalendar(ctx context.Context, cal *Calendar) error
	// UpdateCalendar replaces the display metadata of cal.
	UpdateCalendar(ctx context.Context, cal *Calendar) error
	// DeleteCalendar removes a calendar together with its objects and
	// change log.
	DeleteCalendar(ctx context.Context, ref ContainerRef) error
	GetCalendar(ctx context.Context, ref ContainerRef) (*Calendar, error)
	GetCalendarByURI(ctx context.Context, principal string, typ CalendarType, uri string) (*Calendar, error)
	ListCalendars(ctx context.Context, principal string, typ CalendarType) ([]*Calendar, error)
	// NextSyncToken atomically increments the token of ref and returns the
	// new value.
	NextSyncToken(ctx context.Context, ref ContainerRef) (int64, error)
	// SetSyncHorizon raises the oldest answerable token of ref.
	SetSyncHorizon(ctx context.Context, ref ContainerRef, horizon int64) error

	// InsertObject stores obj and sets its ID. URI and UID are unique per
	// container.
	InsertObject(ctx context.Context, obj *CalendarObject) error
	// UpdateObject replaces the object identified by its container and URI.
	UpdateObject(ctx context.Context, obj *CalendarObject) error
	DeleteObject(ctx context.Context, ref ContainerRef, uri string) error
	// DeleteObjects removes every object of ref and returns their URIs.
	DeleteObjects(ctx context.Context, ref ContainerRef) ([]string, error)
	GetObject(ctx context.Context, ref ContainerRef, uri string) (*CalendarObject, error)
	GetObjectByUID(ctx context.Context, ref ContainerRef, uid string) (*CalendarObject, error)
	// ListObjects returns the objects of ref matching q, ordered by URI.
	ListObjects(ctx context.Context, ref ContainerRef, q ObjectQuery) ([]*CalendarObject, error)

	AppendChange(ctx context.Context, ch Change) error
	// ListChanges returns the changes of ref with a token above since,
	// in token order.
	ListChanges(ctx context.Context, ref ContainerRef, since int64) ([]Change, error)
	// PruneChanges drops changes of ref with a token at or below before and
	// returns how many were removed.
	PruneChanges(ctx context.Context, ref ContainerRef, before int64) (int64, error)
}

// OwnerResolver decides whether accessor owns cal. Only owners see private
// and confidential objects unredacted.
type OwnerResolver interface {
	IsOwner(ctx context.Context, accessor string, cal *Calendar) bool
}

// OwnerFunc adapts a function to an OwnerResolver.
type OwnerFunc func(ctx context.Context, accessor string, cal *Calendar) bool

func (f OwnerFunc) IsOwner(ctx context.Context, accessor string, cal *Calendar) bool {
	return f(ctx, accessor, cal)
}

// principalOwner treats the calendar's principal as its only owner.
var principalOwner = OwnerFunc(func(_ context.Context, accessor string, cal *Calendar) bool {
	return accessor != "" && accessor == cal.Principal
})
