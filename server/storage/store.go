package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/cyp0633/calstore/internal/metrics"
	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/notify"
	"github.com/cyp0633/calstore/server/recurrence"
)

// Store implements the calendar store operations on top of an Engine.
// It is safe for concurrent use as long as the engine is.
type Store struct {
	engine   Engine
	logger   *slog.Logger
	notifier notify.Notifier
	filter   *classification.Filter
	zones    *recurrence.ZoneTable
	owners   OwnerResolver
	now      func() time.Time

	// syncLimit applies to Sync calls that pass a zero limit.
	syncLimit int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier sets the listener for lifecycle notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClassification sets the filter applied to reads by non-owners.
func WithClassification(f *classification.Filter) Option {
	return func(s *Store) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithPolicy is shorthand for a classification filter with policy p.
func WithPolicy(p classification.Policy) Option {
	return func(s *Store) {
		s.filter = classification.New(classification.WithPolicy(p))
	}
}

// WithZones sets the zone table used to interpret payload times.
func WithZones(t *recurrence.ZoneTable) Option {
	return func(s *Store) {
		if t != nil {
			s.zones = t
		}
	}
}

// WithOwnerResolver decides who owns a calendar. By default only the
// calendar's principal does.
func WithOwnerResolver(r OwnerResolver) Option {
	return func(s *Store) {
		if r != nil {
			s.owners = r
		}
	}
}

// WithSyncLimit caps sync reports requested without an explicit limit.
func WithSyncLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.syncLimit = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store backed by engine.
func New(engine Engine, opts ...Option) *Store {
	s := &Store{
		engine:   engine,
		logger:   slog.Default(),
		notifier: notify.Nop{},
		filter:   classification.New(),
		zones:    recurrence.DefaultZones(),
		owners:   principalOwner,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe records latency and errors of one operation:
//
//	defer s.observe("create_object")(&err)
func (s *Store) observe(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		metrics.ObserveLatency(op, start)
		if errp != nil && *errp != nil {
			metrics.CountError(op, errorType(*errp))
		}
	}
}

// emit hands a committed change to the notifier. Failures are logged and
// counted; the change itself stands.
func (s *Store) emit(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		metrics.CountNotificationFailure(string(ev.Type))
		s.logger.Warn("notification listener failed",
			"type", ev.Type,
			"calendar_id", ev.CalendarID,
			"object_uri", ev.ObjectURI,
			"error", err)
	}
}

// event builds a notification about cal.
func (s *Store) event(typ notify.EventType, cal *Calendar) notify.Event {
	ev := notify.NewEvent(typ, s.now())
	ev.Principal = cal.Principal
	ev.CalendarID = cal.ID
	ev.CalendarURI = cal.URI
	ev.Subscription = cal.Type == TypeSubscription
	ev.SyncToken = cal.SyncToken
	return ev
}

// objectEvent builds a notification about one object of cal.
func (s *Store) objectEvent(typ notify.EventType, cal *Calendar, uri, uid string, token int64, oldData, newData []byte) notify.Event {
	ev := s.event(typ, cal)
	ev.ObjectURI = uri
	ev.UID = uid
	ev.SyncToken = token
	ev.OldData = oldData
	ev.NewData = newData
	return ev
}

// isOwner reports whether accessor sees cal's objects unfiltered.
func (s *Store) isOwner(ctx context.Context, accessor string, cal *Calendar) bool {
	return s.owners.IsOwner(ctx, accessor, cal)
}

// record bumps the token of ref and appends one change row per URI, all at
// the new token.
func record(ctx context.Context, tx Tx, ref ContainerRef, op Operation, uris ...string) (int64, error) {
	token, err := tx.NextSyncToken(ctx, ref)
	if err != nil {
		return 0, err
	}
	for _, uri := range uris {
		if err := tx.AppendChange(ctx, Change{Container: ref, URI: uri, Token: token, Operation: op}); err != nil {
			return 0, err
		}
	}
	return token, nil
}
