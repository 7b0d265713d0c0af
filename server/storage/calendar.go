package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/cyp0633/calstore/server/notify"
)

// CreateCalendar stores a new calendar collection for cal.Principal and
// fills in its ID, sync token and timestamps.
func (s *Store) CreateCalendar(ctx context.Context, cal *Calendar) (err error) {
	defer s.observe("create_calendar")(&err)
	cal.Type = TypeCalendar
	return s.createContainer(ctx, cal)
}

// CreateSubscription stores a new subscription mirror of cal.Source.
func (s *Store) CreateSubscription(ctx context.Context, sub *Calendar) (err error) {
	defer s.observe("create_subscription")(&err)
	if strings.TrimSpace(sub.Source) == "" {
		return validation("subscription without source", nil)
	}
	sub.Type = TypeSubscription
	return s.createContainer(ctx, sub)
}

func (s *Store) createContainer(ctx context.Context, cal *Calendar) error {
	if cal.Principal == "" || cal.URI == "" {
		return validation("principal and uri are required", nil)
	}
	if strings.ContainsRune(cal.URI, '/') {
		return validation("uri must be a single path segment", nil)
	}
	now := s.now().UTC()
	cal.SyncToken = 1
	cal.SyncHorizon = 1
	cal.Created = now
	cal.Modified = now

	err := s.engine.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCalendarByURI(ctx, cal.Principal, cal.Type, cal.URI); err == nil {
			return Conflict("a "+cal.Type.String()+" with this uri already exists", nil)
		} else if !isNotFound(err) {
			return err
		}
		return tx.InsertCalendar(ctx, cal)
	})
	if err != nil {
		return err
	}
	s.logger.Info("created calendar", "principal", cal.Principal, "type", cal.Type, "uri", cal.URI, "id", cal.ID)
	s.emit(ctx, s.event(notify.CalendarCreated, cal))
	return nil
}

// UpdateCalendar replaces the display metadata (name, description, color,
// time zone, supported components) of an existing calendar.
func (s *Store) UpdateCalendar(ctx context.Context, cal *Calendar) (err error) {
	defer s.observe("update_calendar")(&err)
	if cal.Type != TypeCalendar {
		return validation("not a calendar", nil)
	}
	return s.updateContainer(ctx, cal)
}

// UpdateSubscription replaces the metadata of a subscription, including its
// source URL.
func (s *Store) UpdateSubscription(ctx context.Context, sub *Calendar) (err error) {
	defer s.observe("update_subscription")(&err)
	if sub.Type != TypeSubscription {
		return validation("not a subscription", nil)
	}
	if strings.TrimSpace(sub.Source) == "" {
		return validation("subscription without source", nil)
	}
	return s.updateContainer(ctx, sub)
}

func (s *Store) updateContainer(ctx context.Context, cal *Calendar) error {
	var updated *Calendar
	err := s.engine.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetCalendar(ctx, cal.Ref())
		if err != nil {
			return err
		}
		current.DisplayName = cal.DisplayName
		current.Description = cal.Description
		current.Color = cal.Color
		current.Timezone = cal.Timezone
		current.Components = cal.Components
		current.Source = cal.Source
		current.Modified = s.now().UTC()
		if err := tx.UpdateCalendar(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return err
	}
	*cal = *updated
	s.emit(ctx, s.event(notify.CalendarUpdated, updated))
	return nil
}

// DeleteCalendar removes a calendar with all its objects and change log.
func (s *Store) DeleteCalendar(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_calendar")(&err)
	return s.deleteContainer(ctx, CalendarRef(id))
}

// DeleteSubscription removes a subscription with its mirrored objects.
func (s *Store) DeleteSubscription(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_subscription")(&err)
	return s.deleteContainer(ctx, SubscriptionRef(id))
}

func (s *Store) deleteContainer(ctx context.Context, ref ContainerRef) error {
	var deleted *Calendar
	err := s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err := tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		deleted = cal
		return tx.DeleteCalendar(ctx, ref)
	})
	if err != nil {
		return err
	}
	s.logger.Info("deleted calendar", "principal", deleted.Principal, "type", deleted.Type, "uri", deleted.URI, "id", deleted.ID)
	s.emit(ctx, s.event(notify.CalendarDeleted, deleted))
	return nil
}

// GetCalendar returns the calendar or subscription ref points at.
func (s *Store) GetCalendar(ctx context.Context, ref ContainerRef) (cal *Calendar, err error) {
	defer s.observe("get_calendar")(&err)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		return err
	})
	return cal, err
}

// GetCalendarByURI returns a principal's calendar by its URI.
func (s *Store) GetCalendarByURI(ctx context.Context, principal, uri string) (cal *Calendar, err error) {
	defer s.observe("get_calendar")(&err)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendarByURI(ctx, principal, TypeCalendar, uri)
		return err
	})
	return cal, err
}

// ListCalendars returns the calendars of principal ordered by ID.
func (s *Store) ListCalendars(ctx context.Context, principal string) (cals []*Calendar, err error) {
	defer s.observe("list_calendars")(&err)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cals, err = tx.ListCalendars(ctx, principal, TypeCalendar)
		return err
	})
	return cals, err
}

// ListSubscriptions returns the subscriptions of principal ordered by ID.
func (s *Store) ListSubscriptions(ctx context.Context, principal string) (subs []*Calendar, err error) {
	defer s.observe("list_subscriptions")(&err)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		subs, err = tx.ListCalendars(ctx, principal, TypeSubscription)
		return err
	})
	return subs, err
}

// PurgeSubscription drops every mirrored object of a subscription but keeps
// the subscription itself. All removals share one new sync token.
func (s *Store) PurgeSubscription(ctx context.Context, id int64) (err error) {
	defer s.observe("purge_subscription")(&err)
	ref := SubscriptionRef(id)
	var (
		sub   *Calendar
		uris  []string
		token int64
	)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		sub, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		uris, err = tx.DeleteObjects(ctx, ref)
		if err != nil || len(uris) == 0 {
			return err
		}
		token, err = record(ctx, tx, ref, OpDeleted, uris...)
		return err
	})
	if err != nil {
		return err
	}
	if len(uris) == 0 {
		return nil
	}
	s.logger.Info("purged subscription", "id", id, "objects", len(uris))
	ev := s.event(notify.SubscriptionPurged, sub)
	ev.SyncToken = token
	s.emit(ctx, ev)
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
