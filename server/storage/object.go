package storage

import (
	"context"
	"fmt"

	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/notify"
)

// CreateObject stores a new object at uri in a calendar. The payload is
// validated before the engine is touched; a second object with the same UID
// in the calendar is a conflict.
func (s *Store) CreateObject(ctx context.Context, ref ContainerRef, uri string, data []byte) (obj *CalendarObject, err error) {
	defer s.observe("create_object")(&err)
	if ref.Type == TypeSubscription {
		return nil, notAllowed("subscriptions are read-only")
	}
	return s.putObject(ctx, ref, uri, data, true)
}

// UpdateObject replaces the payload at uri.
func (s *Store) UpdateObject(ctx context.Context, ref ContainerRef, uri string, data []byte) (obj *CalendarObject, err error) {
	defer s.observe("update_object")(&err)
	if ref.Type == TypeSubscription {
		return nil, notAllowed("subscriptions are read-only")
	}
	return s.putObject(ctx, ref, uri, data, false)
}

// DeleteObject removes the object at uri and leaves a tombstone in the
// change log.
func (s *Store) DeleteObject(ctx context.Context, ref ContainerRef, uri string) (err error) {
	defer s.observe("delete_object")(&err)
	if ref.Type == TypeSubscription {
		return notAllowed("subscriptions are read-only")
	}
	return s.deleteObject(ctx, ref, uri)
}

// PutMirroredObject creates or replaces an object of a subscription. It is
// the write path of the collaborator that refreshes subscription caches.
func (s *Store) PutMirroredObject(ctx context.Context, subscriptionID int64, uri string, data []byte) (obj *CalendarObject, err error) {
	defer s.observe("put_mirrored_object")(&err)
	ref := SubscriptionRef(subscriptionID)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		_, err := tx.GetObject(ctx, ref, uri)
		return err
	})
	switch {
	case err == nil:
		return s.putObject(ctx, ref, uri, data, false)
	case isNotFound(err):
		return s.putObject(ctx, ref, uri, data, true)
	default:
		return nil, err
	}
}

// DeleteMirroredObject removes an object from a subscription.
func (s *Store) DeleteMirroredObject(ctx context.Context, subscriptionID int64, uri string) (err error) {
	defer s.observe("delete_mirrored_object")(&err)
	return s.deleteObject(ctx, SubscriptionRef(subscriptionID), uri)
}

func (s *Store) putObject(ctx context.Context, ref ContainerRef, uri string, data []byte, create bool) (*CalendarObject, error) {
	if uri == "" {
		return nil, validation("object uri is required", nil)
	}
	in, err := s.inspect(data)
	if err != nil {
		return nil, err
	}

	var (
		cal     *Calendar
		obj     *CalendarObject
		oldData []byte
	)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		if err := in.checkSupported(cal); err != nil {
			return err
		}

		if create {
			if _, err := tx.GetObject(ctx, ref, uri); err == nil {
				return Conflict(fmt.Sprintf("object %q already exists", uri), nil)
			} else if !isNotFound(err) {
				return err
			}
			obj = &CalendarObject{CalendarID: ref.ID, CalendarType: ref.Type, URI: uri}
		} else {
			obj, err = tx.GetObject(ctx, ref, uri)
			if err != nil {
				return err
			}
			oldData = obj.Data
		}

		if other, err := tx.GetObjectByUID(ctx, ref, in.uid); err == nil {
			if other.URI != uri {
				return Conflict(MsgDuplicateUID, nil)
			}
		} else if !isNotFound(err) {
			return err
		}

		op := OpModified
		if create {
			op = OpAdded
		}
		token, err := record(ctx, tx, ref, op, uri)
		if err != nil {
			return err
		}
		in.apply(obj, data)
		obj.LastModified = s.now().UTC()
		obj.SyncToken = token
		cal.SyncToken = token

		if create {
			return tx.InsertObject(ctx, obj)
		}
		return tx.UpdateObject(ctx, obj)
	})
	if err != nil {
		return nil, err
	}

	typ := notify.ObjectUpdated
	if create {
		typ = notify.ObjectCreated
	}
	s.logger.Debug("stored calendar object", "container", ref, "uri", uri, "uid", obj.UID, "token", obj.SyncToken)
	s.emit(ctx, s.objectEvent(typ, cal, uri, obj.UID, obj.SyncToken, oldData, data))
	return obj, nil
}

func (s *Store) deleteObject(ctx context.Context, ref ContainerRef, uri string) error {
	var (
		cal   *Calendar
		obj   *CalendarObject
		token int64
	)
	err := s.engine.WithTx(ctx, func(tx Tx) (err error) {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		obj, err = tx.GetObject(ctx, ref, uri)
		if err != nil {
			return err
		}
		if err := tx.DeleteObject(ctx, ref, uri); err != nil {
			return err
		}
		token, err = record(ctx, tx, ref, OpDeleted, uri)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, s.objectEvent(notify.ObjectDeleted, cal, uri, obj.UID, token, obj.Data, nil))
	return nil
}

// GetObject returns the object at uri as accessor may see it. Objects the
// classification policy hides from accessor are reported as not found;
// redacted objects carry the placeholder payload.
func (s *Store) GetObject(ctx context.Context, ref ContainerRef, uri, accessor string) (obj *CalendarObject, err error) {
	defer s.observe("get_object")(&err)
	var cal *Calendar
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		obj, err = tx.GetObject(ctx, ref, uri)
		return err
	})
	if err != nil {
		return nil, err
	}
	out, visible, err := s.present(ctx, cal, obj, accessor, classification.PathListing)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, NotFound("object %q not found", uri)
	}
	return out, nil
}

// GetObjectsForCalendar returns every object of a calendar that accessor may
// see, ordered by URI.
func (s *Store) GetObjectsForCalendar(ctx context.Context, ref ContainerRef, accessor string) (objs []*CalendarObject, err error) {
	defer s.observe("list_objects")(&err)
	var (
		cal  *Calendar
		rows []*CalendarObject
	)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		rows, err = tx.ListObjects(ctx, ref, ObjectQuery{})
		return err
	})
	if err != nil {
		return nil, err
	}
	objs = make([]*CalendarObject, 0, len(rows))
	for _, row := range rows {
		out, visible, err := s.present(ctx, cal, row, accessor, classification.PathListing)
		if err != nil {
			return nil, err
		}
		if visible {
			objs = append(objs, out)
		}
	}
	return objs, nil
}

// GetObjectByUID finds the object with uid among principal's calendars and
// returns it with the URI of the calendar holding it.
func (s *Store) GetObjectByUID(ctx context.Context, principal, uid string) (obj *CalendarObject, calendarURI string, err error) {
	defer s.observe("get_object_by_uid")(&err)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cals, err := tx.ListCalendars(ctx, principal, TypeCalendar)
		if err != nil {
			return err
		}
		for _, cal := range cals {
			found, err := tx.GetObjectByUID(ctx, cal.Ref(), uid)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			obj, calendarURI = found, cal.URI
			return nil
		}
		return NotFound("no object with uid %q", uid)
	})
	if err != nil {
		return nil, "", err
	}
	return obj, calendarURI, nil
}

// present applies the classification policy for accessor to obj. The stored
// object is never modified; a redacted copy is returned instead.
func (s *Store) present(ctx context.Context, cal *Calendar, obj *CalendarObject, accessor string, path classification.Path) (*CalendarObject, bool, error) {
	owner := s.isOwner(ctx, accessor, cal)
	data, visible, err := s.filter.Apply(obj.Data, obj.Classification, owner, path)
	if err != nil {
		return nil, false, fmt.Errorf("applying classification to %q: %w", obj.URI, err)
	}
	if !visible {
		return nil, false, nil
	}
	if !s.filter.NeedsRedaction(obj.Classification, owner) {
		return obj, true, nil
	}
	out := *obj
	out.Data = data
	out.Size = len(data)
	return &out, true, nil
}
