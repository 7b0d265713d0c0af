package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/storage"
)

type tx struct {
	db pgx.Tx
}

const calendarColumns = `id, type, principal, uri, display_name, description, color, timezone,
	components, source, synctoken, sync_horizon, created_at, modified_at`

const objectColumns = `id, calendar_id, calendar_type, uri, data, uid, component_type,
	classification, first_occurrence, last_occurrence, size, etag, last_modified, synctoken`

func scanCalendar(row pgx.Row) (*storage.Calendar, error) {
	var (
		cal storage.Calendar
		typ int16
	)
	err := row.Scan(&cal.ID, &typ, &cal.Principal, &cal.URI, &cal.DisplayName, &cal.Description,
		&cal.Color, &cal.Timezone, &cal.Components, &cal.Source, &cal.SyncToken, &cal.SyncHorizon,
		&cal.Created, &cal.Modified)
	if err != nil {
		return nil, err
	}
	cal.Type = storage.CalendarType(typ)
	if cal.Components == nil {
		cal.Components = []string{}
	}
	cal.Created = cal.Created.UTC()
	cal.Modified = cal.Modified.UTC()
	return &cal, nil
}

func scanObject(row pgx.Row) (*storage.CalendarObject, error) {
	var (
		obj        storage.CalendarObject
		typ, class int16
		size       int32
	)
	err := row.Scan(&obj.ID, &obj.CalendarID, &typ, &obj.URI, &obj.Data, &obj.UID, &obj.ComponentType,
		&class, &obj.FirstOccurrence, &obj.LastOccurrence, &size, &obj.ETag, &obj.LastModified, &obj.SyncToken)
	if err != nil {
		return nil, err
	}
	obj.CalendarType = storage.CalendarType(typ)
	obj.Classification = classification.Classification(class)
	obj.Size = int(size)
	obj.FirstOccurrence = obj.FirstOccurrence.UTC()
	obj.LastOccurrence = obj.LastOccurrence.UTC()
	obj.LastModified = obj.LastModified.UTC()
	return &obj, nil
}

func components(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

// Calendars

func (t *tx) InsertCalendar(ctx context.Context, cal *storage.Calendar) error {
	now := time.Now().UTC()
	if cal.Created.IsZero() {
		cal.Created = now
	}
	if cal.Modified.IsZero() {
		cal.Modified = cal.Created
	}
	err := t.db.QueryRow(ctx, `
		INSERT INTO calendars (type, principal, uri, display_name, description, color, timezone,
			components, source, synctoken, sync_horizon, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		int16(cal.Type), cal.Principal, cal.URI, cal.DisplayName, cal.Description, cal.Color, cal.Timezone,
		components(cal.Components), cal.Source, cal.SyncToken, cal.SyncHorizon, cal.Created, cal.Modified,
	).Scan(&cal.ID)
	return mapError(err, "inserting calendar")
}

func (t *tx) UpdateCalendar(ctx context.Context, cal *storage.Calendar) error {
	if cal.Modified.IsZero() {
		cal.Modified = time.Now().UTC()
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE calendars
		SET display_name = $3, description = $4, color = $5, timezone = $6,
			components = $7, source = $8, modified_at = $9
		WHERE id = $1 AND type = $2`,
		cal.ID, int16(cal.Type), cal.DisplayName, cal.Description, cal.Color, cal.Timezone,
		components(cal.Components), cal.Source, cal.Modified,
	)
	if err != nil {
		return mapError(err, "updating calendar")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("%s not found", cal.Ref())
	}
	return nil
}

func (t *tx) DeleteCalendar(ctx context.Context, ref storage.ContainerRef) error {
	// objects and changes go with the calendar through ON DELETE CASCADE
	tag, err := t.db.Exec(ctx, `DELETE FROM calendars WHERE id = $1 AND type = $2`, ref.ID, int16(ref.Type))
	if err != nil {
		return mapError(err, "deleting calendar")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("%s not found", ref)
	}
	return nil
}

func (t *tx) GetCalendar(ctx context.Context, ref storage.ContainerRef) (*storage.Calendar, error) {
	cal, err := scanCalendar(t.db.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE id = $1 AND type = $2`, ref.ID, int16(ref.Type)))
	if err != nil {
		return nil, mapError(err, ref.String())
	}
	return cal, nil
}

func (t *tx) GetCalendarByURI(ctx context.Context, principal string, typ storage.CalendarType, uri string) (*storage.Calendar, error) {
	cal, err := scanCalendar(t.db.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE principal = $1 AND type = $2 AND uri = $3`,
		principal, int16(typ), uri))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("%s %q", typ, uri))
	}
	return cal, nil
}

func (t *tx) ListCalendars(ctx context.Context, principal string, typ storage.CalendarType) ([]*storage.Calendar, error) {
	rows, err := t.db.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE principal = $1 AND type = $2 ORDER BY id`,
		principal, int16(typ))
	if err != nil {
		return nil, mapError(err, "listing calendars")
	}
	cals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Calendar, error) {
		return scanCalendar(row)
	})
	if err != nil {
		return nil, mapError(err, "listing calendars")
	}
	if cals == nil {
		cals = []*storage.Calendar{}
	}
	return cals, nil
}

func (t *tx) NextSyncToken(ctx context.Context, ref storage.ContainerRef) (int64, error) {
	var token int64
	err := t.db.QueryRow(ctx, `
		UPDATE calendars SET synctoken = synctoken + 1
		WHERE id = $1 AND type = $2
		RETURNING synctoken`, ref.ID, int16(ref.Type)).Scan(&token)
	if err != nil {
		return 0, mapError(err, ref.String())
	}
	return token, nil
}

func (t *tx) SetSyncHorizon(ctx context.Context, ref storage.ContainerRef, horizon int64) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE calendars SET sync_horizon = GREATEST(sync_horizon, $3)
		WHERE id = $1 AND type = $2`, ref.ID, int16(ref.Type), horizon)
	if err != nil {
		return mapError(err, "raising sync horizon")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("%s not found", ref)
	}
	return nil
}

// Objects

func (t *tx) InsertObject(ctx context.Context, obj *storage.CalendarObject) error {
	err := t.db.QueryRow(ctx, `
		INSERT INTO calendar_objects (calendar_id, calendar_type, uri, data, uid, component_type,
			classification, first_occurrence, last_occurrence, size, etag, last_modified, synctoken)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		obj.CalendarID, int16(obj.CalendarType), obj.URI, obj.Data, obj.UID, obj.ComponentType,
		int16(obj.Classification), obj.FirstOccurrence, obj.LastOccurrence, int32(obj.Size), obj.ETag,
		obj.LastModified, obj.SyncToken,
	).Scan(&obj.ID)
	return mapError(err, "inserting object")
}

func (t *tx) UpdateObject(ctx context.Context, obj *storage.CalendarObject) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE calendar_objects
		SET data = $4, uid = $5, component_type = $6, classification = $7, first_occurrence = $8,
			last_occurrence = $9, size = $10, etag = $11, last_modified = $12, synctoken = $13
		WHERE calendar_id = $1 AND calendar_type = $2 AND uri = $3`,
		obj.CalendarID, int16(obj.CalendarType), obj.URI, obj.Data, obj.UID, obj.ComponentType,
		int16(obj.Classification), obj.FirstOccurrence, obj.LastOccurrence, int32(obj.Size), obj.ETag,
		obj.LastModified, obj.SyncToken,
	)
	if err != nil {
		return mapError(err, "updating object")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("object %q not found in %s", obj.URI, obj.Ref())
	}
	return nil
}

func (t *tx) DeleteObject(ctx context.Context, ref storage.ContainerRef, uri string) error {
	tag, err := t.db.Exec(ctx,
		`DELETE FROM calendar_objects WHERE calendar_id = $1 AND calendar_type = $2 AND uri = $3`,
		ref.ID, int16(ref.Type), uri)
	if err != nil {
		return mapError(err, "deleting object")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("object %q not found in %s", uri, ref)
	}
	return nil
}

func (t *tx) DeleteObjects(ctx context.Context, ref storage.ContainerRef) ([]string, error) {
	rows, err := t.db.Query(ctx, `
		DELETE FROM calendar_objects WHERE calendar_id = $1 AND calendar_type = $2
		RETURNING uri`, ref.ID, int16(ref.Type))
	if err != nil {
		return nil, mapError(err, "deleting objects")
	}
	uris, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err, "deleting objects")
	}
	if uris == nil {
		uris = []string{}
	}
	return uris, nil
}

func (t *tx) GetObject(ctx context.Context, ref storage.ContainerRef, uri string) (*storage.CalendarObject, error) {
	obj, err := scanObject(t.db.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM calendar_objects
		WHERE calendar_id = $1 AND calendar_type = $2 AND uri = $3`, ref.ID, int16(ref.Type), uri))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("object %q in %s", uri, ref))
	}
	return obj, nil
}

func (t *tx) GetObjectByUID(ctx context.Context, ref storage.ContainerRef, uid string) (*storage.CalendarObject, error) {
	obj, err := scanObject(t.db.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM calendar_objects
		WHERE calendar_id = $1 AND calendar_type = $2 AND uid = $3`, ref.ID, int16(ref.Type), uid))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("uid %q in %s", uid, ref))
	}
	return obj, nil
}

// objectQuery renders the WHERE clause of q after the container columns.
func objectQuery(ref storage.ContainerRef, q storage.ObjectQuery) (string, []any) {
	where := []string{"calendar_id = $1", "calendar_type = $2"}
	args := []any{ref.ID, int16(ref.Type)}
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(q.ComponentTypes) > 0 {
		add("component_type = ANY($%d)", q.ComponentTypes)
	}
	if len(q.UIDs) > 0 {
		add("uid = ANY($%d)", q.UIDs)
	}
	if !q.End.IsZero() {
		add("first_occurrence < $%d", q.End.UTC())
	}
	if !q.Start.IsZero() {
		add("last_occurrence >= $%d", q.Start.UTC())
	}
	return strings.Join(where, " AND "), args
}

func (t *tx) ListObjects(ctx context.Context, ref storage.ContainerRef, q storage.ObjectQuery) ([]*storage.CalendarObject, error) {
	where, args := objectQuery(ref, q)
	rows, err := t.db.Query(ctx,
		`SELECT `+objectColumns+` FROM calendar_objects WHERE `+where+` ORDER BY uri`, args...)
	if err != nil {
		return nil, mapError(err, "listing objects")
	}
	objs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.CalendarObject, error) {
		return scanObject(row)
	})
	if err != nil {
		return nil, mapError(err, "listing objects")
	}
	if objs == nil {
		objs = []*storage.CalendarObject{}
	}
	return objs, nil
}

// Change log

func (t *tx) AppendChange(ctx context.Context, ch storage.Change) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO calendar_changes (calendar_id, calendar_type, uri, synctoken, operation)
		VALUES ($1, $2, $3, $4, $5)`,
		ch.Container.ID, int16(ch.Container.Type), ch.URI, ch.Token, int16(ch.Operation))
	return mapError(err, "appending change")
}

func (t *tx) ListChanges(ctx context.Context, ref storage.ContainerRef, since int64) ([]storage.Change, error) {
	rows, err := t.db.Query(ctx, `
		SELECT uri, synctoken, operation FROM calendar_changes
		WHERE calendar_id = $1 AND calendar_type = $2 AND synctoken > $3
		ORDER BY synctoken, id`, ref.ID, int16(ref.Type), since)
	if err != nil {
		return nil, mapError(err, "listing changes")
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Change, error) {
		ch := storage.Change{Container: ref}
		var op int16
		if err := row.Scan(&ch.URI, &ch.Token, &op); err != nil {
			return ch, err
		}
		ch.Operation = storage.Operation(op)
		return ch, nil
	})
	if err != nil {
		return nil, mapError(err, "listing changes")
	}
	if changes == nil {
		changes = []storage.Change{}
	}
	return changes, nil
}

func (t *tx) PruneChanges(ctx context.Context, ref storage.ContainerRef, before int64) (int64, error) {
	tag, err := t.db.Exec(ctx, `
		DELETE FROM calendar_changes
		WHERE calendar_id = $1 AND calendar_type = $2 AND synctoken <= $3`,
		ref.ID, int16(ref.Type), before)
	if err != nil {
		return 0, mapError(err, "pruning changes")
	}
	return tag.RowsAffected(), nil
}
