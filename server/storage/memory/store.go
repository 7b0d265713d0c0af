// Package memory is an in-memory storage.Engine for tests and single-process
// deployments. Transactions are serialized by one mutex; each works on a
// copy of the data that replaces the committed state only when it succeeds.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cyp0633/calstore/server/storage"
)

// Engine implements storage.Engine using in-memory maps.
type Engine struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	nextID    map[storage.CalendarType]int64
	nextObjID int64
	calendars map[storage.ContainerRef]storage.Calendar
	objects   map[storage.ContainerRef]map[string]storage.CalendarObject // key: object URI
	changes   map[storage.ContainerRef][]storage.Change
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{state: &state{
		nextID:    make(map[storage.CalendarType]int64),
		calendars: make(map[storage.ContainerRef]storage.Calendar),
		objects:   make(map[storage.ContainerRef]map[string]storage.CalendarObject),
		changes:   make(map[storage.ContainerRef][]storage.Change),
	}}
}

func (s *state) clone() *state {
	out := &state{
		nextID:    maps.Clone(s.nextID),
		nextObjID: s.nextObjID,
		calendars: maps.Clone(s.calendars),
		objects:   make(map[storage.ContainerRef]map[string]storage.CalendarObject, len(s.objects)),
		changes:   make(map[storage.ContainerRef][]storage.Change, len(s.changes)),
	}
	for ref, objs := range s.objects {
		out.objects[ref] = maps.Clone(objs)
	}
	for ref, chs := range s.changes {
		out.changes[ref] = slices.Clone(chs)
	}
	return out
}

// WithTx runs fn against a private copy of the data and commits the copy if
// fn succeeds.
func (e *Engine) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	staged := e.state.clone()
	if err := fn(&tx{s: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.state = staged
	return nil
}

type tx struct {
	s *state
}

func copyCalendar(cal storage.Calendar) *storage.Calendar {
	cal.Components = slices.Clone(cal.Components)
	return &cal
}

func copyObject(obj storage.CalendarObject) *storage.CalendarObject {
	return &obj
}

// Calendar operations

func (t *tx) InsertCalendar(_ context.Context, cal *storage.Calendar) error {
	for _, existing := range t.s.calendars {
		if existing.Type == cal.Type && existing.Principal == cal.Principal && existing.URI == cal.URI {
			return storage.Conflict("calendar uri already in use", nil)
		}
	}
	t.s.nextID[cal.Type]++
	cal.ID = t.s.nextID[cal.Type]
	t.s.calendars[cal.Ref()] = *copyCalendar(*cal)
	return nil
}

func (t *tx) UpdateCalendar(_ context.Context, cal *storage.Calendar) error {
	current, ok := t.s.calendars[cal.Ref()]
	if !ok {
		return storage.NotFound("%s not found", cal.Ref())
	}
	// Tokens are owned by NextSyncToken and SetSyncHorizon.
	updated := *copyCalendar(*cal)
	updated.SyncToken = current.SyncToken
	updated.SyncHorizon = current.SyncHorizon
	t.s.calendars[cal.Ref()] = updated
	return nil
}

func (t *tx) DeleteCalendar(_ context.Context, ref storage.ContainerRef) error {
	if _, ok := t.s.calendars[ref]; !ok {
		return storage.NotFound("%s not found", ref)
	}
	delete(t.s.calendars, ref)
	delete(t.s.objects, ref)
	delete(t.s.changes, ref)
	return nil
}

func (t *tx) GetCalendar(_ context.Context, ref storage.ContainerRef) (*storage.Calendar, error) {
	cal, ok := t.s.calendars[ref]
	if !ok {
		return nil, storage.NotFound("%s not found", ref)
	}
	return copyCalendar(cal), nil
}

func (t *tx) GetCalendarByURI(_ context.Context, principal string, typ storage.CalendarType, uri string) (*storage.Calendar, error) {
	for _, cal := range t.s.calendars {
		if cal.Type == typ && cal.Principal == principal && cal.URI == uri {
			return copyCalendar(cal), nil
		}
	}
	return nil, storage.NotFound("%s %q not found", typ, uri)
}

func (t *tx) ListCalendars(_ context.Context, principal string, typ storage.CalendarType) ([]*storage.Calendar, error) {
	out := []*storage.Calendar{}
	for _, cal := range t.s.calendars {
		if cal.Type == typ && cal.Principal == principal {
			out = append(out, copyCalendar(cal))
		}
	}
	slices.SortFunc(out, func(a, b *storage.Calendar) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) NextSyncToken(_ context.Context, ref storage.ContainerRef) (int64, error) {
	cal, ok := t.s.calendars[ref]
	if !ok {
		return 0, storage.NotFound("%s not found", ref)
	}
	cal.SyncToken++
	t.s.calendars[ref] = cal
	return cal.SyncToken, nil
}

func (t *tx) SetSyncHorizon(_ context.Context, ref storage.ContainerRef, horizon int64) error {
	cal, ok := t.s.calendars[ref]
	if !ok {
		return storage.NotFound("%s not found", ref)
	}
	if horizon > cal.SyncHorizon {
		cal.SyncHorizon = horizon
		t.s.calendars[ref] = cal
	}
	return nil
}

// Object operations

func (t *tx) InsertObject(_ context.Context, obj *storage.CalendarObject) error {
	ref := obj.Ref()
	if _, ok := t.s.calendars[ref]; !ok {
		return storage.NotFound("%s not found", ref)
	}
	objs := t.s.objects[ref]
	if objs == nil {
		objs = make(map[string]storage.CalendarObject)
		t.s.objects[ref] = objs
	}
	if _, ok := objs[obj.URI]; ok {
		return storage.Conflict("object uri already in use", nil)
	}
	for _, other := range objs {
		if other.UID == obj.UID {
			return storage.Conflict(storage.MsgDuplicateUID, nil)
		}
	}
	t.s.nextObjID++
	obj.ID = t.s.nextObjID
	objs[obj.URI] = *obj
	return nil
}

func (t *tx) UpdateObject(_ context.Context, obj *storage.CalendarObject) error {
	objs := t.s.objects[obj.Ref()]
	current, ok := objs[obj.URI]
	if !ok {
		return storage.NotFound("object %q not found", obj.URI)
	}
	for uri, other := range objs {
		if uri != obj.URI && other.UID == obj.UID {
			return storage.Conflict(storage.MsgDuplicateUID, nil)
		}
	}
	obj.ID = current.ID
	objs[obj.URI] = *obj
	return nil
}

func (t *tx) DeleteObject(_ context.Context, ref storage.ContainerRef, uri string) error {
	objs := t.s.objects[ref]
	if _, ok := objs[uri]; !ok {
		return storage.NotFound("object %q not found", uri)
	}
	delete(objs, uri)
	return nil
}

func (t *tx) DeleteObjects(_ context.Context, ref storage.ContainerRef) ([]string, error) {
	if _, ok := t.s.calendars[ref]; !ok {
		return nil, storage.NotFound("%s not found", ref)
	}
	uris := slices.Sorted(maps.Keys(t.s.objects[ref]))
	delete(t.s.objects, ref)
	return uris, nil
}

func (t *tx) GetObject(_ context.Context, ref storage.ContainerRef, uri string) (*storage.CalendarObject, error) {
	obj, ok := t.s.objects[ref][uri]
	if !ok {
		return nil, storage.NotFound("object %q not found", uri)
	}
	return copyObject(obj), nil
}

func (t *tx) GetObjectByUID(_ context.Context, ref storage.ContainerRef, uid string) (*storage.CalendarObject, error) {
	for _, obj := range t.s.objects[ref] {
		if obj.UID == uid {
			return copyObject(obj), nil
		}
	}
	return nil, storage.NotFound("no object with uid %q", uid)
}

func (t *tx) ListObjects(_ context.Context, ref storage.ContainerRef, q storage.ObjectQuery) ([]*storage.CalendarObject, error) {
	if _, ok := t.s.calendars[ref]; !ok {
		return nil, storage.NotFound("%s not found", ref)
	}
	out := []*storage.CalendarObject{}
	for _, obj := range t.s.objects[ref] {
		if matches(&obj, q) {
			out = append(out, copyObject(obj))
		}
	}
	slices.SortFunc(out, func(a, b *storage.CalendarObject) int { return strings.Compare(a.URI, b.URI) })
	return out, nil
}

// matches applies the index-backed query fields to obj.
func matches(obj *storage.CalendarObject, q storage.ObjectQuery) bool {
	if len(q.ComponentTypes) > 0 && !slices.Contains(q.ComponentTypes, obj.ComponentType) {
		return false
	}
	if len(q.UIDs) > 0 && !slices.Contains(q.UIDs, obj.UID) {
		return false
	}
	if !q.End.IsZero() && !obj.FirstOccurrence.Before(q.End) {
		return false
	}
	if !q.Start.IsZero() && obj.LastOccurrence.Before(q.Start) {
		return false
	}
	return true
}

// Change log

func (t *tx) AppendChange(_ context.Context, ch storage.Change) error {
	if _, ok := t.s.calendars[ch.Container]; !ok {
		return storage.NotFound("%s not found", ch.Container)
	}
	t.s.changes[ch.Container] = append(t.s.changes[ch.Container], ch)
	return nil
}

func (t *tx) ListChanges(_ context.Context, ref storage.ContainerRef, since int64) ([]storage.Change, error) {
	out := []storage.Change{}
	for _, ch := range t.s.changes[ref] {
		if ch.Token > since {
			out = append(out, ch)
		}
	}
	slices.SortStableFunc(out, func(a, b storage.Change) int { return cmp.Compare(a.Token, b.Token) })
	return out, nil
}

func (t *tx) PruneChanges(_ context.Context, ref storage.ContainerRef, before int64) (int64, error) {
	kept := t.s.changes[ref][:0:0]
	var removed int64
	for _, ch := range t.s.changes[ref] {
		if ch.Token <= before {
			removed++
			continue
		}
		kept = append(kept, ch)
	}
	t.s.changes[ref] = kept
	return removed, nil
}
