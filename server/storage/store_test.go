package storage_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/notify"
	"github.com/cyp0633/calstore/server/recurrence"
	"github.com/cyp0633/calstore/server/storage"
	"github.com/cyp0633/calstore/server/storage/memory"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, ev notify.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockNotifier) types() []notify.EventType {
	var out []notify.EventType
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(notify.Event).Type)
	}
	return out
}

var testNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// ics builds a one-component payload. Lines are added to the component.
func ics(comp, uid string, lines ...string) []byte {
	out := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//calstore//test//EN",
		"BEGIN:" + comp,
		"UID:" + uid,
		"DTSTAMP:20240101T000000Z",
	}
	out = append(out, lines...)
	out = append(out, "END:"+comp, "END:VCALENDAR", "")
	return []byte(strings.Join(out, "\r\n"))
}

func event(uid string, lines ...string) []byte {
	if !hasPrefix(lines, "DTSTART") {
		lines = append([]string{"DTSTART:20240105T120000Z", "DTEND:20240105T130000Z"}, lines...)
	}
	return ics("VEVENT", uid, lines...)
}

func hasPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *storage.Store
	notifier *mockNotifier
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...storage.Option) *fixture {
	t.Helper()
	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.Anything).Return(nil)
	opts = append([]storage.Option{
		storage.WithNotifier(n),
		storage.WithClock(func() time.Time { return testNow }),
	}, opts...)
	return &fixture{store: storage.New(memory.New(), opts...), notifier: n, ctx: context.Background()}
}

func (f *fixture) calendar(t *testing.T, principal, uri string) storage.ContainerRef {
	t.Helper()
	cal := &storage.Calendar{Principal: principal, URI: uri, DisplayName: uri}
	require.NoError(t, f.store.CreateCalendar(f.ctx, cal))
	return cal.Ref()
}

func (f *fixture) create(t *testing.T, ref storage.ContainerRef, uri string, data []byte) *storage.CalendarObject {
	t.Helper()
	obj, err := f.store.CreateObject(f.ctx, ref, uri, data)
	require.NoError(t, err)
	return obj
}

func (f *fixture) token(t *testing.T, ref storage.ContainerRef) int64 {
	t.Helper()
	cal, err := f.store.GetCalendar(f.ctx, ref)
	require.NoError(t, err)
	return cal.SyncToken
}

func TestStore_CalendarLifecycle(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	cal, err := f.store.GetCalendar(f.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cal.SyncToken)
	assert.Equal(t, testNow, cal.Created)

	err = f.store.CreateCalendar(f.ctx, &storage.Calendar{Principal: "alice", URI: "work"})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorIs(t, f.store.CreateCalendar(f.ctx, &storage.Calendar{Principal: "alice"}), storage.ErrValidation)

	cal.DisplayName = "Work"
	cal.Components = []string{"VEVENT"}
	require.NoError(t, f.store.UpdateCalendar(f.ctx, cal))
	got, err := f.store.GetCalendarByURI(f.ctx, "alice", "work")
	require.NoError(t, err)
	assert.Equal(t, "Work", got.DisplayName)

	_, err = f.store.CreateObject(f.ctx, ref, "todo.ics", ics("VTODO", "t1"))
	assert.ErrorIs(t, err, storage.ErrValidation, "unsupported component type")

	f.create(t, ref, "a.ics", event("a"))
	require.NoError(t, f.store.DeleteCalendar(f.ctx, ref.ID))
	_, err = f.store.GetCalendar(f.ctx, ref)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cals, err := f.store.ListCalendars(f.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, cals)

	assert.Equal(t, []notify.EventType{
		notify.CalendarCreated, notify.CalendarUpdated, notify.ObjectCreated, notify.CalendarDeleted,
	}, f.notifier.types())
}

func TestStore_ObjectRoundTrip(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	data := event("lunch", "SUMMARY:Lunch")
	obj := f.create(t, ref, "lunch.ics", data)
	assert.Equal(t, "lunch", obj.UID)
	assert.Equal(t, "VEVENT", obj.ComponentType)
	assert.Equal(t, classification.Private, obj.Classification, "no CLASS is private")
	assert.Equal(t, len(data), obj.Size)
	assert.Equal(t, storage.ETag(data), obj.ETag)
	assert.Equal(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), obj.FirstOccurrence)
	assert.Equal(t, time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC), obj.LastOccurrence)

	got, err := f.store.GetObject(f.ctx, ref, "lunch.ics", "alice")
	require.NoError(t, err)
	assert.Equal(t, data, got.Data, "payload is stored byte for byte")

	changed := event("lunch", "SUMMARY:Long lunch")
	updated, err := f.store.UpdateObject(f.ctx, ref, "lunch.ics", changed)
	require.NoError(t, err)
	assert.NotEqual(t, obj.ETag, updated.ETag)
	assert.Greater(t, updated.SyncToken, obj.SyncToken)

	require.NoError(t, f.store.DeleteObject(f.ctx, ref, "lunch.ics"))
	_, err = f.store.GetObject(f.ctx, ref, "lunch.ics", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, f.store.DeleteObject(f.ctx, ref, "lunch.ics"), storage.ErrNotFound)

	calls := f.notifier.Calls
	last := calls[len(calls)-1].Arguments.Get(1).(notify.Event)
	assert.Equal(t, notify.ObjectDeleted, last.Type)
	assert.Equal(t, changed, last.OldData)
	assert.Nil(t, last.NewData)
}

func TestStore_RecurringBounds(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	open := f.create(t, ref, "standup.ics", event("standup",
		"DTSTART:20240101T090000Z", "DTEND:20240101T091500Z", "RRULE:FREQ=WEEKLY"))
	assert.Equal(t, recurrence.MaxDate, open.LastOccurrence)

	counted := f.create(t, ref, "course.ics", event("course",
		"DTSTART:20240101T090000Z", "DTEND:20240101T100000Z", "RRULE:FREQ=DAILY;COUNT=3"))
	assert.Equal(t, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), counted.LastOccurrence)

	todo := f.create(t, ref, "someday.ics", ics("VTODO", "someday", "SUMMARY:Someday"))
	assert.True(t, todo.FirstOccurrence.IsZero())
	assert.Equal(t, recurrence.MaxDate, todo.LastOccurrence)
}

func TestStore_Validation(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	twoUIDs := []byte(strings.Join([]string{
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//calstore//test//EN",
		"BEGIN:VEVENT", "UID:a", "DTSTAMP:20240101T000000Z", "DTSTART:20240101T090000Z", "END:VEVENT",
		"BEGIN:VEVENT", "UID:b", "DTSTAMP:20240101T000000Z", "DTSTART:20240101T090000Z", "END:VEVENT",
		"END:VCALENDAR", "",
	}, "\r\n"))

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not a calendar", data: []byte("hello")},
		{name: "no components", data: []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:x\r\nEND:VCALENDAR\r\n")},
		{name: "multiple uids", data: twoUIDs},
		{name: "event without start", data: ics("VEVENT", "nostart", "SUMMARY:x")},
		{name: "malformed rule", data: event("bad", "RRULE:FREQ=SOMETIMES")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.CreateObject(f.ctx, ref, "x.ics", tt.data)
			assert.ErrorIs(t, err, storage.ErrValidation)
		})
	}
	assert.Equal(t, int64(1), f.token(t, ref), "rejected writes never reach the engine")
}

func TestStore_ConcurrentCreateSameUID(t *testing.T) {
	store := storage.New(memory.New())
	ctx := context.Background()
	cal := &storage.Calendar{Principal: "alice", URI: "work"}
	require.NoError(t, store.CreateCalendar(ctx, cal))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uri := []string{"a.ics", "b.ics"}[i]
			_, errs[i] = store.CreateObject(ctx, cal.Ref(), uri, event("shared"))
		}(i)
	}
	wg.Wait()

	var succeeded, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, storage.ErrConflict):
			conflicts++
			assert.ErrorContains(t, err, storage.MsgDuplicateUID)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	objs, err := store.GetObjectsForCalendar(ctx, cal.Ref(), "alice")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}

func TestStore_DuplicateUID(t *testing.T) {
	f := newFixture(t)
	work := f.calendar(t, "alice", "work")
	home := f.calendar(t, "alice", "home")

	f.create(t, work, "a.ics", event("same"))
	before := f.token(t, work)

	_, err := f.store.CreateObject(f.ctx, work, "b.ics", event("same"))
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorContains(t, err, storage.MsgDuplicateUID)
	assert.Equal(t, before, f.token(t, work), "failed write leaves the token alone")

	_, err = f.store.CreateObject(f.ctx, work, "a.ics", event("other"))
	assert.ErrorIs(t, err, storage.ErrConflict, "uri already taken")

	f.create(t, home, "a.ics", event("same"))

	f.create(t, work, "c.ics", event("third"))
	_, err = f.store.UpdateObject(f.ctx, work, "c.ics", event("same"))
	assert.ErrorIs(t, err, storage.ErrConflict)

	obj, calURI, err := f.store.GetObjectByUID(f.ctx, "alice", "same")
	require.NoError(t, err)
	assert.Equal(t, "work", calURI)
	assert.Equal(t, "a.ics", obj.URI)

	_, _, err = f.store.GetObjectByUID(f.ctx, "alice", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Sync(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	f.create(t, ref, "a.ics", event("a"))                                  // 2
	f.create(t, ref, "b.ics", event("b"))                                  // 3
	_, err := f.store.UpdateObject(f.ctx, ref, "a.ics", event("a", "SUMMARY:x")) // 4
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteObject(f.ctx, ref, "b.ics")) // 5

	tests := []struct {
		name  string
		since int64
		limit int
		want  storage.SyncReport
	}{
		{
			name: "initial listing",
			want: storage.SyncReport{Added: []string{"a.ics"}, Token: 5},
		},
		{
			name:  "collapsed history",
			since: 1,
			want:  storage.SyncReport{Added: []string{"a.ics"}, Modified: []string{}, Deleted: []string{"b.ics"}, Token: 5},
		},
		{
			name:  "partial history",
			since: 3,
			want:  storage.SyncReport{Added: []string{}, Modified: []string{"a.ics"}, Deleted: []string{"b.ics"}, Token: 5},
		},
		{
			name:  "up to date",
			since: 5,
			want:  storage.SyncReport{Added: []string{}, Modified: []string{}, Deleted: []string{}, Token: 5},
		},
		{
			name:  "future token",
			since: 6,
			want:  storage.SyncReport{Token: 5, FullResync: true},
		},
		{
			name:  "limited",
			since: 1,
			limit: 2,
			want:  storage.SyncReport{Added: []string{"a.ics", "b.ics"}, Modified: []string{}, Deleted: []string{}, Token: 3, Truncated: true},
		},
		{
			name:  "resume after limit",
			since: 3,
			limit: 2,
			want:  storage.SyncReport{Added: []string{}, Modified: []string{"a.ics"}, Deleted: []string{"b.ics"}, Token: 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := f.store.Sync(f.ctx, ref, tt.since, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, &tt.want, report)
		})
	}

	_, err = f.store.Sync(f.ctx, ref, -1, 0)
	assert.ErrorIs(t, err, storage.ErrValidation)
	_, err = f.store.Sync(f.ctx, storage.CalendarRef(99), 0, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SyncTokensOnlyGrow(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")

	prev := f.token(t, ref)
	for i, uri := range []string{"a.ics", "b.ics", "c.ics"} {
		obj := f.create(t, ref, uri, event(uri))
		assert.Equal(t, prev+1, obj.SyncToken, "write %d", i)
		prev = obj.SyncToken

		report, err := f.store.Sync(f.ctx, ref, prev-1, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{uri}, report.Added)
		assert.Equal(t, prev, report.Token)
	}
}

func TestStore_PruneChanges(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")
	for _, uri := range []string{"a.ics", "b.ics", "c.ics"} {
		f.create(t, ref, uri, event(uri)) // tokens 2, 3, 4
	}

	removed, err := f.store.PruneChanges(f.ctx, ref, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	report, err := f.store.Sync(f.ctx, ref, 2, 0)
	require.NoError(t, err)
	assert.True(t, report.FullResync)

	report, err = f.store.Sync(f.ctx, ref, 3, 0)
	require.NoError(t, err)
	assert.False(t, report.FullResync)
	assert.Equal(t, []string{"c.ics"}, report.Added)
}

func TestStore_Subscriptions(t *testing.T) {
	f := newFixture(t)
	sub := &storage.Calendar{Principal: "alice", URI: "holidays", Source: "https://example.com/holidays.ics"}
	require.NoError(t, f.store.CreateSubscription(f.ctx, sub))
	ref := sub.Ref()
	assert.Equal(t, storage.TypeSubscription, ref.Type)

	assert.ErrorIs(t, f.store.CreateSubscription(f.ctx, &storage.Calendar{Principal: "alice", URI: "x"}), storage.ErrValidation)

	_, err := f.store.CreateObject(f.ctx, ref, "a.ics", event("a"))
	assert.ErrorIs(t, err, storage.ErrNotAllowed)
	_, err = f.store.UpdateObject(f.ctx, ref, "a.ics", event("a"))
	assert.ErrorIs(t, err, storage.ErrNotAllowed)
	assert.ErrorIs(t, f.store.DeleteObject(f.ctx, ref, "a.ics"), storage.ErrNotAllowed)

	for _, uri := range []string{"a.ics", "b.ics", "c.ics"} {
		_, err := f.store.PutMirroredObject(f.ctx, ref.ID, uri, event(uri)) // tokens 2, 3, 4
		require.NoError(t, err)
	}
	_, err = f.store.PutMirroredObject(f.ctx, ref.ID, "a.ics", event("a.ics", "SUMMARY:moved")) // 5
	require.NoError(t, err)

	require.NoError(t, f.store.PurgeSubscription(f.ctx, ref.ID))
	assert.Equal(t, int64(6), f.token(t, ref), "a purge is one token")

	objs, err := f.store.GetObjectsForCalendar(f.ctx, ref, "alice")
	require.NoError(t, err)
	assert.Empty(t, objs)

	report, err := f.store.Sync(f.ctx, ref, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ics", "b.ics", "c.ics"}, report.Deleted, "a token is never split")
	assert.False(t, report.Truncated)
	assert.Equal(t, int64(6), report.Token)

	subs, err := f.store.ListSubscriptions(f.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Contains(t, f.notifier.types(), notify.SubscriptionPurged)

	require.NoError(t, f.store.DeleteSubscription(f.ctx, ref.ID))
	_, err = f.store.GetCalendar(f.ctx, ref)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func classified(t *testing.T, f *fixture) storage.ContainerRef {
	t.Helper()
	ref := f.calendar(t, "alice", "work")
	f.create(t, ref, "pub.ics", event("pub", "SUMMARY:Team lunch", "LOCATION:Cafeteria", "CLASS:PUBLIC"))
	f.create(t, ref, "priv.ics", event("priv", "SUMMARY:Doctor", "CLASS:PRIVATE"))
	f.create(t, ref, "conf.ics", event("conf", "SUMMARY:Salary talk", "LOCATION:HR office", "CLASS:CONFIDENTIAL"))
	return ref
}

func uris(objs []*storage.CalendarObject) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.URI
	}
	return out
}

func TestStore_ClassificationOnListing(t *testing.T) {
	f := newFixture(t)
	ref := classified(t, f)

	owner, err := f.store.GetObjectsForCalendar(f.ctx, ref, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"conf.ics", "priv.ics", "pub.ics"}, uris(owner))

	guest, err := f.store.GetObjectsForCalendar(f.ctx, ref, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"conf.ics", "pub.ics"}, uris(guest))

	redacted := string(guest[0].Data)
	assert.Contains(t, redacted, "SUMMARY:Busy")
	assert.NotContains(t, redacted, "Salary")
	assert.NotContains(t, redacted, "HR office")

	_, err = f.store.GetObject(f.ctx, ref, "priv.ics", "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.create(t, ref, "plain.ics", event("plain", "SUMMARY:Interview"))
	guest, err = f.store.GetObjectsForCalendar(f.ctx, ref, "bob")
	require.NoError(t, err)
	assert.NotContains(t, uris(guest), "plain.ics", "objects without CLASS are private")
	_, err = f.store.GetObject(f.ctx, ref, "plain.ics", "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stored, err := f.store.GetObject(f.ctx, ref, "conf.ics", "alice")
	require.NoError(t, err)
	assert.Contains(t, string(stored.Data), "Salary talk", "redaction never touches the stored payload")

	shared := newFixture(t, storage.WithOwnerResolver(storage.OwnerFunc(
		func(_ context.Context, accessor string, cal *storage.Calendar) bool {
			return accessor == cal.Principal || accessor == "assistant"
		})))
	sref := classified(t, shared)
	all, err := shared.store.GetObjectsForCalendar(shared.ctx, sref, "assistant")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Query(t *testing.T) {
	f := newFixture(t)
	ref := classified(t, f)
	f.create(t, ref, "standup.ics", event("standup",
		"DTSTART:20240101T090000Z", "DTEND:20240101T091500Z", "RRULE:FREQ=WEEKLY", "SUMMARY:Standup"))

	window := func(start, end time.Time) *storage.Filter {
		return &storage.Filter{Component: "VCALENDAR", Children: []storage.Filter{
			{Component: "VEVENT", TimeRange: &storage.TimeRange{Start: &start, End: &end}},
		}}
	}
	monday := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

	got, err := f.store.Query(f.ctx, ref, "alice", window(monday, monday.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"standup.ics"}, got)

	got, err = f.store.Query(f.ctx, ref, "alice", window(monday.AddDate(0, 0, 1), monday.AddDate(0, 0, 2)))
	require.NoError(t, err)
	assert.Empty(t, got, "bounds admit the series but no occurrence falls on a tuesday")

	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	got, err = f.store.Query(f.ctx, ref, "alice", window(jan5, jan5.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"conf.ics", "priv.ics", "pub.ics"}, got)

	got, err = f.store.Query(f.ctx, ref, "bob", window(jan5, jan5.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"conf.ics", "pub.ics"}, got)

	salary := &storage.Filter{Component: "VCALENDAR", Children: []storage.Filter{{
		Component:   "VEVENT",
		PropFilters: []storage.PropFilter{{Name: "SUMMARY", TextMatch: &storage.TextMatch{Value: "Salary"}}},
	}}}
	got, err = f.store.Query(f.ctx, ref, "alice", salary)
	require.NoError(t, err)
	assert.Equal(t, []string{"conf.ics"}, got)
	got, err = f.store.Query(f.ctx, ref, "bob", salary)
	require.NoError(t, err)
	assert.Empty(t, got, "hidden text cannot be probed through queries")

	_, err = f.store.Query(f.ctx, ref, "alice", &storage.Filter{Component: "VEVENT"})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestStore_Search(t *testing.T) {
	f := newFixture(t)
	work := classified(t, f)
	home := f.calendar(t, "alice", "home")
	f.create(t, home, "m.ics", event("m", "SUMMARY:Lunch with mom"))
	f.create(t, work, "z.ics", event("z", "SUMMARY:Review",
		"ATTENDEE;CN=Carol Danvers:mailto:carol@example.com"))

	results, err := f.store.Search(f.ctx, "alice", "LUNCH", storage.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "pub.ics", results[0].URI)
	assert.Equal(t, "work", results[0].CalendarURI)
	assert.Equal(t, "m.ics", results[1].URI)

	paged, err := f.store.Search(f.ctx, "alice", "lunch", storage.SearchOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "m.ics", paged[0].URI)

	byName, err := f.store.Search(f.ctx, "alice", "danvers", storage.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "z.ics", byName[0].URI)

	only, err := f.store.Search(f.ctx, "alice", "lunch", storage.SearchOptions{Properties: []string{"LOCATION"}})
	require.NoError(t, err)
	assert.Empty(t, only)

	owner, err := f.store.Search(f.ctx, "alice", "salary", storage.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, owner, 1)

	shared := storage.SearchOptions{Calendars: []storage.ContainerRef{work, work}}
	guest, err := f.store.Search(f.ctx, "bob", "o", shared)
	require.NoError(t, err)
	var found []string
	for _, r := range guest {
		found = append(found, r.URI)
	}
	assert.NotContains(t, found, "priv.ics")
	assert.NotContains(t, found, "conf.ics", "confidential objects stay out of search for non-owners")

	_, err = f.store.Search(f.ctx, "alice", "  ", storage.SearchOptions{})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestStore_SearchRedactedWhenAllowed(t *testing.T) {
	f := newFixture(t, storage.WithPolicy(classification.Policy{}))
	work := classified(t, f)
	shared := storage.SearchOptions{Calendars: []storage.ContainerRef{work}}

	hidden, err := f.store.Search(f.ctx, "bob", "salary", shared)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	busy, err := f.store.Search(f.ctx, "bob", "busy", shared)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, "conf.ics", busy[0].URI)
	assert.NotContains(t, string(busy[0].Data), "HR office")
}

func TestStore_SearchTimeRange(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t, "alice", "work")
	f.create(t, ref, "old.ics", event("old", "SUMMARY:Sprint review"))
	f.create(t, ref, "weekly.ics", event("weekly",
		"DTSTART:20240101T090000Z", "DTEND:20240101T100000Z", "RRULE:FREQ=WEEKLY", "SUMMARY:Sprint planning"))

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	results, err := f.store.Search(f.ctx, "alice", "sprint", storage.SearchOptions{Start: start, End: start.AddDate(0, 0, 7)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "weekly.ics", results[0].URI)
}

func TestStore_NotificationFailureKeepsWrite(t *testing.T) {
	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	s := storage.New(memory.New(), storage.WithNotifier(n))
	ctx := context.Background()

	cal := &storage.Calendar{Principal: "alice", URI: "work"}
	require.NoError(t, s.CreateCalendar(ctx, cal))
	_, err := s.CreateObject(ctx, cal.Ref(), "a.ics", event("a"))
	require.NoError(t, err)

	_, err = s.GetObject(ctx, cal.Ref(), "a.ics", "alice")
	assert.NoError(t, err)
	n.AssertNumberOfCalls(t, "Notify", 2)
}

func TestStore_EngineFailure(t *testing.T) {
	engine := &storage.MockEngine{Tx: new(storage.MockTx)}
	engine.On("WithTx", mock.Anything).Return(errors.New("connection reset"))
	n := new(mockNotifier)
	s := storage.New(engine, storage.WithNotifier(n))

	_, err := s.CreateObject(context.Background(), storage.CalendarRef(1), "a.ics", event("a"))
	assert.ErrorContains(t, err, "connection reset")
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)

	engine.Calls = nil
	_, err = s.CreateObject(context.Background(), storage.CalendarRef(1), "a.ics", []byte("garbage"))
	assert.ErrorIs(t, err, storage.ErrValidation)
	engine.AssertNotCalled(t, "WithTx", mock.Anything)
}

func TestStore_TokenBumpFailureRollsBack(t *testing.T) {
	tx := new(storage.MockTx)
	engine := &storage.MockEngine{Tx: tx}
	engine.On("WithTx", mock.Anything).Return(nil)
	ref := storage.CalendarRef(1)
	tx.On("GetCalendar", mock.Anything, ref).Return(&storage.Calendar{ID: 1, Principal: "alice", URI: "work", SyncToken: 4}, nil)
	tx.On("GetObject", mock.Anything, ref, "a.ics").Return(nil, storage.NotFound("object %q not found", "a.ics"))
	tx.On("GetObjectByUID", mock.Anything, ref, "a").Return(nil, storage.NotFound("no object"))
	tx.On("NextSyncToken", mock.Anything, ref).Return(int64(0), errors.New("deadlock"))

	s := storage.New(engine)
	_, err := s.CreateObject(context.Background(), ref, "a.ics", event("a"))
	assert.ErrorContains(t, err, "deadlock")
	tx.AssertNotCalled(t, "InsertObject", mock.Anything, mock.Anything)
}
