package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calstore/server/storage"
)

func withCalendar(t *testing.T, e *Engine) storage.ContainerRef {
	t.Helper()
	cal := &storage.Calendar{Principal: "alice", URI: "work", SyncToken: 1, SyncHorizon: 1}
	require.NoError(t, e.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertCalendar(context.Background(), cal)
	}))
	return cal.Ref()
}

func TestEngine_Calendar(t *testing.T) {
	e := New()
	ctx := context.Background()
	ref := withCalendar(t, e)
	assert.Equal(t, storage.CalendarRef(1), ref)

	err := e.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertCalendar(ctx, &storage.Calendar{Principal: "alice", URI: "work"})
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Same URI as a subscription lives in its own ID space.
	sub := &storage.Calendar{Principal: "alice", URI: "work", Type: storage.TypeSubscription}
	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error { return tx.InsertCalendar(ctx, sub) }))
	assert.Equal(t, storage.SubscriptionRef(1), sub.Ref())

	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
		cal, err := tx.GetCalendarByURI(ctx, "alice", storage.TypeCalendar, "work")
		require.NoError(t, err)
		cal.DisplayName = "Work"
		cal.SyncToken = 99
		require.NoError(t, tx.UpdateCalendar(ctx, cal))

		got, err := tx.GetCalendar(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "Work", got.DisplayName)
		assert.Equal(t, int64(1), got.SyncToken, "tokens only move through NextSyncToken")

		cals, err := tx.ListCalendars(ctx, "alice", storage.TypeCalendar)
		require.NoError(t, err)
		assert.Len(t, cals, 1)
		return nil
	}))

	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error { return tx.DeleteCalendar(ctx, ref) }))
	err = e.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.GetCalendar(ctx, ref)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_RollbackOnError(t *testing.T) {
	e := New()
	ctx := context.Background()
	ref := withCalendar(t, e)
	boom := errors.New("boom")

	err := e.WithTx(ctx, func(tx storage.Tx) error {
		token, err := tx.NextSyncToken(ctx, ref)
		require.NoError(t, err)
		require.NoError(t, tx.InsertObject(ctx, &storage.CalendarObject{CalendarID: ref.ID, URI: "a.ics", UID: "a", SyncToken: token}))
		require.NoError(t, tx.AppendChange(ctx, storage.Change{Container: ref, URI: "a.ics", Token: token, Operation: storage.OpAdded}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
		cal, err := tx.GetCalendar(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cal.SyncToken)
		_, err = tx.GetObject(ctx, ref, "a.ics")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		changes, err := tx.ListChanges(ctx, ref, 0)
		require.NoError(t, err)
		assert.Empty(t, changes)
		return nil
	}))
}

func TestEngine_CanceledContext(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := e.WithTx(ctx, func(storage.Tx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestEngine_Objects(t *testing.T) {
	e := New()
	ctx := context.Background()
	ref := withCalendar(t, e)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	objects := []*storage.CalendarObject{
		{URI: "b.ics", UID: "b", ComponentType: "VEVENT", FirstOccurrence: day, LastOccurrence: day.Add(time.Hour)},
		{URI: "a.ics", UID: "a", ComponentType: "VTODO", FirstOccurrence: day.AddDate(0, 1, 0), LastOccurrence: day.AddDate(0, 1, 0)},
		{URI: "c.ics", UID: "c", ComponentType: "VEVENT", FirstOccurrence: day.AddDate(0, 0, 7), LastOccurrence: day.AddDate(0, 0, 7).Add(time.Hour)},
	}
	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
		for _, obj := range objects {
			obj.CalendarID = ref.ID
			if err := tx.InsertObject(ctx, obj); err != nil {
				return err
			}
		}
		return nil
	}))

	tests := []struct {
		name string
		q    storage.ObjectQuery
		want []string
	}{
		{name: "everything ordered by uri", want: []string{"a.ics", "b.ics", "c.ics"}},
		{name: "component type", q: storage.ObjectQuery{ComponentTypes: []string{"VEVENT"}}, want: []string{"b.ics", "c.ics"}},
		{name: "uids", q: storage.ObjectQuery{UIDs: []string{"c", "a"}}, want: []string{"a.ics", "c.ics"}},
		{
			name: "window",
			q:    storage.ObjectQuery{Start: day.Add(30 * time.Minute), End: day.AddDate(0, 0, 7)},
			want: []string{"b.ics"},
		},
		{name: "open end", q: storage.ObjectQuery{Start: day.AddDate(0, 0, 2)}, want: []string{"a.ics", "c.ics"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
				got, err := tx.ListObjects(ctx, ref, tt.q)
				require.NoError(t, err)
				uris := make([]string, len(got))
				for i, o := range got {
					uris[i] = o.URI
				}
				assert.Equal(t, tt.want, uris)
				return nil
			}))
		})
	}

	err := e.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertObject(ctx, &storage.CalendarObject{CalendarID: ref.ID, URI: "d.ics", UID: "a"})
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorContains(t, err, storage.MsgDuplicateUID)

	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
		obj, err := tx.GetObjectByUID(ctx, ref, "b")
		require.NoError(t, err)
		assert.Equal(t, "b.ics", obj.URI)

		uris, err := tx.DeleteObjects(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.ics", "b.ics", "c.ics"}, uris)
		return nil
	}))
}

func TestEngine_ChangeLog(t *testing.T) {
	e := New()
	ctx := context.Background()
	ref := withCalendar(t, e)

	require.NoError(t, e.WithTx(ctx, func(tx storage.Tx) error {
		for i, uri := range []string{"a.ics", "b.ics", "a.ics"} {
			token, err := tx.NextSyncToken(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, int64(i+2), token)
			require.NoError(t, tx.AppendChange(ctx, storage.Change{Container: ref, URI: uri, Token: token, Operation: storage.OpModified}))
		}

		changes, err := tx.ListChanges(ctx, ref, 2)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, int64(3), changes[0].Token)

		removed, err := tx.PruneChanges(ctx, ref, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)
		require.NoError(t, tx.SetSyncHorizon(ctx, ref, 3))
		require.NoError(t, tx.SetSyncHorizon(ctx, ref, 2))

		cal, err := tx.GetCalendar(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cal.SyncHorizon, "horizon never moves back")
		return nil
	}))
}
