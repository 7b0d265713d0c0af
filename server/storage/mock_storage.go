package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine implements the Engine interface for testing. WithTx records
// the call and, unless the expectation returns an error, runs fn against Tx.
type MockEngine struct {
	mock.Mock
	Tx *MockTx
}

// WithTx implements the Engine interface
func (m *MockEngine) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.Tx)
}

// MockTx implements the Tx interface for testing
type MockTx struct {
	mock.Mock
}

func (m *MockTx) InsertCalendar(ctx context.Context, cal *Calendar) error {
	return m.Called(ctx, cal).Error(0)
}

func (m *MockTx) UpdateCalendar(ctx context.Context, cal *Calendar) error {
	return m.Called(ctx, cal).Error(0)
}

func (m *MockTx) DeleteCalendar(ctx context.Context, ref ContainerRef) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockTx) GetCalendar(ctx context.Context, ref ContainerRef) (*Calendar, error) {
	args := m.Called(ctx, ref)
	cal, _ := args.Get(0).(*Calendar)
	return cal, args.Error(1)
}

func (m *MockTx) GetCalendarByURI(ctx context.Context, principal string, typ CalendarType, uri string) (*Calendar, error) {
	args := m.Called(ctx, principal, typ, uri)
	cal, _ := args.Get(0).(*Calendar)
	return cal, args.Error(1)
}

func (m *MockTx) ListCalendars(ctx context.Context, principal string, typ CalendarType) ([]*Calendar, error) {
	args := m.Called(ctx, principal, typ)
	cals, _ := args.Get(0).([]*Calendar)
	return cals, args.Error(1)
}

func (m *MockTx) NextSyncToken(ctx context.Context, ref ContainerRef) (int64, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) SetSyncHorizon(ctx context.Context, ref ContainerRef, horizon int64) error {
	return m.Called(ctx, ref, horizon).Error(0)
}

func (m *MockTx) InsertObject(ctx context.Context, obj *CalendarObject) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *MockTx) UpdateObject(ctx context.Context, obj *CalendarObject) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *MockTx) DeleteObject(ctx context.Context, ref ContainerRef, uri string) error {
	return m.Called(ctx, ref, uri).Error(0)
}

func (m *MockTx) DeleteObjects(ctx context.Context, ref ContainerRef) ([]string, error) {
	args := m.Called(ctx, ref)
	uris, _ := args.Get(0).([]string)
	return uris, args.Error(1)
}

func (m *MockTx) GetObject(ctx context.Context, ref ContainerRef, uri string) (*CalendarObject, error) {
	args := m.Called(ctx, ref, uri)
	obj, _ := args.Get(0).(*CalendarObject)
	return obj, args.Error(1)
}

func (m *MockTx) GetObjectByUID(ctx context.Context, ref ContainerRef, uid string) (*CalendarObject, error) {
	args := m.Called(ctx, ref, uid)
	obj, _ := args.Get(0).(*CalendarObject)
	return obj, args.Error(1)
}

func (m *MockTx) ListObjects(ctx context.Context, ref ContainerRef, q ObjectQuery) ([]*CalendarObject, error) {
	args := m.Called(ctx, ref, q)
	objs, _ := args.Get(0).([]*CalendarObject)
	return objs, args.Error(1)
}

func (m *MockTx) AppendChange(ctx context.Context, ch Change) error {
	return m.Called(ctx, ch).Error(0)
}

func (m *MockTx) ListChanges(ctx context.Context, ref ContainerRef, since int64) ([]Change, error) {
	args := m.Called(ctx, ref, since)
	changes, _ := args.Get(0).([]Change)
	return changes, args.Error(1)
}

func (m *MockTx) PruneChanges(ctx context.Context, ref ContainerRef, before int64) (int64, error) {
	args := m.Called(ctx, ref, before)
	return args.Get(0).(int64), args.Error(1)
}
