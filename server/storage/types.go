package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/calstore/server/classification"
)

// Error types
type ErrorType string

const (
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConflict   ErrorType = "conflict"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotAllowed ErrorType = "not_allowed"
)

var (
	// ErrNotFound is returned when a calendar, object or UID doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned when a write would break a uniqueness rule
	ErrConflict = errors.New("resource conflict")
	// ErrValidation is returned when a payload fails structural checks
	ErrValidation = errors.New("invalid input")
	// ErrNotAllowed is returned for client writes to read-only mirrors
	ErrNotAllowed = errors.New("operation not allowed")
)

var sentinels = map[ErrorType]error{
	ErrTypeNotFound:   ErrNotFound,
	ErrTypeConflict:   ErrConflict,
	ErrTypeValidation: ErrValidation,
	ErrTypeNotAllowed: ErrNotAllowed,
}

// Error represents a storage-related error. errors.Is matches it against
// the sentinel of its Type as well as against the wrapped error.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Type] == target
}

// NotFound builds an ErrNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Type: ErrTypeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds an ErrConflict error.
func Conflict(msg string, err error) *Error {
	return &Error{Type: ErrTypeConflict, Message: msg, Err: err}
}

func validation(msg string, err error) *Error {
	return &Error{Type: ErrTypeValidation, Message: msg, Err: err}
}

func notAllowed(msg string) *Error {
	return &Error{Type: ErrTypeNotAllowed, Message: msg}
}

// errorType classifies err for metrics.
func errorType(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return string(se.Type)
	}
	return "internal"
}

// MsgDuplicateUID is the message of the conflict raised for a second object
// with the same UID in one collection.
const MsgDuplicateUID = "object with uid already exists in this calendar collection"

// CalendarType distinguishes regular calendars from subscription mirrors.
type CalendarType int

const (
	TypeCalendar CalendarType = iota
	TypeSubscription
)

func (t CalendarType) String() string {
	if t == TypeSubscription {
		return "subscription"
	}
	return "calendar"
}

// ContainerRef identifies a calendar or a subscription. IDs of the two
// types live in separate spaces.
type ContainerRef struct {
	ID   int64
	Type CalendarType
}

// CalendarRef refers to a regular calendar.
func CalendarRef(id int64) ContainerRef { return ContainerRef{ID: id, Type: TypeCalendar} }

// SubscriptionRef refers to a subscription mirror.
func SubscriptionRef(id int64) ContainerRef { return ContainerRef{ID: id, Type: TypeSubscription} }

func (r ContainerRef) String() string { return fmt.Sprintf("%s/%d", r.Type, r.ID) }

// Calendar is a calendar collection or a subscription mirror.
type Calendar struct {
	ID          int64
	Type        CalendarType
	Principal   string
	URI         string
	DisplayName string
	Description string
	Color       string
	Timezone    string
	// Components lists the supported component types (VEVENT, VTODO, ...).
	Components []string
	// Source is the remote URL a subscription mirrors.
	Source string
	// SyncToken is the current change token; it starts at 1 and only grows.
	SyncToken int64
	// SyncHorizon is the oldest token a sync request may present.
	SyncHorizon int64
	Created     time.Time
	Modified    time.Time
}

// Ref returns the calendar's container reference.
func (c *Calendar) Ref() ContainerRef { return ContainerRef{ID: c.ID, Type: c.Type} }

// Supports reports whether the calendar accepts components of type comp.
func (c *Calendar) Supports(comp string) bool {
	if len(c.Components) == 0 {
		return true
	}
	for _, s := range c.Components {
		if s == comp {
			return true
		}
	}
	return false
}

// CalendarObject is one stored calendar resource together with the fields
// derived from its payload at write time.
type CalendarObject struct {
	ID           int64
	CalendarID   int64
	CalendarType CalendarType
	URI          string
	// Data is the payload exactly as written.
	Data []byte

	UID             string
	ComponentType   string
	Classification  classification.Classification
	FirstOccurrence time.Time
	LastOccurrence  time.Time
	Size            int
	ETag            string
	LastModified    time.Time
	SyncToken       int64
}

// Ref returns the container the object belongs to.
func (o *CalendarObject) Ref() ContainerRef {
	return ContainerRef{ID: o.CalendarID, Type: o.CalendarType}
}

// Operation is the kind of change recorded in the change log.
type Operation int

const (
	OpAdded Operation = iota + 1
	OpModified
	OpDeleted
)

func (op Operation) String() string {
	switch op {
	case OpAdded:
		return "added"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one change-log row. Deletions stay in the log as tombstones.
type Change struct {
	Container ContainerRef
	URI       string
	Token     int64
	Operation Operation
}

// SyncReport answers an incremental sync request. Added, Modified and
// Deleted are disjoint. When FullResync is set the client must discard its
// state and list the collection again; the other fields are empty.
type SyncReport struct {
	Added      []string
	Modified   []string
	Deleted    []string
	Token      int64
	FullResync bool
	// Truncated means a limit cut the report; syncing again from Token
	// returns the rest.
	Truncated bool
}

// ObjectQuery is the cheap, index-backed part of a query. Zero values leave
// a field unconstrained.
type ObjectQuery struct {
	ComponentTypes []string
	// Start and End select objects whose occurrence bounds intersect
	// [Start, End).
	Start time.Time
	End   time.Time
	// UIDs restricts the result to the given UIDs.
	UIDs []string
}

// SearchOptions narrows a full-text search.
type SearchOptions struct {
	// Properties searched; DefaultSearchProperties when empty.
	Properties []string
	// ComponentTypes restricts the component type (VEVENT, VTODO, ...).
	ComponentTypes []string
	// Start and End restrict results to objects occurring in [Start, End).
	Start time.Time
	End   time.Time
	// Calendars adds calendars the principal does not own (shares) to the
	// search scope.
	Calendars []ContainerRef
	Limit     int
	Offset    int
}

// DefaultSearchProperties are searched when SearchOptions.Properties is empty.
var DefaultSearchProperties = []string{"SUMMARY", "LOCATION", "DESCRIPTION", "ATTENDEE", "ORGANIZER"}

// SearchResult is one matching object.
type SearchResult struct {
	CalendarID   int64
	CalendarType CalendarType
	CalendarURI  string
	URI          string
	UID          string
	ETag         string
	Data         []byte
}
