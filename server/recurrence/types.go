package recurrence

import (
	"errors"
	"time"
)

// ErrNotFound is returned when the requested UID is not present in a payload.
var ErrNotFound = errors.New("recurrence: component not found")

// MaxDate is the sentinel last-occurrence value stored for series that never end.
var MaxDate = time.Date(2038, time.January, 1, 0, 0, 0, 0, time.UTC)

// Pattern classifies how occurrences of a series are positioned.
type Pattern int

const (
	// PatternNone is reported for events that do not recur.
	PatternNone Pattern = iota
	// PatternAbsolute covers fixed calendar positions ("every 1st of the month")
	// and explicit date lists.
	PatternAbsolute
	// PatternRelative covers positions relative to the calendar structure
	// ("first Monday of the month", "last weekday of the year").
	PatternRelative
)

func (p Pattern) String() string {
	switch p {
	case PatternAbsolute:
		return "absolute"
	case PatternRelative:
		return "relative"
	default:
		return "none"
	}
}

// Precision is the granularity at which a series repeats.
type Precision int

const (
	PrecisionNone Precision = iota
	PrecisionDaily
	PrecisionWeekly
	PrecisionMonthly
	PrecisionYearly
	// PrecisionFixed is reported for series defined only by explicit dates.
	PrecisionFixed
)

func (p Precision) String() string {
	switch p {
	case PrecisionDaily:
		return "daily"
	case PrecisionWeekly:
		return "weekly"
	case PrecisionMonthly:
		return "monthly"
	case PrecisionYearly:
		return "yearly"
	case PrecisionFixed:
		return "fixed"
	default:
		return "none"
	}
}

// Bounds holds the indexing window of a series: the start of its first
// occurrence and the end of its last one (MaxDate for unbounded series).
type Bounds struct {
	First time.Time
	Last  time.Time
}
