package recurrence

import (
	"iter"
	"time"
)

// Iterator is a forward cursor over the occurrence starts of an Event. It
// starts positioned at the first occurrence. An Iterator is not safe for
// concurrent use, but any number of independent iterators may be obtained
// from the same Event.
type Iterator struct {
	event *Event
	next  func() (time.Time, bool)
	cur   time.Time
	done  bool
}

// Iterator returns a fresh cursor positioned at the first occurrence.
func (e *Event) Iterator() *Iterator {
	it := &Iterator{event: e, next: e.source()}
	it.step()
	return it
}

func (it *Iterator) step() {
	if it.done {
		return
	}
	t, ok := it.next()
	if !ok {
		it.done = true
		it.cur = time.Time{}
		return
	}
	it.cur = t.In(it.event.start.Zone)
}

// Current returns the occurrence the cursor points at. The boolean is false
// once the series is exhausted.
func (it *Iterator) Current() (time.Time, bool) {
	if it.done {
		return time.Time{}, false
	}
	return it.cur, true
}

// Advance moves to the next occurrence and returns it.
func (it *Iterator) Advance() (time.Time, bool) {
	it.step()
	return it.Current()
}

// AdvanceTo moves forward to the first occurrence at or after t. The cursor
// never moves backwards: if the current occurrence is already at or after t
// it is returned unchanged.
func (it *Iterator) AdvanceTo(t time.Time) (time.Time, bool) {
	for !it.done && it.cur.Before(t) {
		it.step()
	}
	return it.Current()
}

// Done reports whether the series is exhausted.
func (it *Iterator) Done() bool { return it.done }

// Rewind returns a new cursor positioned at the first occurrence. The
// receiver is left untouched.
func (it *Iterator) Rewind() *Iterator {
	return it.event.Iterator()
}

// All yields every occurrence start in order. The sequence may be infinite;
// callers must stop ranging once past their window.
func (e *Event) All() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		it := e.Iterator()
		for t, ok := it.Current(); ok; t, ok = it.Advance() {
			if !yield(t) {
				return
			}
		}
	}
}

// Between returns the occurrence starts whose occurrence overlaps
// [start, end). Iteration stops at end, so unbounded series are safe.
func (e *Event) Between(start, end time.Time) []time.Time {
	var out []time.Time
	d := e.Duration()
	for t := range e.All() {
		if !t.Before(end) {
			break
		}
		if t.Add(d).After(start) || (d == 0 && !t.Before(start)) {
			out = append(out, t)
		}
	}
	return out
}

// Overlaps reports whether any occurrence intersects [start, end). A zero
// start or end leaves that side open.
func (e *Event) Overlaps(start, end time.Time) bool {
	if end.IsZero() {
		end = MaxDate
	}
	d := e.Duration()
	it := e.Iterator()
	if !start.IsZero() {
		// Occurrences starting before start-d cannot reach start.
		it.AdvanceTo(start.Add(-d))
	}
	for t, ok := it.Current(); ok && t.Before(end); t, ok = it.Advance() {
		if start.IsZero() || t.Add(d).After(start) || (d == 0 && !t.Before(start)) {
			return true
		}
	}
	return false
}
