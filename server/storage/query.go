package storage

import (
	"context"
	"slices"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/classification"
)

// Query returns the URIs of the objects in ref matching filter, sorted and
// without duplicates. Candidates are first narrowed by component type and
// stored occurrence bounds, then parsed and matched exactly. Non-owners
// are matched against what they may see of each object.
func (s *Store) Query(ctx context.Context, ref ContainerRef, accessor string, filter *Filter) (uris []string, err error) {
	defer s.observe("query")(&err)
	if err := filter.Validate(); err != nil {
		return nil, validation("invalid query filter", err)
	}

	start, end := filter.Window()
	q := ObjectQuery{ComponentTypes: filter.ComponentTypes(), Start: start, End: end}

	var (
		cal  *Calendar
		rows []*CalendarObject
	)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		rows, err = tx.ListObjects(ctx, ref, q)
		return err
	})
	if err != nil {
		return nil, err
	}

	owner := s.isOwner(ctx, accessor, cal)
	uris = []string{}
	for _, obj := range rows {
		if !s.filter.Visible(obj.Classification, owner, classification.PathListing) {
			continue
		}
		parsed, err := s.visibleCalendar(obj, owner)
		if err != nil {
			s.logger.Warn("skipping unreadable object in query", "container", ref, "uri", obj.URI, "error", err)
			continue
		}
		if filter.Match(parsed, s.recurrenceOptions()...) {
			uris = append(uris, obj.URI)
		}
	}
	slices.Sort(uris)
	return slices.Compact(uris), nil
}

// visibleCalendar decodes obj, redacted when the reader is not its owner.
func (s *Store) visibleCalendar(obj *CalendarObject, owner bool) (*ical.Calendar, error) {
	cal, err := icalutil.Decode(obj.Data)
	if err != nil {
		return nil, err
	}
	if s.filter.NeedsRedaction(obj.Classification, owner) {
		return s.filter.Redact(cal), nil
	}
	return cal, nil
}
