package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/classification"
)

// Search finds objects whose text properties contain term, case-insensitively,
// across principal's calendars and the extra calendars in opts. Results are
// ordered by calendar and URI; each object appears once.
func (s *Store) Search(ctx context.Context, principal, term string, opts SearchOptions) (results []SearchResult, err error) {
	defer s.observe("search")(&err)
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, validation("empty search term", nil)
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && !opts.Start.Before(opts.End) {
		return nil, validation("search range start must be before end", nil)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, validation("negative limit or offset", nil)
	}
	props := opts.Properties
	if len(props) == 0 {
		props = DefaultSearchProperties
	}

	type scope struct {
		cal  *Calendar
		rows []*CalendarObject
	}
	var scopes []scope
	q := ObjectQuery{ComponentTypes: opts.ComponentTypes, Start: opts.Start, End: opts.End}
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cals, err := tx.ListCalendars(ctx, principal, TypeCalendar)
		if err != nil {
			return err
		}
		for _, ref := range opts.Calendars {
			cal, err := tx.GetCalendar(ctx, ref)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			cals = append(cals, cal)
		}
		seen := make(map[ContainerRef]bool)
		for _, cal := range cals {
			if seen[cal.Ref()] {
				continue
			}
			seen[cal.Ref()] = true
			rows, err := tx.ListObjects(ctx, cal.Ref(), q)
			if err != nil {
				return err
			}
			scopes = append(scopes, scope{cal: cal, rows: rows})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	results = []SearchResult{}
	for _, sc := range scopes {
		owner := s.isOwner(ctx, principal, sc.cal)
		for _, obj := range sc.rows {
			if !s.filter.Visible(obj.Classification, owner, classification.PathSearch) {
				continue
			}
			parsed, err := s.visibleCalendar(obj, owner)
			if err != nil {
				s.logger.Warn("skipping unreadable object in search", "container", sc.cal.Ref(), "uri", obj.URI, "error", err)
				continue
			}
			if !s.inRange(parsed, opts.Start, opts.End) || !containsTerm(parsed, props, needle) {
				continue
			}
			res := SearchResult{
				CalendarID:   sc.cal.ID,
				CalendarType: sc.cal.Type,
				CalendarURI:  sc.cal.URI,
				URI:          obj.URI,
				UID:          obj.UID,
				ETag:         obj.ETag,
				Data:         obj.Data,
			}
			if s.filter.NeedsRedaction(obj.Classification, owner) {
				if res.Data, err = icalutil.Encode(parsed); err != nil {
					return nil, err
				}
			}
			results = append(results, res)
		}
	}

	slices.SortFunc(results, compareResults)
	results = slices.CompactFunc(results, func(a, b SearchResult) bool { return compareResults(a, b) == 0 })
	if opts.Offset >= len(results) {
		return []SearchResult{}, nil
	}
	results = results[opts.Offset:]
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func compareResults(a, b SearchResult) int {
	if c := cmp.Compare(a.CalendarID, b.CalendarID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CalendarType, b.CalendarType); c != 0 {
		return c
	}
	return strings.Compare(a.URI, b.URI)
}

// inRange reports whether any component of cal occurs in [start, end).
func (s *Store) inRange(cal *ical.Calendar, start, end time.Time) bool {
	if start.IsZero() && end.IsZero() {
		return true
	}
	tr := &TimeRange{}
	if !start.IsZero() {
		tr.Start = &start
	}
	if !end.IsZero() {
		tr.End = &end
	}
	for _, child := range cal.Children {
		if icalutil.IsSchedulable(child.Name) && matchTimeRange(cal, child, tr, s.recurrenceOptions()) {
			return true
		}
	}
	return false
}

// containsTerm looks for needle in the named properties of every event,
// to-do and journal. The CN parameter of attendees and organizers counts
// as part of the property.
func containsTerm(cal *ical.Calendar, props []string, needle string) bool {
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		for _, name := range props {
			name = strings.ToUpper(name)
			for i := range child.Props[name] {
				prop := &child.Props[name][i]
				if strings.Contains(strings.ToLower(propText(prop)), needle) {
					return true
				}
				if name == ical.PropAttendee || name == ical.PropOrganizer {
					if strings.Contains(strings.ToLower(prop.Params.Get(ical.ParamCommonName)), needle) {
						return true
					}
				}
			}
		}
	}
	return false
}
