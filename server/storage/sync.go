package storage

import (
	"context"
	"slices"

	"github.com/cyp0633/calstore/internal/metrics"
)

// Sync reports what changed in a collection after token since.
//
// A zero since asks for the initial listing: every current object is
// reported as added. A token the store cannot answer for, because it lies
// in the future or before the pruned horizon, yields FullResync. Otherwise
// the changes after since are collapsed per URI into disjoint sets. A
// positive limit caps the number of change rows read; the cut falls on a
// token boundary and the returned token is the last one included, so
// syncing again from it resumes where the report stopped. A zero limit
// means the store's default (see WithSyncLimit), a negative one no limit.
func (s *Store) Sync(ctx context.Context, ref ContainerRef, since int64, limit int) (report *SyncReport, err error) {
	defer s.observe("sync")(&err)
	if since < 0 {
		return nil, validation("negative sync token", nil)
	}

	var (
		cal     *Calendar
		objs    []*CalendarObject
		changes []Change
	)
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err = tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		switch {
		case since == 0:
			objs, err = tx.ListObjects(ctx, ref, ObjectQuery{})
		case since > cal.SyncToken || since < cal.SyncHorizon:
			return nil
		default:
			changes, err = tx.ListChanges(ctx, ref, since)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	report = &SyncReport{Token: cal.SyncToken}
	switch {
	case since == 0:
		report.Added = make([]string, 0, len(objs))
		for _, obj := range objs {
			report.Added = append(report.Added, obj.URI)
		}
		slices.Sort(report.Added)
		return report, nil
	case since > cal.SyncToken || since < cal.SyncHorizon:
		metrics.CountFullResync()
		s.logger.Info("sync token cannot be answered, full resync required",
			"container", ref, "since", since, "current", cal.SyncToken, "horizon", cal.SyncHorizon)
		report.FullResync = true
		return report, nil
	}

	if limit == 0 {
		limit = s.syncLimit
	}
	if limit > 0 {
		var truncated bool
		changes, truncated = cutAtToken(changes, limit)
		if truncated {
			report.Truncated = true
			report.Token = changes[len(changes)-1].Token
		}
	}
	report.Added, report.Modified, report.Deleted = collapse(changes)
	return report, nil
}

// cutAtToken keeps at most limit changes without splitting a token. The
// first token is always kept whole so a report can make progress.
func cutAtToken(changes []Change, limit int) ([]Change, bool) {
	if len(changes) <= limit {
		return changes, false
	}
	end := 0
	for end < len(changes) {
		next := end
		for next < len(changes) && changes[next].Token == changes[end].Token {
			next++
		}
		if end > 0 && next > limit {
			break
		}
		end = next
	}
	return changes[:end], end < len(changes)
}

// collapse folds ordered changes into one outcome per URI: deleted when the
// last operation deleted it, added when the first operation created it,
// modified otherwise.
func collapse(changes []Change) (added, modified, deleted []string) {
	type span struct{ first, last Operation }
	seen := make(map[string]*span)
	var order []string
	for _, ch := range changes {
		sp, ok := seen[ch.URI]
		if !ok {
			sp = &span{first: ch.Operation}
			seen[ch.URI] = sp
			order = append(order, ch.URI)
		}
		sp.last = ch.Operation
	}

	added, modified, deleted = []string{}, []string{}, []string{}
	for _, uri := range order {
		sp := seen[uri]
		switch {
		case sp.last == OpDeleted:
			deleted = append(deleted, uri)
		case sp.first == OpAdded:
			added = append(added, uri)
		default:
			modified = append(modified, uri)
		}
	}
	slices.Sort(added)
	slices.Sort(modified)
	slices.Sort(deleted)
	return added, modified, deleted
}

// PruneChanges drops change rows of ref with a token at or below before and
// raises the sync horizon accordingly. Clients holding an older token get a
// full-resync answer afterwards. It is meant for an external retention job.
func (s *Store) PruneChanges(ctx context.Context, ref ContainerRef, before int64) (removed int64, err error) {
	defer s.observe("prune_changes")(&err)
	if before <= 0 {
		return 0, nil
	}
	err = s.engine.WithTx(ctx, func(tx Tx) error {
		cal, err := tx.GetCalendar(ctx, ref)
		if err != nil {
			return err
		}
		if before > cal.SyncToken {
			before = cal.SyncToken
		}
		removed, err = tx.PruneChanges(ctx, ref, before)
		if err != nil {
			return err
		}
		if before > cal.SyncHorizon {
			return tx.SetSyncHorizon(ctx, ref, before)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("pruned change log", "container", ref, "before", before, "removed", removed)
	return removed, nil
}
