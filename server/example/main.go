// Command example runs the calendar store against the configured backend,
// seeds sample calendars and prints what sync, search and scheduling see.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/config"
	"github.com/cyp0633/calstore/server/notify"
	"github.com/cyp0633/calstore/server/notify/rabbit"
	"github.com/cyp0633/calstore/server/scheduling"
	"github.com/cyp0633/calstore/server/storage"
	"github.com/cyp0633/calstore/server/storage/filterxml"
	"github.com/cyp0633/calstore/server/storage/memory"
	"github.com/cyp0633/calstore/server/storage/postgres"
)

const utcLayout = "20060102T150405Z"

const calendarQuery = `<C:calendar-query xmlns:C="urn:ietf:params:xml:ns:caldav">
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("example failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	engine, closeEngine, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	// Scheduling messages are only logged here; a real deployment hands
	// them to its mail or iMIP transport.
	outbox := scheduling.OutboxFunc(func(_ context.Context, msgs []scheduling.Message) error {
		for _, m := range msgs {
			logger.Info("scheduling message", "method", m.Method, "recipient", m.Recipient, "uid", m.UID)
		}
		return nil
	})
	listeners := notify.Multi{scheduling.NewPlugin(nil, outbox, logger)}

	if cfg.Notifications.Enabled {
		pub, err := rabbit.Dial(cfg.Notifications.Config, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		listeners = append(listeners, pub)
	}

	opts := append(cfg.StoreOptions(logger), storage.WithNotifier(listeners))
	store := storage.New(engine, opts...)

	alice, err := createCalendarForUser(ctx, store, "alice", "work-"+uuid.NewString()[:8], "Work", "#FF0000")
	if err != nil {
		return err
	}
	bob, err := createCalendarForUser(ctx, store, "bob", "family-"+uuid.NewString()[:8], "Family", "#800080")
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Hour)
	review := createEvent("Project Review", "Office", now.Add(72*time.Hour), now.Add(74*time.Hour), "")
	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = "FREQ=WEEKLY;COUNT=4"
	review.Props.Set(rrule)
	addAttendees(review, "mailto:alice@example.com", "mailto:bob@example.com")

	events := []*ical.Component{
		review,
		createEvent("Doctor Appointment", "Medical Center", now.Add(48*time.Hour), now.Add(49*time.Hour), "PRIVATE"),
	}
	for _, ev := range events {
		if err := putEvent(ctx, store, alice.Ref(), ev); err != nil {
			return err
		}
	}
	if err := putEvent(ctx, store, bob.Ref(),
		createEvent("Family Dinner", "Home", now.Add(96*time.Hour), now.Add(99*time.Hour), "")); err != nil {
		return err
	}

	report, err := store.Sync(ctx, alice.Ref(), 0, 0)
	if err != nil {
		return err
	}
	logger.Info("initial sync", "calendar", alice.URI, "token", report.Token, "objects", report.Added)

	// bob sees alice's private appointment neither listed nor in search
	visible, err := store.GetObjectsForCalendar(ctx, alice.Ref(), "bob")
	if err != nil {
		return err
	}
	logger.Info("listing for bob", "calendar", alice.URI, "objects", len(visible))

	results, err := store.Search(ctx, "alice", "review", storage.SearchOptions{Start: now, End: now.AddDate(0, 1, 0)})
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Info("search hit", "calendar", r.CalendarURI, "uri", r.URI, "uid", r.UID)
	}

	filter, err := filterxml.Parse([]byte(fmt.Sprintf(calendarQuery,
		now.AddDate(0, 0, 9).Format(utcLayout), now.AddDate(0, 0, 11).Format(utcLayout))))
	if err != nil {
		return err
	}
	uris, err := store.Query(ctx, alice.Ref(), "alice", filter)
	if err != nil {
		return err
	}
	logger.Info("occurrences next week", "uris", uris)

	// cancelling the review sends CANCEL to its attendees
	reviewURI := review.Props.Get(ical.PropUID).Value + ".ics"
	if err := store.DeleteObject(ctx, alice.Ref(), reviewURI); err != nil {
		return err
	}
	report, err = store.Sync(ctx, alice.Ref(), report.Token, 0)
	if err != nil {
		return err
	}
	logger.Info("incremental sync", "token", report.Token, "deleted", report.Deleted)
	return nil
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Engine, func(), error) {
	if cfg.Storage.Backend != config.BackendPostgres {
		return memory.New(), func() {}, nil
	}
	pool, err := postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(pool, logger); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.New(pool, logger), pool.Close, nil
}

// createCalendarForUser creates a VEVENT calendar owned by principal.
func createCalendarForUser(ctx context.Context, store *storage.Store, principal, uri, name, color string) (*storage.Calendar, error) {
	cal := &storage.Calendar{
		Principal:   principal,
		URI:         uri,
		DisplayName: name,
		Color:       color,
		Timezone:    "UTC",
		Components:  []string{ical.CompEvent},
	}
	if err := store.CreateCalendar(ctx, cal); err != nil {
		return nil, fmt.Errorf("creating calendar %s for %s: %w", uri, principal, err)
	}
	return cal, nil
}

// createEvent builds a VEVENT with a fresh UID.
func createEvent(summary, location string, start, end time.Time, class string) *ical.Component {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uuid.NewString())
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetText(ical.PropLocation, location)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, end)
	if class != "" {
		event.Props.SetText(ical.PropClass, class)
	}
	return event.Component
}

func addAttendees(event *ical.Component, organizer string, attendees ...string) {
	org := ical.NewProp(ical.PropOrganizer)
	org.Value = organizer
	event.Props.Set(org)
	for _, a := range attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Value = a
		prop.Params.Set(ical.ParamParticipationStatus, "NEEDS-ACTION")
		event.Props.Add(prop)
	}
}

func putEvent(ctx context.Context, store *storage.Store, ref storage.ContainerRef, event *ical.Component) error {
	cal := icalutil.NewCalendar()
	cal.Children = append(cal.Children, event)

	data, err := icalutil.Encode(cal)
	if err != nil {
		return err
	}
	uri := event.Props.Get(ical.PropUID).Value + ".ics"
	_, err = store.CreateObject(ctx, ref, uri, data)
	return err
}
