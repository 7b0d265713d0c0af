package recurrence

import "log/slog"

// config holds the construction options of an Event.
type config struct {
	zones  *ZoneTable
	logger *slog.Logger
}

// Option customizes how an Event is built.
type Option func(*config)

// WithZones sets the zone table used to resolve TZID values. Without it a
// fresh DefaultZones table is built per event.
func WithZones(t *ZoneTable) Option {
	return func(c *config) {
		c.zones = t
	}
}

// WithLogger sets the logger used to report malformed recurrence data.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func newConfig(opts []Option) config {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.zones == nil {
		c.zones = DefaultZones()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}
