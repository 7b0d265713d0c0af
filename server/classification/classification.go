// Package classification decides what a non-owner may see of an event,
// based on its CLASS property.
package classification

import (
	"fmt"
	"strings"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/emersion/go-ical"
)

// Classification is the confidentiality level of a calendar object.
type Classification int

const (
	Public Classification = iota
	Private
	Confidential
)

func (c Classification) String() string {
	switch c {
	case Public:
		return "PUBLIC"
	case Confidential:
		return "CONFIDENTIAL"
	default:
		return "PRIVATE"
	}
}

// Parse maps a CLASS value to a Classification. Missing and unknown values
// are treated as Private.
func Parse(value string) Classification {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PUBLIC":
		return Public
	case "CONFIDENTIAL":
		return Confidential
	default:
		return Private
	}
}

// Of returns the classification of the first event, to-do or journal in
// cal. A missing or unrecognized CLASS is private.
func Of(cal *ical.Calendar) Classification {
	for _, child := range cal.Children {
		if !icalutil.IsSchedulable(child.Name) {
			continue
		}
		if prop := child.Props.Get(ical.PropClass); prop != nil {
			return Parse(prop.Value)
		}
		return Private
	}
	return Private
}

// Path names the read path an object is being returned on.
type Path int

const (
	// PathListing covers collection listings, gets and calendar queries.
	PathListing Path = iota
	// PathSearch covers full-text search.
	PathSearch
)

// Policy selects which classifications are hidden from non-owners on each
// read path. Classifications that are not hidden are returned redacted.
type Policy struct {
	SuppressPrivateInListing      bool `yaml:"suppress_private_in_listing"`
	SuppressPrivateInSearch       bool `yaml:"suppress_private_in_search"`
	SuppressConfidentialInListing bool `yaml:"suppress_confidential_in_listing"`
	SuppressConfidentialInSearch  bool `yaml:"suppress_confidential_in_search"`
}

// DefaultPolicy hides private objects everywhere, lists confidential ones
// as busy placeholders and keeps them out of search results.
func DefaultPolicy() Policy {
	return Policy{
		SuppressPrivateInListing:     true,
		SuppressPrivateInSearch:      true,
		SuppressConfidentialInSearch: true,
	}
}

// DefaultPlaceholder replaces SUMMARY in redacted objects.
const DefaultPlaceholder = "Busy"

// redactedProps are removed from every component of a redacted object.
var redactedProps = []string{
	ical.PropLocation,
	ical.PropDescription,
	ical.PropAttendee,
	ical.PropOrganizer,
}

// Filter applies a Policy to stored payloads. It is safe for concurrent use.
type Filter struct {
	policy      Policy
	placeholder string
}

// Option configures a Filter.
type Option func(*Filter)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(f *Filter) {
		f.policy = p
	}
}

// WithPlaceholder overrides the SUMMARY text of redacted objects.
func WithPlaceholder(s string) Option {
	return func(f *Filter) {
		if s != "" {
			f.placeholder = s
		}
	}
}

// New creates a Filter.
func New(opts ...Option) *Filter {
	f := &Filter{policy: DefaultPolicy(), placeholder: DefaultPlaceholder}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the active policy.
func (f *Filter) Policy() Policy { return f.policy }

// Visible reports whether an object of class c exists for the accessor on
// the given path.
func (f *Filter) Visible(c Classification, isOwner bool, path Path) bool {
	if isOwner || c == Public {
		return true
	}
	switch {
	case c == Confidential && path == PathSearch:
		return !f.policy.SuppressConfidentialInSearch
	case c == Confidential:
		return !f.policy.SuppressConfidentialInListing
	case path == PathSearch:
		return !f.policy.SuppressPrivateInSearch
	default:
		return !f.policy.SuppressPrivateInListing
	}
}

// NeedsRedaction reports whether the accessor only gets the placeholder.
func (f *Filter) NeedsRedaction(c Classification, isOwner bool) bool {
	return !isOwner && c != Public
}

// Apply returns what the accessor may read of data. visible is false when
// the object must be treated as non-existent. The stored bytes are never
// modified; redaction works on a decoded copy.
func (f *Filter) Apply(data []byte, c Classification, isOwner bool, path Path) (out []byte, visible bool, err error) {
	if !f.Visible(c, isOwner, path) {
		return nil, false, nil
	}
	if !f.NeedsRedaction(c, isOwner) {
		return data, true, nil
	}
	cal, err := icalutil.Decode(data)
	if err != nil {
		return nil, false, err
	}
	out, err = icalutil.Encode(f.Redact(cal))
	if err != nil {
		return nil, false, fmt.Errorf("redacting: %w", err)
	}
	return out, true, nil
}

// Redact returns a copy of cal reduced to the busy placeholder. cal itself
// is left untouched.
func (f *Filter) Redact(cal *ical.Calendar) *ical.Calendar {
	out := icalutil.CloneCalendar(cal)
	for _, child := range out.Children {
		f.redactComponent(child)
	}
	return out
}

func (f *Filter) redactComponent(comp *ical.Component) {
	if comp.Name == ical.CompTimezone {
		return
	}
	for _, name := range redactedProps {
		comp.Props.Del(name)
	}
	if comp.Props.Get(ical.PropSummary) != nil || comp.Name == ical.CompEvent || comp.Name == ical.CompToDo {
		comp.Props.SetText(ical.PropSummary, f.placeholder)
	}
	for _, child := range comp.Children {
		f.redactComponent(child)
	}
}
