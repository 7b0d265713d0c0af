// Package filterxml reads the <filter> element of a calendar-query body
// into a storage.Filter.
package filterxml

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/cyp0633/calstore/server/storage"
)

const timeRangeLayout = "20060102T150405Z"

// ErrNoFilter is returned when the document carries no comp-filter.
var ErrNoFilter = errors.New("calendar query has no comp-filter")

// Parse reads a calendar-query document, or a bare <filter> element, and
// returns its validated filter. Failures wrap storage.ErrValidation.
func Parse(data []byte) (*storage.Filter, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, invalid("malformed XML: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, invalid("empty document")
	}
	if !strings.EqualFold(root.Tag, "filter") {
		root = child(root, "filter")
		if root == nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrValidation, ErrNoFilter)
		}
	}
	return ParseElement(root)
}

// ParseElement converts a <filter> element.
func ParseElement(elem *etree.Element) (*storage.Filter, error) {
	comp := child(elem, "comp-filter")
	if comp == nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrValidation, ErrNoFilter)
	}
	filter, err := compFilter(comp)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	return filter, nil
}

func compFilter(elem *etree.Element) (*storage.Filter, error) {
	f := &storage.Filter{
		Component: strings.ToUpper(elem.SelectAttrValue("name", "")),
		Test:      elem.SelectAttrValue("test", "anyof"),
	}
	if child(elem, "is-not-defined") != nil {
		f.IsNotDefined = true
		return f, nil
	}
	if tr := child(elem, "time-range"); tr != nil {
		r, err := timeRange(tr)
		if err != nil {
			return nil, err
		}
		f.TimeRange = r
	}
	for _, pe := range children(elem, "prop-filter") {
		pf, err := propFilter(pe)
		if err != nil {
			return nil, err
		}
		f.PropFilters = append(f.PropFilters, pf)
	}
	for _, ce := range children(elem, "comp-filter") {
		nested, err := compFilter(ce)
		if err != nil {
			return nil, err
		}
		f.Children = append(f.Children, *nested)
	}
	return f, nil
}

func propFilter(elem *etree.Element) (storage.PropFilter, error) {
	pf := storage.PropFilter{
		Name: strings.ToUpper(elem.SelectAttrValue("name", "")),
		Test: elem.SelectAttrValue("test", "anyof"),
	}
	if pf.Name == "" {
		return pf, invalid("prop-filter without name")
	}
	if child(elem, "is-not-defined") != nil {
		pf.IsNotDefined = true
		return pf, nil
	}
	if tm := child(elem, "text-match"); tm != nil {
		pf.TextMatch = textMatch(tm)
	}
	for _, pe := range children(elem, "param-filter") {
		param := storage.ParamFilter{Name: strings.ToUpper(pe.SelectAttrValue("name", ""))}
		if param.Name == "" {
			return pf, invalid("param-filter of %s without name", pf.Name)
		}
		if child(pe, "is-not-defined") != nil {
			param.IsNotDefined = true
		} else if tm := child(pe, "text-match"); tm != nil {
			param.TextMatch = textMatch(tm)
		}
		pf.ParamFilters = append(pf.ParamFilters, param)
	}
	return pf, nil
}

func textMatch(elem *etree.Element) *storage.TextMatch {
	return &storage.TextMatch{
		Collation: elem.SelectAttrValue("collation", "i;ascii-casemap"),
		MatchType: elem.SelectAttrValue("match-type", "contains"),
		Negate:    elem.SelectAttrValue("negate-condition", "no") == "yes",
		Value:     elem.Text(),
	}
}

// timeRange parses the UTC bounds; a missing attribute leaves the side open.
func timeRange(elem *etree.Element) (*storage.TimeRange, error) {
	tr := &storage.TimeRange{}
	for _, side := range []struct {
		attr string
		dst  **time.Time
	}{{"start", &tr.Start}, {"end", &tr.End}} {
		v := elem.SelectAttrValue(side.attr, "")
		if v == "" {
			continue
		}
		t, err := time.Parse(timeRangeLayout, v)
		if err != nil {
			return nil, invalid("time-range %s %q is not a UTC date-time", side.attr, v)
		}
		*side.dst = &t
	}
	if tr.Start == nil && tr.End == nil {
		return nil, invalid("time-range without start or end")
	}
	return tr, nil
}

// children returns the child elements with the given local name in any
// namespace.
func children(parent *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range parent.ChildElements() {
		if strings.EqualFold(c.Tag, local) {
			out = append(out, c)
		}
	}
	return out
}

func child(parent *etree.Element, local string) *etree.Element {
	if c := children(parent, local); len(c) > 0 {
		return c[0]
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", storage.ErrValidation, fmt.Sprintf(format, args...))
}
