package recurrence

import (
	"strings"
	"time"
)

// windowsZones maps legacy Windows zone names, as emitted by Outlook and
// Exchange, to their IANA equivalents.
var windowsZones = map[string]string{
	"AUS Central Standard Time":       "Australia/Darwin",
	"AUS Eastern Standard Time":       "Australia/Sydney",
	"Afghanistan Standard Time":       "Asia/Kabul",
	"Alaskan Standard Time":           "America/Anchorage",
	"Arab Standard Time":              "Asia/Riyadh",
	"Arabian Standard Time":           "Asia/Dubai",
	"Arabic Standard Time":            "Asia/Baghdad",
	"Argentina Standard Time":         "America/Buenos_Aires",
	"Atlantic Standard Time":          "America/Halifax",
	"Azores Standard Time":            "Atlantic/Azores",
	"Canada Central Standard Time":    "America/Regina",
	"Cape Verde Standard Time":        "Atlantic/Cape_Verde",
	"Cen. Australia Standard Time":    "Australia/Adelaide",
	"Central America Standard Time":   "America/Guatemala",
	"Central Asia Standard Time":      "Asia/Almaty",
	"Central Brazilian Standard Time": "America/Cuiaba",
	"Central Europe Standard Time":    "Europe/Budapest",
	"Central European Standard Time":  "Europe/Warsaw",
	"Central Pacific Standard Time":   "Pacific/Guadalcanal",
	"Central Standard Time":           "America/Chicago",
	"Central Standard Time (Mexico)":  "America/Mexico_City",
	"China Standard Time":             "Asia/Shanghai",
	"E. Africa Standard Time":         "Africa/Nairobi",
	"E. Australia Standard Time":      "Australia/Brisbane",
	"E. Europe Standard Time":         "Europe/Chisinau",
	"E. South America Standard Time":  "America/Sao_Paulo",
	"Eastern Standard Time":           "America/New_York",
	"Egypt Standard Time":             "Africa/Cairo",
	"FLE Standard Time":               "Europe/Kiev",
	"GMT Standard Time":               "Europe/London",
	"GTB Standard Time":               "Europe/Bucharest",
	"Greenwich Standard Time":         "Atlantic/Reykjavik",
	"Hawaiian Standard Time":          "Pacific/Honolulu",
	"India Standard Time":             "Asia/Calcutta",
	"Iran Standard Time":              "Asia/Tehran",
	"Israel Standard Time":            "Asia/Jerusalem",
	"Korea Standard Time":             "Asia/Seoul",
	"Mountain Standard Time":          "America/Denver",
	"Mountain Standard Time (Mexico)": "America/Chihuahua",
	"New Zealand Standard Time":       "Pacific/Auckland",
	"Newfoundland Standard Time":      "America/St_Johns",
	"Pacific SA Standard Time":        "America/Santiago",
	"Pacific Standard Time":           "America/Los_Angeles",
	"Pacific Standard Time (Mexico)":  "America/Tijuana",
	"Romance Standard Time":           "Europe/Paris",
	"Russian Standard Time":           "Europe/Moscow",
	"SA Eastern Standard Time":        "America/Cayenne",
	"SA Pacific Standard Time":        "America/Bogota",
	"SE Asia Standard Time":           "Asia/Bangkok",
	"Singapore Standard Time":         "Asia/Singapore",
	"South Africa Standard Time":      "Africa/Johannesburg",
	"Taipei Standard Time":            "Asia/Taipei",
	"Tasmania Standard Time":          "Australia/Hobart",
	"Tokyo Standard Time":             "Asia/Tokyo",
	"Turkey Standard Time":            "Europe/Istanbul",
	"US Eastern Standard Time":        "America/Indianapolis",
	"US Mountain Standard Time":       "America/Phoenix",
	"UTC":                             "UTC",
	"W. Australia Standard Time":      "Australia/Perth",
	"W. Central Africa Standard Time": "Africa/Lagos",
	"W. Europe Standard Time":         "Europe/Berlin",
	"West Asia Standard Time":         "Asia/Tashkent",
	"West Pacific Standard Time":      "Pacific/Port_Moresby",
}

// ZoneTable resolves zone identifiers found in calendar payloads to
// locations. A table is immutable once built and safe for concurrent use.
type ZoneTable struct {
	aliases map[string]string
}

// DefaultZones returns a table that knows the Windows zone names.
func DefaultZones() *ZoneTable {
	return NewZoneTable(windowsZones)
}

// NewZoneTable builds a table from alias → IANA name pairs. Alias lookups
// are case-insensitive.
func NewZoneTable(aliases map[string]string) *ZoneTable {
	t := &ZoneTable{aliases: make(map[string]string, len(aliases))}
	for k, v := range aliases {
		t.aliases[strings.ToLower(k)] = v
	}
	return t
}

// With returns a copy of t extended by aliases. Entries in aliases win.
func (t *ZoneTable) With(aliases map[string]string) *ZoneTable {
	out := &ZoneTable{aliases: make(map[string]string, len(aliases))}
	if t != nil {
		for k, v := range t.aliases {
			out.aliases[k] = v
		}
	}
	for k, v := range aliases {
		out.aliases[strings.ToLower(k)] = v
	}
	return out
}

// Normalize returns the IANA spelling of name, or name unchanged when it is
// not a known alias.
func (t *ZoneTable) Normalize(name string) string {
	name = strings.TrimSpace(name)
	if t == nil {
		return name
	}
	if iana, ok := t.aliases[strings.ToLower(name)]; ok {
		return iana
	}
	return name
}

// Resolve loads the location for name. The boolean is false when the name
// could not be resolved, in which case UTC is returned.
func (t *ZoneTable) Resolve(name string) (*time.Location, bool) {
	name = t.Normalize(name)
	if name == "" {
		return time.UTC, false
	}
	// Some producers quote TZIDs or prefix them with a slash (globally unique ids).
	name = strings.TrimPrefix(strings.Trim(name, `"`), "/")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}
