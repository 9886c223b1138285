package table

import (
	"strings"
	"time"
)

// Day-first layouts tried in order when no explicit layout is configured.
// Sensor exports in this project are dd/mm or dd-mm locale formatted.
var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
}

// ParseTimestamp parses a cell as a day-first timestamp. When layout is
// non-empty it is tried first; the day-first fallbacks run either way, so a
// stray ISO value in a dd/mm file still parses.
func ParseTimestamp(value, layout string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	if layout != "" {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	for _, l := range dayFirstLayouts {
		if ts, err := time.Parse(l, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a time the way the combined outputs expect.
func FormatTimestamp(ts time.Time) string {
	return ts.Format("02-01-2006 15:04:05")
}
