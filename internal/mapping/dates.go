package mapping

import "time"

// dateLayouts are tried in order when normalizing source timestamps. The
// source API is inconsistent about which one it emits.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/Jan/2006 15:04",
	"02/Jan/2006",
}

// parseDate normalizes a source date string to UTC. It reports false when
// no known layout matches; callers pass the raw text through unchanged.
func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
