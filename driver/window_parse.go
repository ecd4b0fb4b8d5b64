package driver

import (
	"regexp"
	"time"

	"github.com/mailcycle/mailcycle/engine"
)

var clockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

// parseWindowText extracts a window from a portal range display such as
// "14:30 - 14:50". Two clock values become the range bounds; a single
// value is treated as the end of a span-length window. Dates come from
// now's day; a range that appears to cross midnight rolls the end
// forward a day.
func parseWindowText(text string, now time.Time, span time.Duration) (engine.Window, bool) {
	matches := clockPattern.FindAllStringSubmatch(text, 2)
	if len(matches) == 0 {
		return engine.Window{}, false
	}

	times := make([]time.Time, 0, len(matches))
	for _, m := range matches {
		clock, ok := clockAt(now, m[1], m[2])
		if !ok {
			return engine.Window{}, false
		}
		times = append(times, clock)
	}

	if len(times) == 1 {
		end := times[0]
		return engine.Window{Start: end.Add(-span), End: end}, true
	}

	start, end := times[0], times[1]
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	return engine.Window{Start: start, End: end}, true
}

func clockAt(now time.Time, hh, mm string) (time.Time, bool) {
	parsed, err := time.Parse("15:04", hh+":"+mm)
	if err != nil {
		return time.Time{}, false
	}
	year, month, day := now.Date()
	return time.Date(year, month, day, parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), true
}
