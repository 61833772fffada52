package appointments

import (
	"strings"
	"time"
)

// DefaultSearchWindow is how far ahead "earliest available" looks.
const DefaultSearchWindow = 7 * 24 * time.Hour

var earliestWords = map[string]bool{
	"":                   true,
	"next available":     true,
	"earliest":           true,
	"earliest available": true,
	"first available":    true,
	"asap":               true,
	"soonest":            true,
}

// part-of-day windows as [from, to) hours
var dayParts = map[string][2]int{
	"morning":   {9, 12},
	"afternoon": {12, 17},
	"evening":   {17, 20},
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDateRange turns a caller's date preference into a search window in
// loc. Unknown phrases fall back to [now, now+window). The start is never
// before now and the end is always after the start.
func ParseDateRange(text string, now time.Time, loc *time.Location, window time.Duration) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	if window <= 0 {
		window = DefaultSearchWindow
	}
	now = now.In(loc)

	start, end, ok := parseRange(strings.ToLower(strings.TrimSpace(text)), now, loc)
	if !ok {
		return now, now.Add(window)
	}
	if start.Before(now) {
		start = now
	}
	if !end.After(start) {
		end = start.Add(window)
	}
	return start, end
}

func parseRange(text string, now time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	if earliestWords[text] {
		return time.Time{}, time.Time{}, false
	}

	for _, sep := range []string{" to ", " until ", "/"} {
		if a, b, found := strings.Cut(text, sep); found {
			aStart, _, okA := parseExpr(strings.TrimSpace(a), now, loc)
			bStart, bEnd, okB := parseExpr(strings.TrimSpace(b), now, loc)
			if !okA || !okB {
				return time.Time{}, time.Time{}, false
			}
			// An instant on the right ends the range exactly there.
			if bEnd.IsZero() {
				bEnd = bStart
			}
			return aStart, bEnd, true
		}
	}
	return parseExpr(text, now, loc)
}

// parseExpr parses one day expression, optionally followed by a part of the day.
func parseExpr(text string, now time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	var part string
	for name := range dayParts {
		if rest, found := strings.CutSuffix(text, name); found {
			part = name
			text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "in the"))
			break
		}
	}

	if text == "" && part != "" {
		text = "today"
	}

	if t, err := time.Parse(time.RFC3339, strings.ToUpper(text)); err == nil && part == "" {
		t = t.In(loc)
		return t, time.Time{}, true
	}

	if part == "" {
		if start, end, ok := parseWeek(text, now, loc); ok {
			return start, end, true
		}
	}

	day, ok := parseDay(text, now, loc)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if part == "" {
		return day, day.AddDate(0, 0, 1), true
	}
	hours := dayParts[part]
	return atHour(day, hours[0]), atHour(day, hours[1]), true
}

func parseDay(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch text {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	}

	if d, err := time.ParseInLocation("2006-01-02", text, loc); err == nil {
		return d, true
	}

	next := false
	if rest, found := strings.CutPrefix(text, "next "); found {
		next = true
		text = rest
	} else if rest, found := strings.CutPrefix(text, "this "); found {
		text = rest
	}
	if wd, ok := weekdays[text]; ok {
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if next && ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true
	}
	return time.Time{}, false
}

// parseWeek handles "this week" and "next week". Weeks start on Monday.
func parseWeek(text string, now time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	monday := today.AddDate(0, 0, (int(time.Monday)-int(today.Weekday())+7)%7)
	if !monday.After(today) {
		monday = monday.AddDate(0, 0, 7)
	}

	switch text {
	case "this week":
		return today, monday, true
	case "next week":
		return monday, monday.AddDate(0, 0, 7), true
	}
	return time.Time{}, time.Time{}, false
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
