package calendar

import (
	"time"
)

// DisplayLayout is how slot start times are read back to callers.
const DisplayLayout = "Mon Jan 02, 03:04 PM"

// SlotRules describe the practice's bookable hours.
type SlotRules struct {
	Length time.Duration
	// DayStart and DayEnd are offsets from local midnight.
	DayStart time.Duration
	DayEnd   time.Duration
	Location *time.Location
}

// DefaultSlotRules are 30 minute slots between 09:00 and 17:00 in loc.
func DefaultSlotRules(loc *time.Location) SlotRules {
	if loc == nil {
		loc = time.UTC
	}
	return SlotRules{
		Length:   30 * time.Minute,
		DayStart: 9 * time.Hour,
		DayEnd:   17 * time.Hour,
		Location: loc,
	}
}

// SlotID derives the stable slot id from its start time in loc.
func SlotID(start time.Time, loc *time.Location) string {
	return "slot_" + start.In(loc).Format(time.RFC3339)
}

// GenerateSlots returns up to limit free slots within [start, end) during
// working hours. Slots start on multiples of the slot length counted from
// DayStart and must not overlap any busy range. A non-positive limit means
// no limit.
func GenerateSlots(start, end time.Time, busy []TimeRange, rules SlotRules, limit int) []Slot {
	if rules.Length <= 0 || !start.Before(end) {
		return nil
	}
	loc := rules.Location
	if loc == nil {
		loc = time.UTC
	}
	start = start.In(loc)
	end = end.In(loc)

	var out []Slot
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for day.Before(end) {
		open := atOffset(day, rules.DayStart)
		closing := atOffset(day, rules.DayEnd)

		for s := open; !s.Add(rules.Length).After(closing); s = s.Add(rules.Length) {
			e := s.Add(rules.Length)
			if s.Before(start) {
				continue
			}
			if e.After(end) {
				break
			}
			if overlapsAny(s, e, busy) {
				continue
			}
			out = append(out, Slot{
				ID:      SlotID(s, loc),
				Start:   s,
				End:     e,
				Display: s.Format(DisplayLayout),
			})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return out
}

// atOffset returns the wall clock time offset from midnight on day, so that
// 09:00 stays 09:00 across daylight saving changes.
func atOffset(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func overlapsAny(start, end time.Time, busy []TimeRange) bool {
	for _, b := range busy {
		latestStart := start
		if b.Start.After(latestStart) {
			latestStart = b.Start
		}
		earliestEnd := end
		if b.End.Before(earliestEnd) {
			earliestEnd = b.End
		}
		if latestStart.Before(earliestEnd) {
			return true
		}
	}
	return false
}
