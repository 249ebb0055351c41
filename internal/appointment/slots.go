package appointment

import (
	"sort"
	"time"
)

// BuildAvailableSlots computes the ordered, deduplicated list of bookable
// windows for a date range. Rules are local time-of-day in loc; candidates
// are discarded when they fall outside the query range, overlap an active
// exception, or overlap a reserved (blocking-status) appointment.
//
// slotDurationOverride of 0 keeps each rule's own slot duration. The
// routine is pure and read-only; callers race against bookings by design
// and re-validate under lock at commit time.
func BuildAvailableSlots(
	rules []AvailabilityRule,
	exceptions []AvailabilityException,
	reserved []*Appointment,
	rangeStart, rangeEnd time.Time,
	slotDurationOverride int,
	loc *time.Location,
) []SlotWindow {
	rangeStart = rangeStart.UTC()
	rangeEnd = rangeEnd.UTC()

	seen := make(map[int64]struct{})
	var slots []SlotWindow

	localStart := rangeStart.In(loc)
	localEnd := rangeEnd.In(loc)
	year, month, day := localStart.Date()

	for offset := 0; ; offset++ {
		dayStart := time.Date(year, month, day+offset, 0, 0, 0, 0, loc)
		if dayStart.After(localEnd) {
			break
		}

		for _, rule := range rules {
			if !rule.Active || rule.Weekday != dayStart.Weekday() {
				continue
			}

			slotMinutes := rule.SlotDurationMinutes
			if slotDurationOverride > 0 {
				slotMinutes = slotDurationOverride
			}
			if slotMinutes < MinWindowMinutes || slotMinutes > MaxWindowMinutes {
				continue
			}

			y, m, d := dayStart.Date()
			ruleStart := time.Date(y, m, d, 0, rule.StartMinute, 0, 0, loc)
			ruleEnd := time.Date(y, m, d, 0, rule.EndMinute, 0, 0, loc)
			if !ruleEnd.After(rangeStart) || !ruleStart.Before(rangeEnd) {
				continue
			}

			step := time.Duration(slotMinutes) * time.Minute
			for cursor := ruleStart; !cursor.Add(step).After(ruleEnd); cursor = cursor.Add(step) {
				candidateStart := cursor.UTC()
				candidateEnd := cursor.Add(step).UTC()

				if candidateStart.Before(rangeStart) || candidateEnd.After(rangeEnd) {
					continue
				}
				if overlapsAnyException(exceptions, candidateStart, candidateEnd) {
					continue
				}
				if overlapsAnyReserved(reserved, candidateStart, candidateEnd) {
					continue
				}

				key := candidateStart.Unix()<<20 | int64(slotMinutes)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				slots = append(slots, SlotWindow{WindowStart: candidateStart, WindowEnd: candidateEnd})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].WindowStart.Equal(slots[j].WindowStart) {
			return slots[i].WindowEnd.Before(slots[j].WindowEnd)
		}
		return slots[i].WindowStart.Before(slots[j].WindowStart)
	})

	return slots
}

func overlapsAnyException(exceptions []AvailabilityException, start, end time.Time) bool {
	for _, e := range exceptions {
		if e.Active && e.overlapsWindow(start, end) {
			return true
		}
	}
	return false
}

func overlapsAnyReserved(reserved []*Appointment, start, end time.Time) bool {
	for _, a := range reserved {
		if a.Status.Blocking() && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// windowInsideAnyRule reports whether [start, end) in UTC fits entirely
// inside one active rule for its local weekday.
func windowInsideAnyRule(rules []AvailabilityRule, start, end time.Time, loc *time.Location) bool {
	localStart := start.In(loc)
	localEnd := end.In(loc)

	startMinute := localStart.Hour()*60 + localStart.Minute()
	endMinute := localEnd.Hour()*60 + localEnd.Minute()
	if endMinute == 0 && localEnd.After(localStart) {
		endMinute = 24 * 60
	}

	sameLocalDay := localStart.Year() == localEnd.Year() &&
		localStart.YearDay() == localEnd.YearDay()
	if !sameLocalDay && endMinute != 24*60 {
		return false
	}

	for _, rule := range rules {
		if !rule.Active || rule.Weekday != localStart.Weekday() {
			continue
		}
		if rule.StartMinute <= startMinute && endMinute <= rule.EndMinute {
			return true
		}
	}
	return false
}
