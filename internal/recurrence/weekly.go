package recurrence

import "time"

// WeeklyRecurrence fires on one or more weekdays every Interval weeks.
type WeeklyRecurrence struct {
	Interval int            // every N weeks (default 1)
	ByDay    []time.Weekday // target weekdays (empty means the anchor's own weekday)
	Until    *time.Time     // end date, inclusive (optional)
	Count    *int           // total occurrences (optional)
}

func NewWeeklyRecurrence(interval int, byDay []time.Weekday, until *time.Time, count *int) *WeeklyRecurrence {
	if interval <= 0 {
		interval = 1
	}
	return &WeeklyRecurrence{Interval: interval, ByDay: byDay, Until: until, Count: count}
}

func (wr *WeeklyRecurrence) targetWeekdays(baseTime time.Time) []time.Weekday {
	if len(wr.ByDay) > 0 {
		return wr.ByDay
	}
	return []time.Weekday{baseTime.Weekday()}
}

func (wr *WeeklyRecurrence) OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time {
	var occurrences []time.Time
	weekdays := wr.targetWeekdays(baseTime)

	baseDate := baseTime.Truncate(24 * time.Hour)
	startDate := start.Truncate(24 * time.Hour)

	current := baseDate
	if startDate.After(baseDate) {
		weeksDiff := int(startDate.Sub(baseDate).Hours() / (24 * 7))
		current = baseDate.AddDate(0, 0, (weeksDiff/wr.Interval)*wr.Interval*7)
	}
	weekStart := getWeekStart(current)

	guard := 0
	for {
		for _, weekday := range weekdays {
			candidate := weekStart.AddDate(0, 0, mondayOffset(weekday))
			if candidate.Before(start) || candidate.After(end) || candidate.Before(baseDate) {
				continue
			}
			if wr.Until != nil && candidate.After(*wr.Until) {
				continue
			}
			if wr.Count != nil && wr.countOccurrencesUntil(candidate, baseTime) > *wr.Count {
				continue
			}
			if !isExceptionDate(candidate, exDates) {
				occurrences = append(occurrences, candidate)
			}
		}

		weekStart = weekStart.AddDate(0, 0, wr.Interval*7)
		guard++
		if weekStart.After(end.AddDate(0, 0, 7)) || guard > 1000 {
			break
		}
	}

	return occurrences
}

// mondayOffset maps a weekday to its day offset from the Monday that
// starts its week (RFC 5545 treats Monday as the first day of the week
// unless WKST says otherwise, which this package never parses).
func mondayOffset(weekday time.Weekday) int {
	offset := int(weekday - time.Monday)
	if offset < 0 {
		offset += 7
	}
	return offset
}

func getWeekStart(date time.Time) time.Time {
	return date.AddDate(0, 0, -mondayOffset(date.Weekday()))
}

// countOccurrencesUntil counts matching weekdays from baseTime through
// untilDate, used to test a candidate occurrence against a COUNT bound.
func (wr *WeeklyRecurrence) countOccurrencesUntil(untilDate time.Time, baseTime time.Time) int {
	weekdays := wr.targetWeekdays(baseTime)
	baseDate := baseTime.Truncate(24 * time.Hour)
	weekStart := getWeekStart(baseDate)

	count := 0
	for {
		for _, weekday := range weekdays {
			candidate := weekStart.AddDate(0, 0, mondayOffset(weekday))
			if candidate.After(untilDate) {
				return count
			}
			if !candidate.Before(baseDate) {
				count++
			}
		}
		weekStart = weekStart.AddDate(0, 0, wr.Interval*7)
		if weekStart.After(untilDate.AddDate(1, 0, 0)) {
			break
		}
	}
	return count
}
