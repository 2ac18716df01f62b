package recurrence

import "time"

// MonthlyRecurrence fires on one or more days of the month every Interval
// months. A negative ByMonthDay counts back from the end of the month
// (-1 is the last day).
type MonthlyRecurrence struct {
	Interval   int        // every N months (default 1)
	ByMonthDay []int      // target month days (empty means the anchor's own day)
	Until      *time.Time // end date, inclusive (optional)
	Count      *int       // total occurrences (optional)
}

func NewMonthlyRecurrence(interval int, byMonthDay []int, until *time.Time, count *int) *MonthlyRecurrence {
	if interval <= 0 {
		interval = 1
	}
	return &MonthlyRecurrence{Interval: interval, ByMonthDay: byMonthDay, Until: until, Count: count}
}

func (mr *MonthlyRecurrence) targetMonthDays(baseTime time.Time) []int {
	if len(mr.ByMonthDay) > 0 {
		return mr.ByMonthDay
	}
	return []int{baseTime.Day()}
}

// resolveMonthDay clamps a (possibly negative) BYMONTHDAY value onto a
// concrete day number for the given year/month, per RFC 5545's "clamp to
// the last day if the month is too short" convention.
func resolveMonthDay(year int, month time.Month, day int) int {
	daysInMonth := getDaysInMonth(year, month)
	actual := day
	if day < 0 {
		actual = daysInMonth + day + 1
	}
	if actual > daysInMonth {
		actual = daysInMonth
	}
	return actual
}

func (mr *MonthlyRecurrence) OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time {
	var occurrences []time.Time
	monthDays := mr.targetMonthDays(baseTime)

	baseDate := baseTime.Truncate(24 * time.Hour)
	startDate := start.Truncate(24 * time.Hour)
	endDate := end.Truncate(24 * time.Hour)

	current := time.Date(baseDate.Year(), baseDate.Month(), 1, 0, 0, 0, 0, baseDate.Location())
	if startDate.After(baseDate) {
		monthsDiff := getMonthsDiff(baseDate, startDate)
		stepped := baseDate.AddDate(0, (monthsDiff/mr.Interval)*mr.Interval, 0)
		current = time.Date(stepped.Year(), stepped.Month(), 1, 0, 0, 0, 0, stepped.Location())
	}

	guard := 0
	for {
		for _, day := range monthDays {
			actualDay := resolveMonthDay(current.Year(), current.Month(), day)
			if actualDay < 1 {
				continue
			}
			candidate := time.Date(current.Year(), current.Month(), actualDay,
				baseTime.Hour(), baseTime.Minute(), baseTime.Second(), 0, baseTime.Location())

			if candidate.Before(start) || candidate.After(end) || candidate.Before(baseDate) {
				continue
			}
			if mr.Until != nil && candidate.After(*mr.Until) {
				continue
			}
			if mr.Count != nil && mr.countOccurrencesUntil(candidate, baseTime) > *mr.Count {
				continue
			}
			if !isExceptionDate(candidate, exDates) {
				occurrences = append(occurrences, candidate)
			}
		}

		current = current.AddDate(0, mr.Interval, 0)
		guard++
		if current.After(endDate.AddDate(0, 1, 0)) || guard > 1000 {
			break
		}
	}

	return occurrences
}

func getDaysInMonth(year int, month time.Month) int {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

func getMonthsDiff(start, end time.Time) int {
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
}

// countOccurrencesUntil counts matching month days from baseTime through
// untilDate, used to test a candidate occurrence against a COUNT bound.
func (mr *MonthlyRecurrence) countOccurrencesUntil(untilDate time.Time, baseTime time.Time) int {
	monthDays := mr.targetMonthDays(baseTime)
	baseDate := baseTime.Truncate(24 * time.Hour)
	current := time.Date(baseDate.Year(), baseDate.Month(), 1, 0, 0, 0, 0, baseDate.Location())

	count := 0
	for {
		for _, day := range monthDays {
			actualDay := resolveMonthDay(current.Year(), current.Month(), day)
			if actualDay < 1 {
				continue
			}
			candidate := time.Date(current.Year(), current.Month(), actualDay,
				baseTime.Hour(), baseTime.Minute(), baseTime.Second(), 0, baseTime.Location())
			if candidate.After(untilDate) {
				return count
			}
			if !candidate.Before(baseDate) {
				count++
			}
		}
		current = current.AddDate(0, mr.Interval, 0)
		if current.After(untilDate.AddDate(1, 0, 0)) {
			break
		}
	}
	return count
}
