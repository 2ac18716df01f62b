package recurrence

import "time"

// YearlyRecurrence fires on one or more month/day combinations every
// Interval years.
type YearlyRecurrence struct {
	Interval   int          // every N years (default 1)
	ByMonth    []time.Month // target months (empty means the anchor's own month)
	ByMonthDay []int        // target month days (empty means the anchor's own day)
	Until      *time.Time   // end date, inclusive (optional)
	Count      *int         // total occurrences (optional)
}

func NewYearlyRecurrence(interval int, byMonth []time.Month, byMonthDay []int, until *time.Time, count *int) *YearlyRecurrence {
	if interval <= 0 {
		interval = 1
	}
	return &YearlyRecurrence{Interval: interval, ByMonth: byMonth, ByMonthDay: byMonthDay, Until: until, Count: count}
}

func (yr *YearlyRecurrence) targetMonths(baseTime time.Time) []time.Month {
	if len(yr.ByMonth) > 0 {
		return yr.ByMonth
	}
	return []time.Month{baseTime.Month()}
}

func (yr *YearlyRecurrence) targetMonthDays(baseTime time.Time) []int {
	if len(yr.ByMonthDay) > 0 {
		return yr.ByMonthDay
	}
	return []int{baseTime.Day()}
}

func (yr *YearlyRecurrence) OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time {
	var occurrences []time.Time
	months := yr.targetMonths(baseTime)
	monthDays := yr.targetMonthDays(baseTime)

	baseDate := baseTime.Truncate(24 * time.Hour)
	startDate := start.Truncate(24 * time.Hour)
	endDate := end.Truncate(24 * time.Hour)

	year := baseDate.Year()
	if startDate.After(baseDate) {
		yearsDiff := startDate.Year() - baseDate.Year()
		year = baseDate.Year() + (yearsDiff/yr.Interval)*yr.Interval
	}

	guard := 0
	for {
		for _, month := range months {
			for _, day := range monthDays {
				actualDay := resolveMonthDay(year, month, day)
				if actualDay < 1 {
					continue
				}
				candidate := time.Date(year, month, actualDay,
					baseTime.Hour(), baseTime.Minute(), baseTime.Second(), 0, baseTime.Location())

				if candidate.Before(start) || candidate.After(end) || candidate.Before(baseDate) {
					continue
				}
				if yr.Until != nil && candidate.After(*yr.Until) {
					continue
				}
				if yr.Count != nil && yr.countOccurrencesUntil(candidate, baseTime) > *yr.Count {
					continue
				}
				if !isExceptionDate(candidate, exDates) {
					occurrences = append(occurrences, candidate)
				}
			}
		}

		year += yr.Interval
		guard++
		if year > endDate.Year()+1 || guard > 1000 {
			break
		}
	}

	return occurrences
}

// countOccurrencesUntil counts matching month/day combinations from
// baseTime through untilDate, used to test a candidate occurrence against
// a COUNT bound.
func (yr *YearlyRecurrence) countOccurrencesUntil(untilDate time.Time, baseTime time.Time) int {
	months := yr.targetMonths(baseTime)
	monthDays := yr.targetMonthDays(baseTime)
	baseDate := baseTime.Truncate(24 * time.Hour)
	year := baseDate.Year()

	count := 0
	for {
		for _, month := range months {
			for _, day := range monthDays {
				actualDay := resolveMonthDay(year, month, day)
				if actualDay < 1 {
					continue
				}
				candidate := time.Date(year, month, actualDay,
					baseTime.Hour(), baseTime.Minute(), baseTime.Second(), 0, baseTime.Location())
				if candidate.After(untilDate) {
					return count
				}
				if !candidate.Before(baseDate) {
					count++
				}
			}
		}
		year += yr.Interval
		if year > untilDate.Year()+1 {
			break
		}
	}
	return count
}
