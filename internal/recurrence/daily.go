package recurrence

import "time"

// DailyRecurrence fires every Interval days starting at the anchor
// occurrence, optionally bounded by Until or Count.
type DailyRecurrence struct {
	Interval int        // every N days (default 1)
	Until    *time.Time // end date, inclusive (optional)
	Count    *int       // total occurrences (optional)
}

func NewDailyRecurrence(interval int, until *time.Time, count *int) *DailyRecurrence {
	if interval <= 0 {
		interval = 1
	}
	return &DailyRecurrence{Interval: interval, Until: until, Count: count}
}

func (dr *DailyRecurrence) OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time {
	var occurrences []time.Time

	// Fast-forward to the first candidate at or after start, landing on
	// the interval grid anchored at baseTime.
	current := baseTime
	if start.After(baseTime) {
		daysDiff := int(start.Sub(baseTime).Hours() / 24)
		current = baseTime.AddDate(0, 0, (daysDiff/dr.Interval)*dr.Interval)
		for current.Before(start) {
			current = current.AddDate(0, 0, dr.Interval)
		}
	}

	guard := 0
	for {
		if current.After(end) {
			break
		}
		if dr.Until != nil && current.After(*dr.Until) {
			break
		}
		if dr.Count != nil {
			daysDiff := int(current.Sub(baseTime).Hours() / 24)
			if (daysDiff/dr.Interval)+1 > *dr.Count {
				break
			}
		}
		if !isExceptionDate(current, exDates) {
			occurrences = append(occurrences, current)
		}
		current = current.AddDate(0, 0, dr.Interval)

		guard++
		if guard > 10000 {
			break
		}
	}

	return occurrences
}
