package recurrence

import "time"

// Recurrence expands a calendar event's anchor occurrence into every
// instance that falls inside a window. eventsource only ever asks "which
// occurrences land between fromUtc and toUtc" when building the refresh
// window (spec §4.2), so that's the entire contract: no per-date lookup,
// no occurrence-by-occurrence walk, no textual rendering.
type Recurrence interface {
	// OccurredWithin returns every occurrence between start and end
	// (inclusive), anchored on baseTime (the series' first occurrence),
	// skipping any instant listed in exDates.
	OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time
}

// NoRecurrence is a single, non-repeating calendar event: its only
// occurrence is baseTime itself.
type NoRecurrence struct{}

func (nr *NoRecurrence) OccurredWithin(start, end time.Time, baseTime time.Time, exDates []time.Time) []time.Time {
	if withinRange(baseTime, start, end) && !isExceptionDate(baseTime, exDates) {
		return []time.Time{baseTime}
	}
	return []time.Time{}
}

func withinRange(t, start, end time.Time) bool {
	return (t.After(start) || t.Equal(start)) && (t.Before(end) || t.Equal(end))
}

// isExceptionDate reports whether checkTime matches one of the series'
// EXDATE instants.
func isExceptionDate(checkTime time.Time, exDates []time.Time) bool {
	for _, exDate := range exDates {
		if checkTime.Equal(exDate) {
			return true
		}
	}
	return false
}
