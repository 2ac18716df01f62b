// Package clock provides the monotonic/wall-clock time source and the
// UTC<->zone conversion layer described in spec §4.1. DST transitions are
// resolved by the zone's rules at conversion time, never by a cached offset.
package clock

import "time"

// Clock is injected into every component that needs "now" so tests can
// supply a fixed instant instead of calling time.Now directly.
type Clock interface {
	NowUTC() time.Time
}

// SystemClock is the real wall-clock implementation.
type SystemClock struct{}

func (SystemClock) NowUTC() time.Time { return time.Now().UTC() }

// FixedClock returns a constant instant, used by tests that need the
// deterministic scenarios from spec §8.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) NowUTC() time.Time { return f.At.UTC() }

// ToZone converts a UTC instant into the local wall-clock time in the given
// zone. It is a thin wrapper so call sites document intent instead of
// sprinkling .In(loc) everywhere.
func ToZone(instant time.Time, zone *time.Location) time.Time {
	if zone == nil {
		zone = time.UTC
	}
	return instant.In(zone)
}

// StartOfLocalDay truncates instant to midnight in zone, following DST
// rules rather than a fixed 24h truncation (time.Truncate ignores zone
// offsets, which breaks across DST boundaries).
func StartOfLocalDay(instant time.Time, zone *time.Location) time.Time {
	local := ToZone(instant, zone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
}

// SameLocalDay reports whether a and b fall on the same calendar date in zone.
func SameLocalDay(a, b time.Time, zone *time.Location) bool {
	return StartOfLocalDay(a, zone).Equal(StartOfLocalDay(b, zone))
}

// ComputeAlarmTime implements spec §4.1's computeAlarmTime routine.
//
// Non-all-day events fire leadTimeMinutes before the event start, computed
// purely in UTC so a DST gap in between never perturbs the offset. All-day
// events ignore lead time entirely and fire at the configured default local
// time on the event's first day (multi-day all-day events anchor to the
// first day, never the last).
func ComputeAlarmTime(eventStart time.Time, allDay bool, leadTimeMinutes int, defaultHour, defaultMinute int, zone *time.Location) time.Time {
	if !allDay {
		return eventStart.Add(-time.Duration(leadTimeMinutes) * time.Minute)
	}

	local := ToZone(eventStart, zone)
	fireLocal := time.Date(local.Year(), local.Month(), local.Day(), defaultHour, defaultMinute, 0, 0, zone)
	return fireLocal.UTC()
}
