// Package store implements the Store contract of spec §4.2: durable,
// single-writer persistence for rules, armed alarms, settings, and
// day-tracking state, adapted from the teacher's XDG-backed state manager
// and in-memory event storage.
package store

import "time"

// ScheduledAlarm is an armed (or recently armed) alarm instance, per spec §3.
type ScheduledAlarm struct {
	ID                string
	EventID           string
	RuleID            string
	EventTitle        string
	EventStart        time.Time // UTC
	AlarmTime         time.Time // UTC
	CreatedAt         time.Time
	UserDismissed     bool
	RequestCode       int32
	LastEventModified int64
}

// Active reports whether the alarm is still live: not dismissed and its
// fire time is still ahead of now.
func (a ScheduledAlarm) Active(now time.Time) bool {
	return !a.UserDismissed && a.AlarmTime.After(now)
}

// DayTracking records which rules have already produced an alarm on the
// current local calendar day, per spec §3.
type DayTracking struct {
	CurrentDate    string // YYYY-MM-DD in the system zone
	TriggeredRules map[string]bool
}

// Settings holds the scheduler-wide tunables of spec §6.
type Settings struct {
	RefreshIntervalMinutes       int
	AllDayDefaultHour            int
	AllDayDefaultMinute          int
	LastSyncTime                 int64 // unix ms; 0 forces a full re-scan
	OnboardingCompleted          bool
	BatteryOptimizationCompleted bool
	PremiumPurchased             bool
}

// DefaultSettings matches spec §6's release defaults: 30 minute cadence,
// 20:00 local all-day fire time.
func DefaultSettings() Settings {
	return Settings{
		RefreshIntervalMinutes: 30,
		AllDayDefaultHour:      20,
		AllDayDefaultMinute:    0,
	}
}

// AllowedRefreshIntervals is spec §6's refresh cadence set.
func AllowedRefreshIntervals(debug bool) []int {
	if debug {
		return []int{1, 5, 15, 30, 60}
	}
	return []int{5, 15, 30, 60}
}
