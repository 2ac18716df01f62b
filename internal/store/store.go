package store

import (
	"time"

	"alarmsched/internal/rule"
)

// Store is the persistence contract of spec §4.2.
type Store interface {
	RulesAll() []rule.Rule
	RulesEnabled() []rule.Rule
	RuleGet(id string) (rule.Rule, bool)
	RulePut(r rule.Rule) error
	RuleDelete(id string) error
	// SubscribeRules registers fn to be called with the full rule set
	// after every committed rule write; it returns an unsubscribe func.
	SubscribeRules(fn func([]rule.Rule)) (unsubscribe func())

	AlarmsAll() []ScheduledAlarm
	AlarmsActive(now time.Time) []ScheduledAlarm
	AlarmByEventRule(eventID, ruleID string) (ScheduledAlarm, bool)
	AlarmPut(a ScheduledAlarm) error
	AlarmDelete(id string) error
	AlarmDeleteByRule(ruleID string) error
	SetDismissed(id string, dismissed bool) error
	CleanupExpired(before time.Time) (int, error)

	DayTrackingMark(ruleID string) error
	DayTrackingSeen(ruleID string) bool
	DayTrackingResetIfNewDay(now time.Time, zone *time.Location) error

	SettingsGet() Settings
	SettingsSet(s Settings) error
	SubscribeSettings(fn func(Settings)) (unsubscribe func())
}
