package store

import (
	"path/filepath"
	"testing"
	"time"

	"alarmsched/internal/rule"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStoreAt(path)
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	return s
}

func TestRulePutGetDelete(t *testing.T) {
	s := newTestStore(t)
	r := rule.New("r1", "Standup", "standup", nil, 30, true, false, time.Now())

	if err := s.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	got, ok := s.RuleGet("r1")
	if !ok || got.Name != "Standup" {
		t.Fatalf("expected to find rule r1, got %+v, ok=%v", got, ok)
	}

	if err := s.RuleDelete("r1"); err != nil {
		t.Fatalf("RuleDelete: %v", err)
	}
	if _, ok := s.RuleGet("r1"); ok {
		t.Fatal("expected rule to be gone after delete")
	}
}

func TestRulesEnabledFiltersDisabledAndInvalid(t *testing.T) {
	s := newTestStore(t)
	enabled := rule.New("r1", "Standup", "standup", nil, 30, true, false, time.Now())
	disabled := rule.New("r2", "Retro", "retro", nil, 30, false, false, time.Now())
	invalid := rule.New("r3", "", "x", nil, 30, true, false, time.Now())

	for _, r := range []rule.Rule{enabled, disabled, invalid} {
		if err := s.RulePut(r); err != nil {
			t.Fatalf("RulePut: %v", err)
		}
	}

	got := s.RulesEnabled()
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected only r1 enabled, got %+v", got)
	}
}

func TestAlarmPutEnforcesOneActivePerEventRule(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	a1 := ScheduledAlarm{ID: "a1", EventID: "e1", RuleID: "r1", AlarmTime: now.Add(time.Hour)}
	if err := s.AlarmPut(a1); err != nil {
		t.Fatalf("AlarmPut a1: %v", err)
	}

	a2 := ScheduledAlarm{ID: "a2", EventID: "e1", RuleID: "r1", AlarmTime: now.Add(2 * time.Hour)}
	if err := s.AlarmPut(a2); err == nil {
		t.Fatal("expected integrity error arming a second active alarm for the same event+rule")
	}
}

func TestAlarmPutAllowsUpdatingSameAlarm(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	a1 := ScheduledAlarm{ID: "a1", EventID: "e1", RuleID: "r1", AlarmTime: now.Add(time.Hour)}
	if err := s.AlarmPut(a1); err != nil {
		t.Fatalf("AlarmPut a1: %v", err)
	}
	a1.AlarmTime = now.Add(90 * time.Minute)
	if err := s.AlarmPut(a1); err != nil {
		t.Fatalf("expected update of the same alarm id to succeed, got %v", err)
	}
}

func TestAlarmsActiveExcludesDismissedAndPast(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	active := ScheduledAlarm{ID: "a1", EventID: "e1", RuleID: "r1", AlarmTime: now.Add(time.Hour)}
	dismissed := ScheduledAlarm{ID: "a2", EventID: "e2", RuleID: "r1", AlarmTime: now.Add(time.Hour), UserDismissed: true}
	past := ScheduledAlarm{ID: "a3", EventID: "e3", RuleID: "r1", AlarmTime: now.Add(-time.Hour)}

	for _, a := range []ScheduledAlarm{active, dismissed, past} {
		if err := s.AlarmPut(a); err != nil {
			t.Fatalf("AlarmPut: %v", err)
		}
	}

	got := s.AlarmsActive(now)
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("expected only a1 active, got %+v", got)
	}
}

func TestDayTrackingResetsOnNewDay(t *testing.T) {
	s := newTestStore(t)
	day1 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if err := s.DayTrackingResetIfNewDay(day1, time.UTC); err != nil {
		t.Fatalf("reset day1: %v", err)
	}
	if err := s.DayTrackingMark("r1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !s.DayTrackingSeen("r1") {
		t.Fatal("expected r1 to be marked seen")
	}

	if err := s.DayTrackingResetIfNewDay(day2, time.UTC); err != nil {
		t.Fatalf("reset day2: %v", err)
	}
	if s.DayTrackingSeen("r1") {
		t.Fatal("expected day tracking to reset on a new local day")
	}
}

func TestSettingsGetSetAndSubscribe(t *testing.T) {
	s := newTestStore(t)
	var received Settings
	unsub := s.SubscribeSettings(func(set Settings) { received = set })
	defer unsub()

	newSettings := DefaultSettings()
	newSettings.RefreshIntervalMinutes = 15
	if err := s.SettingsSet(newSettings); err != nil {
		t.Fatalf("SettingsSet: %v", err)
	}
	if received.RefreshIntervalMinutes != 15 {
		t.Fatalf("expected subscriber to observe new settings, got %+v", received)
	}
	if s.SettingsGet().RefreshIntervalMinutes != 15 {
		t.Fatal("expected SettingsGet to reflect the update")
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s1, err := NewFileStoreAt(path)
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	r := rule.New("r1", "Standup", "standup", nil, 30, true, false, time.Now())
	if err := s1.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}

	s2, err := NewFileStoreAt(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	got, ok := s2.RuleGet("r1")
	if !ok || got.Name != "Standup" {
		t.Fatalf("expected reloaded store to contain r1, got %+v, ok=%v", got, ok)
	}
	if !got.MatchesTitle("Team Standup") {
		t.Fatal("expected reloaded rule's compiled matcher to still work")
	}
}
