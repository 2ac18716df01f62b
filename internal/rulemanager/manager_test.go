package rulemanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/reconciler"
	"alarmsched/internal/rule"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

type fakeSource struct {
	events []eventsource.CalendarEvent
}

func (f *fakeSource) Upcoming(ctx context.Context, fromUtc, toUtc time.Time, calendarIDs []string, modifiedSinceUtc *time.Time) ([]eventsource.CalendarEvent, error) {
	var out []eventsource.CalendarEvent
	for _, e := range f.events {
		if !e.Start.Before(fromUtc) && !e.Start.After(toUtc) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) Calendars(ctx context.Context) ([]eventsource.CalendarInfo, error) { return nil, nil }
func (f *fakeSource) HasAccess() bool                                                  { return true }

func newTestManager(t *testing.T, events []eventsource.CalendarEvent, now time.Time) (*Manager, store.Store, timer.Timer) {
	t.Helper()
	st, err := store.NewFileStoreAt(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	tm := timer.NewInProcessTimer(nil, true)
	src := &fakeSource{events: events}
	clk := clock.FixedClock{At: now}
	rec := reconciler.New(st, tm, src, clk, time.UTC)
	return New(st, src, rec, clk, time.UTC), st, tm
}

func TestEnableRuleSchedulesMatchingAlarms(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
	}
	m, st, tm := newTestManager(t, events, now)

	r := rule.New("r1", "Standup", "standup", nil, 15, false, false, now)
	if err := st.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}

	result, err := m.EnableRule(context.Background(), r)
	if err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	if result.Scheduled != 1 {
		t.Fatalf("expected 1 scheduled, got %+v", result)
	}

	alarm, ok := st.AlarmByEventRule("e1", "r1")
	if !ok {
		t.Fatal("expected an alarm to be stored for e1/r1")
	}
	if !tm.IsArmed(alarm.RequestCode) {
		t.Error("expected the timer slot to be armed")
	}

	got, _ := st.RuleGet("r1")
	if !got.Enabled {
		t.Fatal("expected rule to be marked enabled")
	}
}

func TestDisableRuleCancelsAllItsAlarms(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
	}
	m, st, tm := newTestManager(t, events, now)

	r := rule.New("r1", "Standup", "standup", nil, 15, true, false, now)
	if err := st.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	if _, err := m.EnableRule(context.Background(), r); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	alarm, _ := st.AlarmByEventRule("e1", "r1")

	result, err := m.DisableRule(r)
	if err != nil {
		t.Fatalf("DisableRule: %v", err)
	}
	if result.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %+v", result)
	}
	if tm.IsArmed(alarm.RequestCode) {
		t.Error("expected the timer slot to be cancelled")
	}
	if len(st.AlarmsAll()) != 0 {
		t.Fatal("expected the alarm row to be deleted")
	}

	got, _ := st.RuleGet("r1")
	if got.Enabled {
		t.Fatal("expected rule to be marked disabled")
	}
}

func TestDeleteRuleRemovesRuleAndAlarms(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
	}
	m, st, _ := newTestManager(t, events, now)

	r := rule.New("r1", "Standup", "standup", nil, 15, true, false, now)
	if err := st.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	if _, err := m.EnableRule(context.Background(), r); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}

	if _, err := m.DeleteRule("r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, ok := st.RuleGet("r1"); ok {
		t.Fatal("expected rule to be gone after delete")
	}
	if len(st.AlarmsAll()) != 0 {
		t.Fatal("expected all alarms for the deleted rule to be gone")
	}
}

func TestEditRuleCascadesOldThenNew(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
		{ID: "e2", Title: "Retro", Start: now.Add(2 * time.Hour), End: now.Add(150 * time.Minute), CalendarID: "work"},
	}
	m, st, tm := newTestManager(t, events, now)

	oldR := rule.New("r1", "Standup", "standup", nil, 15, true, false, now)
	if err := st.RulePut(oldR); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	if _, err := m.EnableRule(context.Background(), oldR); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	oldAlarm, _ := st.AlarmByEventRule("e1", "r1")

	newR := rule.New("r1", "Retro", "retro", nil, 15, true, false, now)
	result, err := m.EditRule(context.Background(), oldR, newR)
	if err != nil {
		t.Fatalf("EditRule: %v", err)
	}
	if result.Cancelled != 1 || result.Scheduled != 1 {
		t.Fatalf("expected 1 cancelled and 1 scheduled, got %+v", result)
	}
	if tm.IsArmed(oldAlarm.RequestCode) {
		t.Error("expected the old alarm's slot to be cancelled")
	}

	alarm, ok := st.AlarmByEventRule("e2", "r1")
	if !ok {
		t.Fatal("expected the new pattern to match the retro event")
	}
	if !tm.IsArmed(alarm.RequestCode) {
		t.Error("expected the new alarm's slot to be armed")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	m, st, _ := newTestManager(t, nil, now)

	r := rule.New("r1", "Standup", "standup", []string{"work"}, 90, true, true, now)
	if err := st.RulePut(r); err != nil {
		t.Fatalf("RulePut: %v", err)
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := m.ExportRules(path); err != nil {
		t.Fatalf("ExportRules: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty export")
	}

	m2, st2, _ := newTestManager(t, nil, now)
	imported, skipped, err := m2.ImportRules(path)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if imported != 1 || len(skipped) != 0 {
		t.Fatalf("expected 1 imported and 0 skipped, got imported=%d skipped=%v", imported, skipped)
	}

	got, ok := st2.RuleGet("r1")
	if !ok {
		t.Fatal("expected imported rule r1 to exist")
	}
	if got.LeadTimeMinutes != 90 {
		t.Fatalf("expected lead time 90m round-tripped through PT1H30M, got %d", got.LeadTimeMinutes)
	}
	if !got.FirstEventOfDayOnly {
		t.Fatal("expected first_event_of_day_only to round-trip")
	}
}

func TestImportRulesSkipsInvalidLeadTime(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	m, _, _ := newTestManager(t, nil, now)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  - id: r1\n    name: Bad\n    pattern: x\n    lead_time: not-a-duration\n    enabled: true\n    first_event_of_day_only: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	imported, skipped, err := m.ImportRules(path)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if imported != 0 || len(skipped) != 1 {
		t.Fatalf("expected 0 imported and 1 skipped, got imported=%d skipped=%v", imported, skipped)
	}
}
