package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/rule"
	"alarmsched/internal/schederr"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

// fakeSource is a minimal in-memory EventSource for reconciler tests.
type fakeSource struct {
	events     []eventsource.CalendarEvent
	err        error
	calendars  []eventsource.CalendarInfo
	hasAccess  bool
}

func (f *fakeSource) Upcoming(ctx context.Context, fromUtc, toUtc time.Time, calendarIDs []string, modifiedSinceUtc *time.Time) ([]eventsource.CalendarEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []eventsource.CalendarEvent
	for _, e := range f.events {
		if !e.Start.Before(fromUtc) && !e.Start.After(toUtc) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) Calendars(ctx context.Context) ([]eventsource.CalendarInfo, error) {
	return f.calendars, nil
}

func (f *fakeSource) HasAccess() bool { return f.hasAccess }

func newTestReconciler(t *testing.T, events []eventsource.CalendarEvent, now time.Time) (*Reconciler, store.Store, timer.Timer) {
	t.Helper()
	st, err := store.NewFileStoreAt(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	tm := timer.NewInProcessTimer(nil, true)
	src := &fakeSource{events: events, hasAccess: true}
	clk := clock.FixedClock{At: now}
	r := New(st, tm, src, clk, time.UTC)
	return r, st, tm
}

func TestReconcileArmsNewAlarm(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
	}
	r, st, tm := newTestReconciler(t, events, now)

	if err := st.RulePut(rule.New("r1", "Standup", "standup", nil, 15, true, false, now)); err != nil {
		t.Fatalf("RulePut: %v", err)
	}

	result := r.Reconcile(context.Background())
	if result.Scheduled != 1 || result.Status != StatusOK {
		t.Fatalf("expected 1 scheduled, got %+v", result)
	}

	alarm, ok := st.AlarmByEventRule("e1", "r1")
	if !ok {
		t.Fatal("expected an alarm to be stored for e1/r1")
	}
	if !tm.IsArmed(alarm.RequestCode) {
		t.Error("expected the timer slot to be armed")
	}
}

func TestReconcileIsIdempotentOnUnchangedInput(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work"},
	}
	r, st, _ := newTestReconciler(t, events, now)
	if err := st.RulePut(rule.New("r1", "Standup", "standup", nil, 15, true, false, now)); err != nil {
		t.Fatalf("RulePut: %v", err)
	}

	first := r.Reconcile(context.Background())
	if first.Scheduled != 1 {
		t.Fatalf("expected first pass to schedule 1, got %+v", first)
	}

	second := r.Reconcile(context.Background())
	if second.Scheduled != 0 || second.Updated != 0 || second.Skipped != 1 {
		t.Fatalf("expected second pass to be a no-op skip, got %+v", second)
	}
}

func TestReconcileUpdatesWhenEventModified(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work", LastModified: 1},
	}
	r, st, _ := newTestReconciler(t, events, now)
	if err := st.RulePut(rule.New("r1", "Standup", "standup", nil, 15, true, false, now)); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	r.Reconcile(context.Background())

	events[0].LastModified = 2
	events[0].Start = now.Add(2 * time.Hour)
	result := r.Reconcile(context.Background())
	if result.Updated != 1 {
		t.Fatalf("expected the modified event's alarm to be updated, got %+v", result)
	}
}

func TestReconcileResurrectsDismissedAlarmOnModification(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	events := []eventsource.CalendarEvent{
		{ID: "e1", Title: "Team Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), CalendarID: "work", LastModified: 1},
	}
	r, st, tm := newTestReconciler(t, events, now)
	if err := st.RulePut(rule.New("r1", "Standup", "standup", nil, 15, true, false, now)); err != nil {
		t.Fatalf("RulePut: %v", err)
	}
	r.Reconcile(context.Background())

	alarm, _ := st.AlarmByEventRule("e1", "r1")
	tm.Cancel(alarm.RequestCode) // simulate an out-of-band user dismissal

	// This pass should detect the dismissal.
	r.Reconcile(context.Background())
	dismissed, _ := st.AlarmByEventRule("e1", "r1")
	_ = dismissed // AlarmByEventRule only returns non-dismissed rows; confirm via AlarmsAll
	found := false
	for _, a := range st.AlarmsAll() {
		if a.ID == alarm.ID {
			found = true
			if !a.UserDismissed {
				t.Fatal("expected alarm to be marked dismissed after is_armed probing found it unarmed")
			}
		}
	}
	if !found {
		t.Fatal("expected the original alarm row to still exist")
	}

	// Now modify the event; the next pass must resurrect it.
	events[0].LastModified = 2
	result := r.Reconcile(context.Background())
	if result.Updated != 1 {
		t.Fatalf("expected modification to resurrect the dismissed alarm, got %+v", result)
	}
	resurrected, ok := st.AlarmByEventRule("e1", "r1")
	if !ok || resurrected.UserDismissed {
		t.Fatalf("expected alarm to be resurrected and undismissed, got %+v ok=%v", resurrected, ok)
	}
}

func TestReconcilePermissionDeniedIsNoOp(t *testing.T) {
	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	st, err := store.NewFileStoreAt(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	tm := timer.NewInProcessTimer(nil, true)
	src := &fakeSource{err: schederr.ErrAccessDenied}
	clk := clock.FixedClock{At: now}
	r := New(st, tm, src, clk, time.UTC)

	result := r.Reconcile(context.Background())
	if result.Status != StatusPermission {
		t.Fatalf("expected StatusPermission, got %+v", result)
	}
	if len(st.AlarmsAll()) != 0 {
		t.Fatal("expected no alarms to be mutated on permission denial")
	}
}
