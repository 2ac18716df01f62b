package firepath

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

var errPresentationUnavailable = errors.New("presentation unavailable")

type fakeSurface struct {
	presented []string
	failNext  bool
}

func (f *fakeSurface) Present(alarmID, title string, eventStart time.Time) error {
	if f.failNext {
		f.failNext = false
		return errPresentationUnavailable
	}
	f.presented = append(f.presented, alarmID)
	return nil
}

func (f *fakeSurface) Dismiss(alarmID string) error { return nil }

func newTestFirePath(t *testing.T) (*FirePath, *fakeSurface) {
	t.Helper()
	st, err := store.NewFileStoreAt(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStoreAt: %v", err)
	}
	tm := timer.NewInProcessTimer(nil, true)
	surface := &fakeSurface{}
	return New(st, tm, surface), surface
}

func TestOnTimerFirePresentsAlarm(t *testing.T) {
	fp, surface := newTestFirePath(t)
	payload := timer.Payload{AlarmID: "a1", EventTitle: "Standup", EventStart: time.Now().UTC()}

	fp.OnTimerFire(1, payload)

	if len(surface.presented) != 1 || surface.presented[0] != "a1" {
		t.Fatalf("expected alarm a1 to be presented, got %+v", surface.presented)
	}
}

func TestOnTimerFireSwallowsPresentationFailure(t *testing.T) {
	fp, surface := newTestFirePath(t)
	surface.failNext = true
	payload := timer.Payload{AlarmID: "a1", EventTitle: "Standup", EventStart: time.Now().UTC()}

	fp.OnTimerFire(1, payload)

	if len(surface.presented) != 0 {
		t.Fatalf("expected no presentation recorded after failure, got %+v", surface.presented)
	}
}

func TestOnDismissMarksStoreAlarmDismissed(t *testing.T) {
	fp, _ := newTestFirePath(t)
	now := time.Now().UTC()
	a := store.ScheduledAlarm{ID: "a1", EventID: "e1", RuleID: "r1", AlarmTime: now.Add(time.Hour)}
	if err := fp.Store.AlarmPut(a); err != nil {
		t.Fatalf("AlarmPut: %v", err)
	}

	fp.OnDismiss("a1")

	got := fp.Store.AlarmsActive(now)
	if len(got) != 0 {
		t.Fatalf("expected dismissed alarm to be excluded from active, got %+v", got)
	}
}

func TestOnSnoozeArmsNewAlarmFiveMinutesOut(t *testing.T) {
	fp, _ := newTestFirePath(t)
	eventStart := time.Now().UTC().Add(time.Hour)

	if err := fp.OnSnooze("a1", "Standup", eventStart); err != nil {
		t.Fatalf("OnSnooze: %v", err)
	}

	active := fp.Store.AlarmsActive(time.Now().UTC())
	if len(active) != 1 {
		t.Fatalf("expected exactly one snooze alarm stored, got %+v", active)
	}
	snoozed := active[0]
	if snoozed.EventID == "" || snoozed.EventID != snoozed.ID {
		t.Fatalf("expected snooze alarm's EventID to equal its own id, got %+v", snoozed)
	}
	wantFire := time.Now().UTC().Add(snoozeDuration)
	if diff := snoozed.AlarmTime.Sub(wantFire); diff > 5*time.Second || diff < -5*time.Second {
		t.Fatalf("expected snooze alarm to fire ~5m out, got %v", snoozed.AlarmTime)
	}
	if !fp.Timer.IsArmed(snoozed.RequestCode) {
		t.Fatal("expected snooze alarm's request code to be armed on the Timer")
	}
}

func TestOnSnoozeTwiceDoesNotCollide(t *testing.T) {
	fp, _ := newTestFirePath(t)
	eventStart := time.Now().UTC().Add(time.Hour)

	if err := fp.OnSnooze("a1", "Standup", eventStart); err != nil {
		t.Fatalf("first OnSnooze: %v", err)
	}
	if err := fp.OnSnooze("a1", "Standup", eventStart); err != nil {
		t.Fatalf("second OnSnooze: %v", err)
	}

	active := fp.Store.AlarmsActive(time.Now().UTC())
	if len(active) != 2 {
		t.Fatalf("expected two independent snooze alarms, got %+v", active)
	}
}
