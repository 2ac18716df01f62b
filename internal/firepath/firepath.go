// Package firepath implements the FirePath of spec §4.8: the handler
// invoked when the Timer fires, which presents a user-visible
// notification, records dismissal/snooze, and mutates the Store.
package firepath

import (
	"fmt"
	"time"

	"alarmsched/internal/logging"
	"alarmsched/internal/schederr"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

var log = logging.New("firepath")

// snoozeDuration is spec §4.8's fixed snooze offset.
const snoozeDuration = 5 * time.Minute

// NotificationSurface is the contract of spec §6: present an alarm to
// the user, and allow it to be dismissed programmatically (e.g. from a
// GUI action outside the notification itself).
type NotificationSurface interface {
	Present(alarmID, title string, eventStart time.Time) error
	Dismiss(alarmID string) error
}

// ActionHandler lets the NotificationSurface report back which action the
// user took on a presented notification. OnSnooze needs the event's title
// and start time (not just its id) since it synthesizes a brand new
// ScheduledAlarm carrying them; the surface must remember both from the
// original Present call and hand them back here.
type ActionHandler interface {
	OnDismiss(alarmID string)
	OnSnooze(alarmID, eventTitle string, eventStart time.Time) error
}

// FirePath wires a NotificationSurface to the Store and Timer, and
// implements ActionHandler so the surface can report user actions back.
type FirePath struct {
	Store   store.Store
	Timer   timer.Timer
	Surface NotificationSurface
}

// New builds a FirePath.
func New(st store.Store, tm timer.Timer, surface NotificationSurface) *FirePath {
	return &FirePath{Store: st, Timer: tm, Surface: surface}
}

// OnTimerFire is the Timer callback entry point (spec §4.8's procedure).
func (f *FirePath) OnTimerFire(requestCode int32, payload timer.Payload) {
	if err := f.Surface.Present(payload.AlarmID, payload.EventTitle, payload.EventStart); err != nil {
		log.Warn("presenting alarm %s: %v", payload.AlarmID, err)
		// PresentationUnavailable: recorded but the alarm is still
		// considered fired, per spec §4.8.
	}
}

// OnDismiss marks the alarm's userDismissed flag lazily, only on an
// explicit user dismissal (never on fire), per spec §4.8 step 2.
func (f *FirePath) OnDismiss(alarmID string) {
	if err := f.Store.SetDismissed(alarmID, true); err != nil {
		log.Warn("recording dismissal of %s: %v", alarmID, err)
	}
}

// OnSnooze synthesizes a derived alarm per spec §4.8 step 3: a new
// 5-minutes-out fire time, a new id of the form "<origId>_snooze_<now>",
// and a freshly derived request code. Snooze alarms are never matched
// back to any rule, so they are armed on the Timer without a Store row
// tying them to an (eventId, ruleId) pair; they are tracked as a
// zero-rule ScheduledAlarm purely so cleanup_expired can still reap them.
func (f *FirePath) OnSnooze(alarmID string, eventTitle string, eventStart time.Time) error {
	now := time.Now().UTC()
	snoozeID := fmt.Sprintf("%s_snooze_%d", alarmID, now.UnixMilli())
	fireAt := now.Add(snoozeDuration)

	requestCode, err := timer.ResolveRequestCode(snoozeID, f.Timer.IsArmed)
	if err != nil {
		return fmt.Errorf("deriving snooze request code for %s: %w", alarmID, err)
	}

	payload := timer.Payload{AlarmID: snoozeID, EventTitle: eventTitle, EventStart: eventStart}
	if err := timer.ArmWithRetry(f.Timer, requestCode, fireAt, payload); err != nil {
		return fmt.Errorf("arming snooze for %s: %w", alarmID, err)
	}

	// EventID is set to the snooze id itself (not the original event's
	// id) so the Store's one-active-alarm-per-(eventId,ruleId) invariant
	// never collides across snoozes; snooze alarms are never matched
	// back to any rule, per spec §4.8.
	snoozeAlarm := store.ScheduledAlarm{
		ID:          snoozeID,
		EventID:     snoozeID,
		RuleID:      "",
		EventTitle:  eventTitle,
		EventStart:  eventStart,
		AlarmTime:   fireAt,
		CreatedAt:   now,
		RequestCode: requestCode,
	}
	if err := f.Store.AlarmPut(snoozeAlarm); err != nil {
		f.Timer.Cancel(requestCode)
		return fmt.Errorf("%w: storing snooze alarm %s", schederr.ErrStorageUnavailable, err)
	}
	return nil
}
