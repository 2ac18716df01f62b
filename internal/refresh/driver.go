// Package refresh implements the RefreshDriver of spec §4.7: it owns the
// reconciliation cadence and the external signals (boot, timezone change,
// rule edits) that trigger an out-of-cadence pass.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alarmsched/internal/config"
	"alarmsched/internal/logging"
	"alarmsched/internal/reconciler"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

var log = logging.New("refresh")

// Driver arms itself via the Timer facility rather than a soft ticker, so
// refresh survives process death and device idle, per spec §4.7 — the
// same "arm a one-shot that re-arms itself" shape the teacher's
// AlertManager.run used for its minute ticker, but driven off the
// abstract Timer instead of a raw time.Timer.
type Driver struct {
	reconciler *reconciler.Reconciler
	store      store.Store
	tm         timer.Timer

	// cadenceRequestCode is a fixed, reserved request code the cadence
	// timer always uses. timer.DeriveRequestCode can yield any int32,
	// -1 included, so this value is not excluded from derivation; while
	// the cadence slot is armed, ResolveRequestCode probes past it.
	cadenceRequestCode int32

	// wakeup carries the teacher's WakeupHandlingConfig section so a
	// cadence fire arriving much later than scheduled (the process was
	// suspended, not just busy) can be told apart from a normal tick.
	wakeup config.WakeupHandlingConfig

	mutex       sync.Mutex
	running     bool
	inFlight    bool
	followUp    bool
	lastArmedAt time.Time
	stopChan    chan struct{}
}

// CadenceRequestCode is the Timer slot permanently reserved for the
// RefreshDriver's self-arming cadence timer.
const CadenceRequestCode int32 = -1

// New builds a Driver. The Timer passed here should be the same Timer the
// Reconciler uses, since cadence re-arming shares the request-code space.
func New(r *reconciler.Reconciler, st store.Store, tm timer.Timer) *Driver {
	return &Driver{
		reconciler:         r,
		store:              st,
		tm:                 tm,
		cadenceRequestCode: CadenceRequestCode,
		stopChan:           make(chan struct{}),
	}
}

// SetWakeupPolicy assigns the wakeup-handling behavior read from config, per
// spec.md's retained wakeup-handling config section. Call before Start.
func (d *Driver) SetWakeupPolicy(w config.WakeupHandlingConfig) {
	d.mutex.Lock()
	d.wakeup = w
	d.mutex.Unlock()
}

// Start arms the first cadence tick and begins accepting external
// triggers. The Timer's callback dispatch must route fires of
// CadenceRequestCode to Driver.OnTimerFire for this to self-sustain.
func (d *Driver) Start(ctx context.Context) error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("refresh driver already running")
	}
	d.running = true
	d.mutex.Unlock()

	d.TriggerBootCompletion(ctx)
	return d.armNextCadence()
}

// Stop cancels the cadence timer and marks the driver stopped.
func (d *Driver) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.running {
		return
	}
	d.running = false
	d.tm.Cancel(d.cadenceRequestCode)
	close(d.stopChan)
}

func (d *Driver) armNextCadence() error {
	settings := d.store.SettingsGet()
	cadence := time.Duration(settings.RefreshIntervalMinutes) * time.Minute
	if cadence <= 0 {
		cadence = 30 * time.Minute
	}

	now := time.Now().UTC()
	d.mutex.Lock()
	d.lastArmedAt = now
	d.mutex.Unlock()

	fireAt := now.Add(cadence)
	return d.tm.Arm(d.cadenceRequestCode, fireAt, timer.Payload{AlarmID: "refresh-cadence"})
}

// OnTimerFire is the Timer callback entry point; route fires of
// CadenceRequestCode here from the process's Timer dispatch.
func (d *Driver) OnTimerFire(ctx context.Context, requestCode int32) {
	if requestCode != d.cadenceRequestCode {
		return
	}
	d.checkWakeup(ctx)
	d.runCoalesced(ctx)
	if err := d.armNextCadence(); err != nil {
		log.Warn("re-arming cadence timer: %v", err)
	}
}

// checkWakeup compares the actual fire time against when the cadence was
// armed. A gap much larger than the configured cadence means no timer fired
// while it should have — the host was suspended, not just briefly busy —
// which is exactly the condition the teacher's WakeupHandlingConfig names.
// The normal pass runs afterwards under every missed-event policy; "skip"
// only adds a day-tracking new-day reset first. The Reconciler itself (not this driver) decides which individual alarms
// are stale, since it alone holds the armed-alarm state.
func (d *Driver) checkWakeup(ctx context.Context) {
	d.mutex.Lock()
	armedAt := d.lastArmedAt
	wakeup := d.wakeup
	d.mutex.Unlock()
	if armedAt.IsZero() || !wakeup.Enable {
		return
	}

	settings := d.store.SettingsGet()
	cadence := time.Duration(settings.RefreshIntervalMinutes) * time.Minute
	if cadence <= 0 {
		cadence = 30 * time.Minute
	}

	gap := time.Since(armedAt)
	if gap < cadence+2*time.Minute {
		return
	}
	log.Info("cadence fired %s late, treating as a wakeup from suspend (policy=%s)", gap, wakeup.MissedEventPolicy)

	if wakeup.MissedEventPolicy == "skip" {
		log.Info("missed_event_policy=skip: resetting day tracking without a catch-up reconciliation")
		if err := d.store.DayTrackingResetIfNewDay(time.Now().UTC(), time.Local); err != nil {
			log.Warn("resetting day tracking after wakeup: %v", err)
		}
	}
	// "all", "summary", and "priority_only" all fall through to the normal
	// runCoalesced pass below; the Reconciler's existing per-alarm decision
	// table (armed-but-overdue vs still-upcoming) is what actually decides
	// which alarms still fire, regardless of policy name.
}

// runCoalesced implements the idempotent-driver guarantee of spec §4.7:
// only one reconciliation is in flight at a time; triggers arriving while
// one runs are collapsed into a single follow-up pass.
func (d *Driver) runCoalesced(ctx context.Context) {
	d.mutex.Lock()
	if d.inFlight {
		d.followUp = true
		d.mutex.Unlock()
		return
	}
	d.inFlight = true
	d.mutex.Unlock()

	for {
		result := d.reconciler.Reconcile(ctx)
		log.Info("reconciliation pass: status=%d scheduled=%d updated=%d skipped=%d failed=%d",
			result.Status, result.Scheduled, result.Updated, result.Skipped, result.Failed)

		d.mutex.Lock()
		if !d.followUp {
			d.inFlight = false
			d.mutex.Unlock()
			return
		}
		d.followUp = false
		d.mutex.Unlock()
	}
}

// TriggerBootCompletion runs an immediate reconciliation on host boot,
// per spec §4.7.
func (d *Driver) TriggerBootCompletion(ctx context.Context) {
	d.runCoalesced(ctx)
}

// TriggerTimezoneChange clears day-tracking only when the local date in
// newZone differs from the recorded one (a zone change within the same
// date leaves it as is), resets the last-sync timestamp to force a full
// re-scan, then runs an immediate reconciliation.
func (d *Driver) TriggerTimezoneChange(ctx context.Context, now time.Time, newZone *time.Location) {
	if err := d.store.DayTrackingResetIfNewDay(now, newZone); err != nil {
		log.Warn("resetting day tracking on timezone change: %v", err)
	}
	settings := d.store.SettingsGet()
	settings.LastSyncTime = 0
	if err := d.store.SettingsSet(settings); err != nil {
		log.Warn("resetting last sync time on timezone change: %v", err)
	}
	d.reconciler.Zone = newZone
	d.runCoalesced(ctx)
}

// TriggerRuleEdit runs an immediate reconciliation after a rule was
// created, modified, enabled, disabled, or deleted. The RuleAlarmManager
// (spec §4.9) handles the focused per-rule cascade itself; this trigger
// exists for editors that prefer a full reconciliation instead.
func (d *Driver) TriggerRuleEdit(ctx context.Context) {
	d.runCoalesced(ctx)
}
