// Package reconciler implements the core state machine of spec §4.6: it
// diffs a freshly computed match set against the Store's alarm set and
// mutates Store/Timer so the post-condition invariants of spec §3 hold.
package reconciler

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/logging"
	"alarmsched/internal/matcher"
	"alarmsched/internal/schederr"
	"alarmsched/internal/store"
	"alarmsched/internal/timer"
)

var log = logging.New("reconciler")

// Status is the pass-level result code of spec §6.
type Status int

const (
	StatusOK Status = iota
	StatusRetry
	StatusPermission
)

// Result is the per-pass summary of spec §4.6/§7. A Reconciler pass never
// returns a Go error for per-item failures; it always returns a Result.
type Result struct {
	Status            Status
	Scheduled         int
	Updated           int
	Skipped           int
	Failed            int
	FailedEventTitles []string
}

func (r *Result) recordFailure(title string) {
	r.Failed++
	r.FailedEventTitles = append(r.FailedEventTitles, title)
}

// reentrancyWindow is the 2-second per-(ruleId,operation) debounce of
// spec §4.6/§4.9.
const reentrancyWindow = 2 * time.Second

// hungPassThreshold is spec §5's "considered hung" bound; a hung pass is
// only logged, never force-killed.
const hungPassThreshold = 30 * time.Second

// Reconciler owns the single-slot serialization mutex described in
// spec §5: at most one reconciliation runs at any instant.
type Reconciler struct {
	Store  store.Store
	Timer  timer.Timer
	Source eventsource.EventSource
	Clock  clock.Clock
	Zone   *time.Location

	passMutex sync.Mutex

	opMutex sync.Mutex
	opLocks map[string]time.Time
}

// New builds a Reconciler. zone governs local-day computations (settings,
// day-tracking, all-day alarm anchoring).
func New(st store.Store, tm timer.Timer, src eventsource.EventSource, clk clock.Clock, zone *time.Location) *Reconciler {
	if zone == nil {
		zone = time.Local
	}
	return &Reconciler{
		Store:   st,
		Timer:   tm,
		Source:  src,
		Clock:   clk,
		Zone:    zone,
		opLocks: make(map[string]time.Time),
	}
}

// TryLockRuleOp enforces the 2-second per-(ruleId,operation) reentrancy lock.
// It returns false if the same (ruleId, operation) pair was locked less than
// 2 seconds ago, whether or not that earlier operation is still running.
func (r *Reconciler) TryLockRuleOp(ruleID, operation string) bool {
	key := ruleID + "|" + operation
	now := time.Now()

	r.opMutex.Lock()
	defer r.opMutex.Unlock()
	if until, ok := r.opLocks[key]; ok && now.Before(until) {
		return false
	}
	r.opLocks[key] = now.Add(reentrancyWindow)
	return true
}

// Reconcile runs one full reconciliation pass: dismissal detection,
// matching, per-match decisions, and post-pass cleanup.
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	r.passMutex.Lock()
	defer r.passMutex.Unlock()

	started := time.Now()
	defer func() {
		if elapsed := time.Since(started); elapsed > hungPassThreshold {
			log.Warn("reconciliation pass took %s, exceeding the %s hung threshold", elapsed, hungPassThreshold)
		}
	}()

	now := r.Clock.NowUTC()

	if err := r.Store.DayTrackingResetIfNewDay(now, r.Zone); err != nil {
		log.Warn("day tracking reset failed: %v", err)
	}

	r.detectDismissals(now)

	settings := r.Store.SettingsGet()
	rules := r.Store.RulesEnabled()

	windowEnd := now.Add(eventsource.LookaheadWindow)
	events, err := r.Source.Upcoming(ctx, now, windowEnd, nil, nil)
	if err != nil {
		switch schederr.Classify(err) {
		case schederr.ClassPermission:
			log.Warn("event source access denied, pass is a no-op: %v", err)
			return Result{Status: StatusPermission}
		default:
			log.Warn("event source unavailable, will retry next cadence: %v", err)
			return Result{Status: StatusRetry}
		}
	}

	matches := matcher.Evaluate(events, rules, settings, r.Zone, now)
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].ProposedAlarmTime.Equal(matches[j].ProposedAlarmTime) {
			return matches[i].ProposedAlarmTime.Before(matches[j].ProposedAlarmTime)
		}
		return matches[i].Event.ID < matches[j].Event.ID
	})

	result := r.applyMatches(matches, now)
	r.cleanupStale(matches, events, now)
	return result
}

// ApplyMatches runs the per-match decision table of spec §4.6 directly,
// without a full pass's windowing/dismissal-detection/cleanup steps. The
// RuleAlarmManager's enable-rule cascade calls this with a match set
// restricted to a single rule.
func (r *Reconciler) ApplyMatches(matches []matcher.Match, now time.Time) Result {
	return r.applyMatches(matches, now)
}

// applyMatches runs the per-match decision table of spec §4.6.
func (r *Reconciler) applyMatches(matches []matcher.Match, now time.Time) Result {
	result := Result{Status: StatusOK}

	for _, m := range matches {
		existing, ok := r.Store.AlarmByEventRule(m.Event.ID, m.Rule.ID)
		if !ok {
			// AlarmByEventRule skips dismissed rows; a dismissed alarm still
			// holds its (eventId, ruleId) pair until the event is modified.
			for _, a := range r.Store.AlarmsAll() {
				if a.UserDismissed && a.EventID == m.Event.ID && a.RuleID == m.Rule.ID {
					existing, ok = a, true
					break
				}
			}
		}
		switch {
		case !ok:
			r.armNew(m, now, &result)
		case m.Event.LastModified > existing.LastEventModified:
			r.armUpdate(m, existing, now, &result)
		default:
			result.Skipped++
		}
	}
	return result
}

func (r *Reconciler) armNew(m matcher.Match, now time.Time, result *Result) {
	alarmID := generateAlarmID(m.Event.ID, m.Rule.ID, now)

	requestCode, err := timer.ResolveRequestCode(alarmID, r.Timer.IsArmed)
	if err != nil {
		log.Warn("arming %s: %v", alarmID, err)
		result.recordFailure(m.Event.Title)
		return
	}

	payload := timer.Payload{AlarmID: alarmID, EventTitle: m.Event.Title, EventStart: m.Event.Start, RuleID: m.Rule.ID}
	if err := timer.ArmWithRetry(r.Timer, requestCode, m.ProposedAlarmTime, payload); err != nil {
		log.Warn("arming %s: %v", alarmID, err)
		result.recordFailure(m.Event.Title)
		return
	}

	alarm := store.ScheduledAlarm{
		ID:                alarmID,
		EventID:           m.Event.ID,
		RuleID:            m.Rule.ID,
		EventTitle:        m.Event.Title,
		EventStart:        m.Event.Start,
		AlarmTime:         m.ProposedAlarmTime,
		CreatedAt:         now,
		RequestCode:       requestCode,
		LastEventModified: m.Event.LastModified,
	}
	if err := r.Store.AlarmPut(alarm); err != nil {
		log.Warn("storing alarm %s: %v", alarmID, err)
		r.Timer.Cancel(requestCode)
		result.recordFailure(m.Event.Title)
		return
	}

	if m.Rule.FirstEventOfDayOnly {
		if err := r.Store.DayTrackingMark(m.Rule.ID); err != nil {
			log.Warn("marking day tracking for rule %s: %v", m.Rule.ID, err)
		}
	}
	result.Scheduled++
}

func (r *Reconciler) armUpdate(m matcher.Match, existing store.ScheduledAlarm, now time.Time, result *Result) {
	r.Timer.Cancel(existing.RequestCode)

	requestCode, err := timer.ResolveRequestCode(existing.ID, r.Timer.IsArmed)
	if err != nil {
		log.Warn("updating %s: %v", existing.ID, err)
		result.recordFailure(m.Event.Title)
		return
	}

	payload := timer.Payload{AlarmID: existing.ID, EventTitle: m.Event.Title, EventStart: m.Event.Start, RuleID: m.Rule.ID}
	if err := timer.ArmWithRetry(r.Timer, requestCode, m.ProposedAlarmTime, payload); err != nil {
		log.Warn("updating %s: %v", existing.ID, err)
		result.recordFailure(m.Event.Title)
		return
	}

	existing.EventTitle = m.Event.Title
	existing.EventStart = m.Event.Start
	existing.AlarmTime = m.ProposedAlarmTime
	existing.RequestCode = requestCode
	existing.LastEventModified = m.Event.LastModified
	existing.UserDismissed = false // a modified event is treated as new, per spec §4.6

	if err := r.Store.AlarmPut(existing); err != nil {
		log.Warn("storing updated alarm %s: %v", existing.ID, err)
		result.recordFailure(m.Event.Title)
		return
	}
	result.Updated++
}

// detectDismissals marks any Store alarm the Store believes active but
// the Timer reports unarmed as user-dismissed (spec §4.6).
func (r *Reconciler) detectDismissals(now time.Time) {
	for _, a := range r.Store.AlarmsActive(now) {
		if !r.Timer.IsArmed(a.RequestCode) {
			if err := r.Store.SetDismissed(a.ID, true); err != nil {
				log.Warn("marking alarm %s dismissed: %v", a.ID, err)
			}
		}
	}
}

// cleanupStale implements the post-pass of spec §4.6: alarms whose
// (eventId, ruleId) is no longer matched and whose event has left the
// current window are cancelled and deleted (if still in the future), and
// alarms more than 24h past their fire time are garbage collected.
func (r *Reconciler) cleanupStale(matches []matcher.Match, events []eventsource.CalendarEvent, now time.Time) {
	matched := make(map[string]bool, len(matches))
	for _, m := range matches {
		matched[m.Event.ID+"|"+m.Rule.ID] = true
	}
	inWindow := make(map[string]bool, len(events))
	for _, e := range events {
		inWindow[e.ID] = true
	}

	for _, a := range r.Store.AlarmsAll() {
		if a.RuleID == "" {
			continue // snooze alarms from FirePath are left to CleanupExpired
		}
		key := a.EventID + "|" + a.RuleID
		if matched[key] {
			continue
		}
		if inWindow[a.EventID] {
			continue
		}
		if a.AlarmTime.After(now) {
			r.Timer.Cancel(a.RequestCode)
			if err := r.Store.AlarmDelete(a.ID); err != nil {
				log.Warn("deleting stale alarm %s: %v", a.ID, err)
			}
		}
	}

	if _, err := r.Store.CleanupExpired(now.Add(-24 * time.Hour)); err != nil {
		log.Warn("cleaning up expired alarms: %v", err)
	}
}

// generateAlarmID derives a fresh, stable-enough id for a newly armed
// instance from the (eventId, ruleId, armed-at) triple.
func generateAlarmID(eventID, ruleID string, at time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", eventID, ruleID, at.UnixNano())
	return fmt.Sprintf("alarm-%x", h.Sum64())
}
