// Package rulemanager implements the RuleAlarmManager of spec §4.9:
// user-initiated rule edits cascade into reconciliation for only the
// affected rule, so edits feel immediate instead of waiting on the next
// bulk RefreshDriver pass.
package rulemanager

import (
	"context"
	"fmt"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/logging"
	"alarmsched/internal/matcher"
	"alarmsched/internal/reconciler"
	"alarmsched/internal/rule"
	"alarmsched/internal/schederr"
	"alarmsched/internal/store"
)

var log = logging.New("rulemanager")

const (
	opDisable = "disable"
	opEnable  = "enable"
	opEdit    = "edit"
)

// CascadeResult summarizes a cascade operation's effect, per spec §4.9.
type CascadeResult struct {
	Cancelled int
	Scheduled int
	Failed    int
}

// Manager wires rule edits to the Store, Timer (via Reconciler), and
// EventSource, serializing per-rule operations on the Reconciler's
// reentrancy lock.
type Manager struct {
	Store      store.Store
	Source     eventsource.EventSource
	Reconciler *reconciler.Reconciler
	Clock      clock.Clock
	Zone       *time.Location
}

// New builds a Manager.
func New(st store.Store, src eventsource.EventSource, rec *reconciler.Reconciler, clk clock.Clock, zone *time.Location) *Manager {
	if zone == nil {
		zone = time.Local
	}
	return &Manager{Store: st, Source: src, Reconciler: rec, Clock: clk, Zone: zone}
}

// DisableRule cancels every armed alarm for r and marks it disabled in the
// Store, without deleting the rule row itself.
func (m *Manager) DisableRule(r rule.Rule) (CascadeResult, error) {
	if !m.Reconciler.TryLockRuleOp(r.ID, opDisable) {
		return CascadeResult{}, schederr.ErrOperationInFlight
	}
	result := m.disableCascade(r.ID)
	r.Enabled = false
	if err := m.Store.RulePut(r); err != nil {
		return result, fmt.Errorf("%w: disabling rule %s", err, r.ID)
	}
	return result, nil
}

// DeleteRule cancels every armed alarm for ruleID and removes the rule
// row entirely.
func (m *Manager) DeleteRule(ruleID string) (CascadeResult, error) {
	if !m.Reconciler.TryLockRuleOp(ruleID, opDisable) {
		return CascadeResult{}, schederr.ErrOperationInFlight
	}
	result := m.disableCascade(ruleID)
	if err := m.Store.RuleDelete(ruleID); err != nil {
		return result, fmt.Errorf("%w: deleting rule %s", err, ruleID)
	}
	return result, nil
}

// disableCascade cancels and deletes every alarm belonging to ruleID,
// per spec §4.9's "disable or delete rule" procedure. The reentrancy
// lock is assumed already held by the caller.
func (m *Manager) disableCascade(ruleID string) CascadeResult {
	var result CascadeResult
	for _, a := range m.Store.AlarmsAll() {
		if a.RuleID != ruleID {
			continue
		}
		m.Reconciler.Timer.Cancel(a.RequestCode)
		if err := m.Store.AlarmDelete(a.ID); err != nil {
			log.Warn("deleting alarm %s during disable cascade for rule %s: %v", a.ID, ruleID, err)
			continue
		}
		result.Cancelled++
	}
	return result
}

// EnableRule marks r enabled, queries the EventSource for the current
// lookahead window, runs the Matcher restricted to {r}, and feeds the
// resulting matches through the Reconciler's per-match path.
func (m *Manager) EnableRule(ctx context.Context, r rule.Rule) (CascadeResult, error) {
	if !m.Reconciler.TryLockRuleOp(r.ID, opEnable) {
		return CascadeResult{}, schederr.ErrOperationInFlight
	}

	r.Enabled = true
	if err := m.Store.RulePut(r); err != nil {
		return CascadeResult{}, fmt.Errorf("%w: enabling rule %s", err, r.ID)
	}

	return m.enableCascade(ctx, r)
}

func (m *Manager) enableCascade(ctx context.Context, r rule.Rule) (CascadeResult, error) {
	now := m.Clock.NowUTC()
	windowEnd := now.Add(eventsource.LookaheadWindow)

	events, err := m.Source.Upcoming(ctx, now, windowEnd, r.CalendarIDs, nil)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("%w: querying events for rule %s", err, r.ID)
	}

	settings := m.Store.SettingsGet()
	matches := matcher.Evaluate(events, []rule.Rule{r}, settings, m.Zone, now)

	applied := m.Reconciler.ApplyMatches(matches, now)
	return CascadeResult{Scheduled: applied.Scheduled, Failed: applied.Failed}, nil
}

// EditRule performs a disable-cascade on oldR, writes newR, then performs
// an enable-cascade on newR, per spec §4.9.
func (m *Manager) EditRule(ctx context.Context, oldR, newR rule.Rule) (CascadeResult, error) {
	if !m.Reconciler.TryLockRuleOp(oldR.ID, opEdit) {
		return CascadeResult{}, schederr.ErrOperationInFlight
	}

	disableResult := m.disableCascade(oldR.ID)

	if err := m.Store.RulePut(newR); err != nil {
		return disableResult, fmt.Errorf("%w: writing edited rule %s", err, newR.ID)
	}

	enableResult, err := m.enableCascade(ctx, newR)
	if err != nil {
		return CascadeResult{Cancelled: disableResult.Cancelled}, err
	}

	return CascadeResult{
		Cancelled: disableResult.Cancelled,
		Scheduled: enableResult.Scheduled,
		Failed:    enableResult.Failed,
	}, nil
}
