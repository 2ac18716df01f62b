// Package matcher implements the pure event/rule matching pipeline of
// spec §4.4: no I/O, no mutation, reads "now" exactly once.
package matcher

import (
	"sort"
	"time"

	"alarmsched/internal/clock"
	"alarmsched/internal/eventsource"
	"alarmsched/internal/rule"
	"alarmsched/internal/store"
)

// Match pairs an event with a rule that matched it and the alarm time
// the rule proposes.
type Match struct {
	Event            eventsource.CalendarEvent
	Rule             rule.Rule
	ProposedAlarmTime time.Time
}

// Evaluate runs the full seven-step matching algorithm of spec §4.4 and
// returns the result ordered by proposedAlarmTime ascending.
func Evaluate(events []eventsource.CalendarEvent, rules []rule.Rule, settings store.Settings, zone *time.Location, now time.Time) []Match {
	upcoming := make([]eventsource.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.Start.After(now) {
			upcoming = append(upcoming, e)
		}
	}

	candidates := make([]rule.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.IsValid() {
			candidates = append(candidates, r)
		}
	}

	var matches []Match
	for _, e := range upcoming {
		for _, r := range candidates {
			if !r.MatchesCalendar(e.CalendarID) {
				continue
			}
			if !r.MatchesTitle(e.Title) {
				continue
			}
			alarmTime := clock.ComputeAlarmTime(e.Start, e.AllDay, r.LeadTimeMinutes, settings.AllDayDefaultHour, settings.AllDayDefaultMinute, zone)
			if !alarmTime.After(now) {
				continue
			}
			matches = append(matches, Match{Event: e, Rule: r, ProposedAlarmTime: alarmTime})
		}
	}

	matches = applyFirstEventOfDayOnly(matches, zone, now)

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ProposedAlarmTime.Before(matches[j].ProposedAlarmTime)
	})
	return matches
}

// applyFirstEventOfDayOnly implements step 6: for rules flagged
// firstEventOfDayOnly, keep only the earliest-starting match per rule
// among those whose fire time falls in the current local day; ties break
// on eventId lexicographically.
func applyFirstEventOfDayOnly(matches []Match, zone *time.Location, now time.Time) []Match {
	todayStart := clock.StartOfLocalDay(now, zone)
	todayEnd := todayStart.Add(24 * time.Hour)

	bestByRule := make(map[string]int) // ruleId -> index into `matches` of the kept candidate
	drop := make(map[int]bool)

	for i, m := range matches {
		if !m.Rule.FirstEventOfDayOnly {
			continue
		}
		if m.ProposedAlarmTime.Before(todayStart) || !m.ProposedAlarmTime.Before(todayEnd) {
			continue
		}
		bestIdx, seen := bestByRule[m.Rule.ID]
		if !seen {
			bestByRule[m.Rule.ID] = i
			continue
		}
		best := matches[bestIdx]
		if earlierMatch(m, best) {
			drop[bestIdx] = true
			bestByRule[m.Rule.ID] = i
		} else {
			drop[i] = true
		}
	}

	if len(drop) == 0 {
		return matches
	}
	out := make([]Match, 0, len(matches)-len(drop))
	for i, m := range matches {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}

func earlierMatch(a, b Match) bool {
	if !a.Event.Start.Equal(b.Event.Start) {
		return a.Event.Start.Before(b.Event.Start)
	}
	return a.Event.ID < b.Event.ID
}
