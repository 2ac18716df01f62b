package rulemanager

import (
	"fmt"
	"os"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"
	"gopkg.in/yaml.v3"

	"alarmsched/internal/rule"
)

// ruleDocument is the on-disk YAML shape for a ruleset, mirroring the
// teacher's human-editable config/template file convention.
type ruleDocument struct {
	Rules []ruleEntry `yaml:"rules"`
}

// ruleEntry authors lead time as an ISO-8601 duration string (e.g. "PT30M")
// instead of a bare integer, so a hand-edited ruleset reads the way a
// hand-edited config file does.
type ruleEntry struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Pattern             string   `yaml:"pattern"`
	CalendarIDs         []string `yaml:"calendar_ids,omitempty"`
	LeadTime            string   `yaml:"lead_time"`
	Enabled             bool     `yaml:"enabled"`
	FirstEventOfDayOnly bool     `yaml:"first_event_of_day_only"`
}

// ExportRules writes every rule in the Store to path as human-editable
// YAML, lead times expressed as ISO-8601 durations.
func (m *Manager) ExportRules(path string) error {
	rules := m.Store.RulesAll()
	doc := ruleDocument{Rules: make([]ruleEntry, 0, len(rules))}
	for _, r := range rules {
		doc.Rules = append(doc.Rules, ruleEntry{
			ID:                  r.ID,
			Name:                r.Name,
			Pattern:             r.Pattern,
			CalendarIDs:         r.CalendarIDs,
			LeadTime:            formatISO8601Minutes(r.LeadTimeMinutes),
			Enabled:             r.Enabled,
			FirstEventOfDayOnly: r.FirstEventOfDayOnly,
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling rule export: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing rule export to %s: %w", path, err)
	}
	return nil
}

// ImportRules reads a YAML ruleset from path, parses each lead time as an
// ISO-8601 duration via ChannelMeter/iso8601duration, and writes every
// rule to the Store. A rule with an unparseable duration or that fails
// validation is skipped and reported, not fatal to the whole import.
func (m *Manager) ImportRules(path string) (imported int, skipped []string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("reading rule import %s: %w", path, err)
	}

	var doc ruleDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, nil, fmt.Errorf("parsing rule import %s: %w", path, err)
	}

	now := time.Now().UTC()
	for _, e := range doc.Rules {
		leadMinutes, parseErr := parseISO8601Minutes(e.LeadTime)
		if parseErr != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", e.Name, parseErr))
			continue
		}

		r := rule.New(e.ID, e.Name, e.Pattern, e.CalendarIDs, leadMinutes, e.Enabled, e.FirstEventOfDayOnly, now)
		if !r.IsValid() {
			skipped = append(skipped, fmt.Sprintf("%s: %s", e.Name, r.Validate().Message))
			continue
		}

		if err := m.Store.RulePut(r); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", e.Name, err))
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

// parseISO8601Minutes parses an ISO-8601 duration string (e.g. "PT30M",
// "PT1H") into whole minutes, rounding down any sub-minute remainder.
func parseISO8601Minutes(s string) (int, error) {
	d, err := duration.FromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	minutes := int(d.ToDuration().Minutes())
	if minutes < rule.MinLeadTimeMinutes || minutes > rule.MaxLeadTimeMinutes {
		return 0, fmt.Errorf("lead time %q resolves to %d minutes, outside [%d, %d]", s, minutes, rule.MinLeadTimeMinutes, rule.MaxLeadTimeMinutes)
	}
	return minutes, nil
}

// formatISO8601Minutes renders whole minutes as an ISO-8601 duration,
// splitting out whole hours for readability (e.g. 90 -> "PT1H30M").
func formatISO8601Minutes(minutes int) string {
	hours := minutes / 60
	rem := minutes % 60
	switch {
	case hours > 0 && rem > 0:
		return fmt.Sprintf("PT%dH%dM", hours, rem)
	case hours > 0:
		return fmt.Sprintf("PT%dH", hours)
	default:
		return fmt.Sprintf("PT%dM", minutes)
	}
}
