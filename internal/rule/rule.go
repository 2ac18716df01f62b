// Package rule holds the Rule entity (spec §3) and its validation.
package rule

import (
	"regexp"
	"strings"
	"time"
)

const (
	MinLeadTimeMinutes = 1
	MaxLeadTimeMinutes = 10_080 // 7 days
)

// regexMetaChars is the character set whose presence auto-derives IsRegex,
// per spec §3: "* + ? ^ $ { } [ ] ( ) | \".
const regexMetaChars = `*+?^${}[]()|\`

// Rule is a user-defined match criterion that cascades into armed alarms
// for any matching calendar event.
type Rule struct {
	ID                  string
	Name                string
	Pattern             string
	IsRegex             bool
	CalendarIDs         []string // empty = all calendars
	LeadTimeMinutes     int
	Enabled             bool
	FirstEventOfDayOnly bool
	CreatedAt           time.Time

	compiled   *regexp.Regexp
	compileErr error
}

// DeriveIsRegex reports whether pattern contains any regex metacharacter
// from spec §3's set, which is how IsRegex is auto-detected.
func DeriveIsRegex(pattern string) bool {
	return strings.ContainsAny(pattern, regexMetaChars)
}

// New builds a Rule with IsRegex auto-derived from pattern.
func New(id, name, pattern string, calendarIDs []string, leadTimeMinutes int, enabled, firstEventOfDayOnly bool, createdAt time.Time) Rule {
	r := Rule{
		ID:                  id,
		Name:                name,
		Pattern:             pattern,
		IsRegex:             DeriveIsRegex(pattern),
		CalendarIDs:         calendarIDs,
		LeadTimeMinutes:     leadTimeMinutes,
		Enabled:             enabled,
		FirstEventOfDayOnly: firstEventOfDayOnly,
		CreatedAt:           createdAt,
	}
	r.compile()
	return r
}

// EnsureCompiled (re)builds the cached regexp after a Rule is deserialized
// from storage, where the unexported compiled/compileErr fields are lost.
func (r *Rule) EnsureCompiled() {
	r.IsRegex = DeriveIsRegex(r.Pattern)
	r.compiled = nil
	r.compileErr = nil
	r.compile()
}

// compile pre-builds the case-insensitive regexp for IsRegex patterns.
// Invalid regexes are recorded, never panicked on — spec §4.4 requires an
// invalid regex to yield "no match", never an error.
func (r *Rule) compile() {
	if !r.IsRegex {
		return
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		r.compileErr = err
		return
	}
	r.compiled = re
}

// ValidationResult is the tagged-variant result of Validate, per the
// design note on sealed cases (Valid / Invalid(msg)).
type ValidationResult struct {
	Valid   bool
	Message string
}

// Validate checks the invariants from spec §3: name non-empty, pattern
// non-empty, lead-time in [1, 10080].
func (r Rule) Validate() ValidationResult {
	if strings.TrimSpace(r.Name) == "" {
		return ValidationResult{Valid: false, Message: "name must not be empty"}
	}
	if r.Pattern == "" {
		return ValidationResult{Valid: false, Message: "pattern must not be empty"}
	}
	if r.LeadTimeMinutes < MinLeadTimeMinutes || r.LeadTimeMinutes > MaxLeadTimeMinutes {
		return ValidationResult{Valid: false, Message: "lead time must be between 1 and 10080 minutes"}
	}
	return ValidationResult{Valid: true}
}

// IsValid is a convenience boolean wrapper around Validate.
func (r Rule) IsValid() bool {
	return r.Validate().Valid
}

// MatchesCalendar reports whether the rule applies to calendarID: an empty
// CalendarIDs list matches everything.
func (r Rule) MatchesCalendar(calendarID string) bool {
	if len(r.CalendarIDs) == 0 {
		return true
	}
	for _, id := range r.CalendarIDs {
		if id == calendarID {
			return true
		}
	}
	return false
}

// MatchesTitle reports whether the rule's pattern matches title, using a
// case-insensitive substring test for literal patterns and a
// case-insensitive, anchored-nowhere regex for IsRegex patterns. An invalid
// regex never matches (and never errors), per spec §4.4 and §8 scenario 5.
func (r Rule) MatchesTitle(title string) bool {
	if !r.IsRegex {
		return strings.Contains(strings.ToLower(title), strings.ToLower(r.Pattern))
	}
	if r.compileErr != nil || r.compiled == nil {
		return false
	}
	return r.compiled.MatchString(title)
}
