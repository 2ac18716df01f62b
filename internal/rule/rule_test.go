package rule

import (
	"testing"
	"time"
)

func TestDeriveIsRegex(t *testing.T) {
	cases := map[string]bool{
		"standup":     false,
		"team sync":   false,
		"[abc":        true,
		"foo|bar":     true,
		"a+b":         true,
		"plain text.": false,
	}
	for pattern, want := range cases {
		if got := DeriveIsRegex(pattern); got != want {
			t.Errorf("DeriveIsRegex(%q) = %v, want %v", pattern, got, want)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	base := New("r1", "Standup", "standup", nil, 30, true, false, time.Now())
	if !base.IsValid() {
		t.Fatalf("expected valid rule, got %+v", base.Validate())
	}

	empty := New("r2", "", "standup", nil, 30, true, false, time.Now())
	if empty.IsValid() {
		t.Fatal("expected invalid rule for empty name")
	}

	noPattern := New("r3", "Name", "", nil, 30, true, false, time.Now())
	if noPattern.IsValid() {
		t.Fatal("expected invalid rule for empty pattern")
	}

	tooLong := New("r4", "Name", "standup", nil, MaxLeadTimeMinutes+1, true, false, time.Now())
	if tooLong.IsValid() {
		t.Fatal("expected invalid rule for lead time over 10080")
	}

	boundary := New("r5", "Name", "standup", nil, MaxLeadTimeMinutes, true, false, time.Now())
	if !boundary.IsValid() {
		t.Fatal("expected 10080 minutes to be valid")
	}
}

func TestMatchesTitleLiteral(t *testing.T) {
	r := New("r1", "Standup", "standup", nil, 30, true, false, time.Now())
	if !r.MatchesTitle("Team Standup") {
		t.Error("expected case-insensitive substring match")
	}
	if r.MatchesTitle("Retro") {
		t.Error("expected no match")
	}
}

func TestMatchesTitleInvalidRegexNeverMatchesNeverPanics(t *testing.T) {
	r := New("r1", "Broken", "[abc", nil, 30, true, false, time.Now())
	if !r.IsRegex {
		t.Fatal("expected pattern with '[' to be auto-detected as regex")
	}
	if r.MatchesTitle("abc") {
		t.Error("invalid regex must never match")
	}
}

func TestMatchesCalendarEmptyMeansAll(t *testing.T) {
	r := New("r1", "Name", "x", nil, 30, true, false, time.Now())
	if !r.MatchesCalendar("any-calendar") {
		t.Error("empty CalendarIDs should match every calendar")
	}

	r2 := New("r2", "Name", "x", []string{"cal-1"}, 30, true, false, time.Now())
	if !r2.MatchesCalendar("cal-1") || r2.MatchesCalendar("cal-2") {
		t.Error("non-empty CalendarIDs should restrict matches")
	}
}

func TestEnsureCompiledAfterDeserialize(t *testing.T) {
	r := Rule{ID: "r1", Name: "N", Pattern: "foo|bar", LeadTimeMinutes: 5}
	r.EnsureCompiled()
	if !r.IsRegex {
		t.Fatal("expected regex detection after EnsureCompiled")
	}
	if !r.MatchesTitle("has foo in it") {
		t.Error("expected regex match after EnsureCompiled")
	}
}
