package domain

import (
	"slices"
	"sort"
	"strings"
)

// Settings ranges. Every write clamps into these bounds.
const (
	MinThresholdMinutes = 1
	MaxThresholdMinutes = 60
	MinCooldownMinutes  = 1
	MaxCooldownMinutes  = 30
	MinBreakSeconds     = 30
	MaxBreakSeconds     = 300
	MinOverridesPerDay  = 0
	MaxOverridesPerDay  = 5
	MinOverrideMinutes  = 1
	MaxOverrideMinutes  = 10
)

// Selection is the set of apps, catalog categories and web domains to watch.
// The core never looks inside it beyond IsEmpty; it is handed to the shield as-is.
type Selection struct {
	Applications []string `json:"applications,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	WebDomains   []string `json:"webDomains,omitempty"`
}

// IsEmpty reports whether nothing has been selected.
func (s Selection) IsEmpty() bool {
	return len(s.Applications) == 0 && len(s.Categories) == 0 && len(s.WebDomains) == 0
}

// Count returns the total number of selected tokens.
func (s Selection) Count() int {
	return len(s.Applications) + len(s.Categories) + len(s.WebDomains)
}

// Equal compares two selections list by list.
func (s Selection) Equal(o Selection) bool {
	return slices.Equal(s.Applications, o.Applications) &&
		slices.Equal(s.Categories, o.Categories) &&
		slices.Equal(s.WebDomains, o.WebDomains)
}

// Normalize trims, de-duplicates and sorts every list.
func (s Selection) Normalize() Selection {
	return Selection{
		Applications: normalizeTokens(s.Applications, false),
		Categories:   normalizeTokens(s.Categories, true),
		WebDomains:   normalizeTokens(s.WebDomains, true),
	}
}

func normalizeTokens(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if lower {
			t = strings.ToLower(t)
		}
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Settings are the user-owned thresholds and quotas.
type Settings struct {
	MonitoredSelection     Selection `json:"monitoredSelection"`
	ThresholdMinutes       int       `json:"thresholdMinutes"`
	CooldownMinutes        int       `json:"cooldownMinutes"`
	BreakSeconds           int       `json:"breakSeconds"` // advisory only
	SoftModeEnabled        bool      `json:"softModeEnabled"`
	OverridesPerDay        int       `json:"overridesPerDay"`
	OverrideMinutes        int       `json:"overrideMinutes"`
	HasCompletedOnboarding bool      `json:"hasCompletedOnboarding"`
}

// DefaultSettings returns the first-launch settings.
func DefaultSettings() Settings {
	return Settings{
		ThresholdMinutes: 15,
		CooldownMinutes:  5,
		BreakSeconds:     60,
		SoftModeEnabled:  true,
		OverridesPerDay:  3,
		OverrideMinutes:  2,
	}
}

// Validate returns a copy with every numeric field clamped into range.
func (s Settings) Validate() Settings {
	s.MonitoredSelection = s.MonitoredSelection.Normalize()
	s.ThresholdMinutes = clamp(s.ThresholdMinutes, MinThresholdMinutes, MaxThresholdMinutes)
	s.CooldownMinutes = clamp(s.CooldownMinutes, MinCooldownMinutes, MaxCooldownMinutes)
	s.BreakSeconds = clamp(s.BreakSeconds, MinBreakSeconds, MaxBreakSeconds)
	s.OverridesPerDay = clamp(s.OverridesPerDay, MinOverridesPerDay, MaxOverridesPerDay)
	s.OverrideMinutes = clamp(s.OverrideMinutes, MinOverrideMinutes, MaxOverrideMinutes)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
