// Package policy implements the Strategy pattern for app categories.
// Each category (short video, social, games) names the process patterns
// that a selection token like "short-video" expands to.
package policy

import (
	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// AppCategory defines the strategy interface for one selectable category.
type AppCategory interface {
	// ID returns unique identifier (e.g., "short-video", "social").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// ProcessPatterns returns process names that belong to the category.
	// Patterns are matched case-insensitively.
	ProcessPatterns() []string
}

// Category is a fixed list of process patterns under one id.
type Category struct {
	id       string
	name     string
	patterns []string
}

// NewCategory creates a category from a literal pattern list.
func NewCategory(id, name string, patterns ...string) *Category {
	return &Category{id: id, name: name, patterns: patterns}
}

func (c *Category) ID() string   { return c.id }
func (c *Category) Name() string { return c.name }

func (c *Category) ProcessPatterns() []string {
	out := make([]string, len(c.patterns))
	copy(out, c.patterns)
	return out
}

// Expansion is a selection resolved into process patterns.
type Expansion struct {
	Patterns []string
	// Unenforceable lists tokens that have no process form (web domains, unknown categories).
	Unenforceable []string
}

// Expander turns an opaque selection into process patterns.
type Expander interface {
	Expand(sel domain.Selection) Expansion
}
