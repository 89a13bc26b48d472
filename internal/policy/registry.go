package policy

import (
	"sort"
	"strings"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// Registry holds all selectable app categories.
// This is the in-memory catalog; selections refer to categories by id.
type Registry struct {
	categories map[string]AppCategory
}

// NewRegistry creates a registry with all default categories.
func NewRegistry() *Registry {
	r := &Registry{
		categories: make(map[string]AppCategory),
	}

	// Register default categories
	r.Register(NewShortVideoCategory())
	r.Register(NewSocialCategory())
	r.Register(NewGamesCategory())

	return r
}

// NewRegistryWithCategories creates a registry with custom categories (for testing).
func NewRegistryWithCategories(categories ...AppCategory) *Registry {
	r := &Registry{
		categories: make(map[string]AppCategory),
	}
	for _, c := range categories {
		r.Register(c)
	}
	return r
}

// Register adds a category to the registry.
func (r *Registry) Register(c AppCategory) {
	r.categories[strings.ToLower(c.ID())] = c
}

// Get returns a category by ID.
func (r *Registry) Get(id string) (AppCategory, bool) {
	c, ok := r.categories[strings.ToLower(id)]
	return c, ok
}

// GetAll returns all registered categories sorted by ID.
func (r *Registry) GetAll() []AppCategory {
	result := make([]AppCategory, 0, len(r.categories))
	for _, c := range r.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// List returns all category IDs.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.categories))
	for id := range r.categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Expand resolves applications and categories into process patterns.
// Applications are taken verbatim as patterns. Web domains and unknown
// categories cannot be enforced at the process level.
func (r *Registry) Expand(sel domain.Selection) Expansion {
	var exp Expansion
	seen := make(map[string]struct{})
	add := func(p string) {
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		exp.Patterns = append(exp.Patterns, p)
	}

	for _, app := range sel.Applications {
		add(app)
	}
	for _, id := range sel.Categories {
		c, ok := r.Get(id)
		if !ok {
			exp.Unenforceable = append(exp.Unenforceable, "category:"+id)
			continue
		}
		for _, p := range c.ProcessPatterns() {
			add(p)
		}
	}
	for _, d := range sel.WebDomains {
		exp.Unenforceable = append(exp.Unenforceable, "domain:"+d)
	}
	return exp
}

// Ensure Registry implements Expander.
var _ Expander = (*Registry)(nil)
