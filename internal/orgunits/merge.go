// Package orgunits merges an organizational unit's configured filter sections
// into a request filter before compilation. An org unit scopes dashboards to
// a slice of the organization: per-integration field constraints plus a user
// scope.
package orgunits

import (
	"sort"

	"github.com/google/uuid"

	"github.com/devlens-io/devlens/internal/filters"
)

// Section is one per-integration constraint block of an org unit. Empty
// sections are no-ops.
type Section struct {
	ID            uuid.UUID                       `json:"id"`
	IntegrationID int                             `json:"integration_id"`
	Inclusions    map[filters.Field][]string      `json:"inclusions,omitempty"`
	Partial       map[filters.Field]filters.Match `json:"partial,omitempty"`
	// Users is the canonical user-id scope; it intersects into the assignee
	// inclusion.
	Users []string `json:"users,omitempty"`
}

// Config is an org unit's filter configuration.
type Config struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Sections []Section `json:"sections,omitempty"`
	// Exclusions names fields removed from the merge entirely: the org unit
	// never constrains them even when sections mention them.
	Exclusions []filters.Field `json:"exclusions,omitempty"`
}

// Merge intersects the org unit's sections into the filter and returns the
// re-normalized result. Sections apply only when the filter's integration
// scope covers their integration id (an unscoped filter covers all). Merging
// is idempotent: applying the same config twice yields the same filter.
func Merge(f filters.Filter, cfg Config) (filters.Filter, error) {
	return f.Transform(func(c *filters.Criteria) {
		excluded := make(map[filters.Field]bool, len(cfg.Exclusions))
		for _, fld := range cfg.Exclusions {
			excluded[fld] = true
		}
		scope := make(map[int]bool, len(c.IntegrationIDs))
		for _, id := range c.IntegrationIDs {
			scope[id] = true
		}

		for _, sec := range cfg.Sections {
			if len(scope) > 0 && !scope[sec.IntegrationID] {
				continue
			}
			mergeSection(c, sec, excluded)
		}
	})
}

func mergeSection(c *filters.Criteria, sec Section, excluded map[filters.Field]bool) {
	for _, fld := range sortedFields(sec.Inclusions) {
		vals := sec.Inclusions[fld]
		if excluded[fld] || len(vals) == 0 {
			continue
		}
		intersectInclude(c, fld, vals)
	}

	for _, fld := range sortedFields(sec.Partial) {
		if excluded[fld] {
			continue
		}
		m := sec.Partial[fld]
		if m.IsZero() {
			continue
		}
		if c.Partial == nil {
			c.Partial = map[filters.Field]filters.Match{}
		}
		// Section operators fill in only what the request left unset, so the
		// request's own constraints always survive and re-merging is a no-op.
		cur := c.Partial[fld]
		if cur.Begins == "" {
			cur.Begins = m.Begins
		}
		if cur.Ends == "" {
			cur.Ends = m.Ends
		}
		if cur.Contains == "" {
			cur.Contains = m.Contains
		}
		c.Partial[fld] = cur
	}

	if len(sec.Users) > 0 && !excluded[filters.FieldAssignee] {
		intersectInclude(c, filters.FieldAssignee, sec.Users)
	}
}

// intersectInclude ANDs a value set into the filter's inclusion for a field.
// An unconstrained field adopts the set; a constrained field keeps only the
// overlap, possibly annihilating to an explicit match-nothing constraint.
func intersectInclude(c *filters.Criteria, fld filters.Field, vals []string) {
	if c.Include == nil {
		c.Include = map[filters.Field][]string{}
	}
	cur, ok := c.Include[fld]
	if !ok || cur == nil {
		c.Include[fld] = append([]string(nil), vals...)
		return
	}
	allowed := make(map[string]bool, len(vals))
	for _, v := range vals {
		allowed[v] = true
	}
	kept := make([]string, 0, len(cur))
	for _, v := range cur {
		if allowed[v] {
			kept = append(kept, v)
		}
	}
	c.Include[fld] = kept
}

func sortedFields[V any](m map[filters.Field]V) []filters.Field {
	out := make([]filters.Field, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
