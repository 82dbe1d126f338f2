package querybuilder

import (
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
)

// escapeLike escapes LIKE wildcard characters in a user-supplied value so it
// matches literally inside a pattern.
func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

// partialMatchConditions emits the LIKE predicates for one field's partial
// match spec. All supplied operators AND together. Matching is
// case-sensitive; values are escaped and wrapped per operator.
func partialMatchConditions(cs *ConditionSet, col filters.Column, table filters.TableKind, m filters.Match, paramBase string) {
	expr := col.Name
	if m.Begins != "" {
		p := paramBase + "_begins"
		cs.Add(table, expr+" LIKE :"+p)
		cs.Params().Set(p, escapeLike(m.Begins)+"%")
	}
	if m.Ends != "" {
		p := paramBase + "_ends"
		cs.Add(table, expr+" LIKE :"+p)
		cs.Params().Set(p, "%"+escapeLike(m.Ends))
	}
	if m.Contains != "" {
		p := paramBase + "_contains"
		cs.Add(table, expr+" LIKE :"+p)
		cs.Params().Set(p, "%"+escapeLike(m.Contains)+"%")
	}
}
