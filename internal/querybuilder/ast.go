// Package querybuilder compiles filter value objects into parameterized
// Postgres statements: per-table predicate lists, a calculation-specific
// aggregate projection, grouping, ordering, and pagination.
//
// Conditions are built as SQL fragments with :name placeholders bound in a
// Params bag; Render resolves names to pgx positional arguments at the end.
// Tests assert on structure (tables touched, predicates present, parameters
// bound), not on the full rendered text.
package querybuilder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
)

// Params is a named-parameter bag shared by every fragment of one statement.
type Params struct {
	values map[string]any
}

// NewParams creates an empty bag.
func NewParams() *Params {
	return &Params{values: map[string]any{}}
}

// Set binds a value to a name. Rebinding a name is a programming error and
// panics: two fragments silently sharing a name would corrupt the statement.
func (p *Params) Set(name string, value any) {
	if _, ok := p.values[name]; ok {
		panic(fmt.Sprintf("querybuilder: parameter %q bound twice", name))
	}
	p.values[name] = value
}

// Value returns the bound value for a name.
func (p *Params) Value(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns all bound names in sorted order.
func (p *Params) Names() []string {
	out := make([]string, 0, len(p.values))
	for n := range p.values {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of bound parameters.
func (p *Params) Len() int {
	return len(p.values)
}

// ConditionSet holds the ordered predicate lists per logical table family
// plus the shared parameter bag.
type ConditionSet struct {
	tables map[filters.TableKind][]string
	params *Params
}

// NewConditionSet creates an empty set backed by the given bag.
func NewConditionSet(params *Params) *ConditionSet {
	return &ConditionSet{
		tables: map[filters.TableKind][]string{},
		params: params,
	}
}

// Add appends a predicate to a table's list.
func (cs *ConditionSet) Add(t filters.TableKind, sql string) {
	cs.tables[t] = append(cs.tables[t], sql)
}

// Table returns the ordered predicates for a table family.
func (cs *ConditionSet) Table(t filters.TableKind) []string {
	return cs.tables[t]
}

// Tables returns the table families with at least one predicate, in
// deterministic order.
func (cs *ConditionSet) Tables() []filters.TableKind {
	out := make([]filters.TableKind, 0, len(cs.tables))
	for t, preds := range cs.tables {
		if len(preds) > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params returns the shared bag.
func (cs *ConditionSet) Params() *Params {
	return cs.params
}

// Where joins a table's predicates into one AND expression, or "TRUE" when
// the table is unconstrained.
func (cs *ConditionSet) Where(t filters.TableKind) string {
	preds := cs.tables[t]
	if len(preds) == 0 {
		return "TRUE"
	}
	return strings.Join(preds, " AND ")
}

// Statement is a rendered, executable query.
type Statement struct {
	SQL  string
	Args []any
}

// Render resolves :name placeholders to $n positional arguments in order of
// first appearance. A name may appear multiple times and maps to a single
// argument. Double colons (casts like ::text) are left untouched. A
// placeholder with no bound value is an error.
func Render(sql string, params *Params) (Statement, error) {
	var b strings.Builder
	b.Grow(len(sql))
	positions := map[string]int{}
	var args []any

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch != ':' {
			b.WriteByte(ch)
			continue
		}
		// '::' is a Postgres cast, never a placeholder.
		if i+1 < len(sql) && sql[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}
		start := i + 1
		end := start
		for end < len(sql) && isNameByte(sql[end]) {
			end++
		}
		if end == start {
			b.WriteByte(ch)
			continue
		}
		name := sql[start:end]
		pos, seen := positions[name]
		if !seen {
			v, ok := params.Value(name)
			if !ok {
				return Statement{}, fmt.Errorf("querybuilder: placeholder :%s has no bound value", name)
			}
			args = append(args, v)
			pos = len(args)
			positions[name] = pos
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(pos))
		i = end - 1
	}
	return Statement{SQL: b.String(), Args: args}, nil
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
