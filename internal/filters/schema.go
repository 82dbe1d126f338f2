package filters

// TableKind identifies the logical table family a predicate targets. The
// query assembler decides the physical table name and joins.
type TableKind string

const (
	TableEntity   TableKind = "entity"
	TableStatuses TableKind = "statuses"
	TableSprints  TableKind = "sprints"
	TableVersions TableKind = "versions"
	TableLinks    TableKind = "links"
	TableUsers    TableKind = "users"
)

// Column describes how a filter field maps onto storage.
type Column struct {
	Name    string
	Table   TableKind
	Array   bool // Postgres array column: inclusion uses && overlap
	Numeric bool
	Time    bool // epoch-seconds column usable in ranges
	Upper   bool // compare upper-cased (e.g. sprint states)
	// IDName is the companion id column for user-like fields. When set,
	// grouping by this field keys on the id and reports Name as the
	// human-readable additional key.
	IDName string
}

// Schema describes one data family: its entity table, recognized fields,
// groupable dimensions, and supported calculations.
type Schema struct {
	// Name identifies the family ("issues", "pull_requests", ...).
	Name string
	// Table is the unqualified primary entity table name.
	Table string
	// IDColumn is the entity primary key used by COUNT(DISTINCT ...).
	IDColumn string
	// CreatedColumn anchors the age calculation, "" when unsupported.
	CreatedColumn string
	// CustomColumn is the JSONB custom-field container, "" when the family
	// has no per-tenant custom fields.
	CustomColumn string

	Columns      map[Field]Column
	Dimensions   map[Field]bool
	Calculations map[CalcKind]bool
}

// Column resolves a field, reporting whether the schema recognizes it.
func (s Schema) ColumnFor(f Field) (Column, bool) {
	c, ok := s.Columns[f]
	return c, ok
}

// GroupableBy reports whether results may be grouped by the dimension.
func (s Schema) GroupableBy(f Field) bool {
	if f == DimensionNone || f == DimensionCustomField {
		return s.CustomColumn != "" || f == DimensionNone
	}
	return s.Dimensions[f]
}

// Supports reports whether the family supports the calculation kind.
func (s Schema) Supports(k CalcKind) bool {
	return s.Calculations[k]
}
