package filters

// Transform derives a new Filter by applying fn to a deep copy of the
// criteria, then re-validating and re-normalizing. The receiver is never
// mutated. The stacking engine and the org-unit merge adapter both derive
// their sub-filters this way.
func (f Filter) Transform(fn func(*Criteria)) (Filter, error) {
	c := cloneCriteria(f.Criteria)
	fn(&c)
	b := &Builder{c: c, schema: f.schema}
	return b.Build()
}

func cloneCriteria(c Criteria) Criteria {
	out := c
	out.IntegrationIDs = append([]int(nil), c.IntegrationIDs...)
	out.IngestedAt = cloneMap(c.IngestedAt)
	out.Include = cloneValuesMap(c.Include)
	out.Exclude = cloneValuesMap(c.Exclude)
	out.Partial = cloneMap(c.Partial)
	out.Ranges = cloneMap(c.Ranges)
	out.Missing = cloneMap(c.Missing)
	out.UpdatedRangeByIntegration = cloneMap(c.UpdatedRangeByIntegration)
	out.CustomFields = cloneStringValuesMap(c.CustomFields)
	out.ExcludeCustomFields = cloneStringValuesMap(c.ExcludeCustomFields)
	out.Stacks = append([]Field(nil), c.Stacks...)
	out.CustomStacks = append([]string(nil), c.CustomStacks...)
	out.Sort = append([]SortKey(nil), c.Sort...)
	if c.Or != nil {
		or := cloneCriteria(*c.Or)
		out.Or = &or
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneValuesMap(in map[Field][]string) map[Field][]string {
	if in == nil {
		return nil
	}
	out := make(map[Field][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func cloneStringValuesMap(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
