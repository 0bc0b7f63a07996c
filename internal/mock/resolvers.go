// Package mock synthesizes schema-conformant GraphQL responses from cached
// schemas and layered resolver maps.
package mock

// ResolverMap maps a type name to its field values. A field value is either
// a leaf value used verbatim or a nested map consulted while resolving the
// field's sub-selection.
type ResolverMap map[string]map[string]any

// MockSource is a loaded resolver configuration: a subgraph-agnostic
// `_globals` layer plus per-subgraph maps.
type MockSource struct {
	Globals   ResolverMap
	Subgraphs map[string]ResolverMap
}

// ForSubgraph flattens the layered maps for one subgraph. Later layers win
// per type name; replacement is whole-type, never field-level merging.
func (s *MockSource) ForSubgraph(name string, overrides ResolverMap) ResolverMap {
	merged := make(ResolverMap)
	if s != nil {
		for t, fields := range s.Globals {
			merged[t] = fields
		}
		for t, fields := range s.Subgraphs[name] {
			merged[t] = fields
		}
	}
	for t, fields := range overrides {
		merged[t] = fields
	}
	return merged
}

// parseResolverMap converts a decoded YAML/JSON mapping into a ResolverMap,
// skipping entries that are not two-level maps.
func parseResolverMap(raw any) ResolverMap {
	typed, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(ResolverMap, len(typed))
	for typeName, fieldsRaw := range typed {
		fields, ok := fieldsRaw.(map[string]any)
		if !ok {
			continue
		}
		out[typeName] = fields
	}
	return out
}
