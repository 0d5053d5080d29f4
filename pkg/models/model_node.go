package models

// ModelNode is a declared transformation unit of the project.
// Loaded once per run and read-only to the pipeline.
type ModelNode struct {
	Name            string   `json:"name"`
	UniqueID        string   `json:"unique_id,omitempty"`
	Path            string   `json:"path,omitempty"`
	Database        string   `json:"database,omitempty"`
	Schema          string   `json:"schema,omitempty"`
	Alias           string   `json:"alias,omitempty"`
	Materialization string   `json:"materialization,omitempty"`
	DependsOn       []string `json:"depends_on,omitempty"`
	Sources         []string `json:"sources,omitempty"`
	Columns         []string `json:"columns,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// RelationName returns the physical table name: the alias if set, otherwise the model name.
func (m *ModelNode) RelationName() string {
	if m.Alias != "" {
		return m.Alias
	}
	return m.Name
}

// Relations returns every identifier under which the backing table can be referenced:
// name, schema.name and database.schema.name.
func (m *ModelNode) Relations() []string {
	rel := m.RelationName()
	out := []string{rel}
	if m.Schema != "" {
		out = append(out, m.Schema+"."+rel)
		if m.Database != "" {
			out = append(out, m.Database+"."+m.Schema+"."+rel)
		}
	}
	return out
}

// SourceNode is a declared external table the project reads from.
type SourceNode struct {
	// Name is "<source_name>.<table_name>" as used in source() calls.
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Database   string `json:"database,omitempty"`
	Schema     string `json:"schema,omitempty"`
}

// Relations returns the identifiers under which the source table can be referenced.
func (s *SourceNode) Relations() []string {
	out := []string{s.Identifier}
	if s.Schema != "" {
		out = append(out, s.Schema+"."+s.Identifier)
		if s.Database != "" {
			out = append(out, s.Database+"."+s.Schema+"."+s.Identifier)
		}
	}
	return out
}
