package keymap

import (
	"slices"
	"time"
)

// Field is a single column of a table.
type Field struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Schema is a table definition. ID is assigned by the server and is empty
// for tables that only exist inside a conversation. Field order is display
// relevant and preserved everywhere.
type Schema struct {
	ID          string
	Name        string
	Description string
	Type        string
	Fields      []Field
	CreatedAt   time.Time
}

// Clone returns a deep copy of s.
func (s Schema) Clone() Schema {
	s.Fields = slices.Clone(s.Fields)
	return s
}

// FieldIndex returns the position of the field called name, or -1.
func (s Schema) FieldIndex(name string) int {
	return slices.IndexFunc(s.Fields, func(f Field) bool { return f.Name == name })
}

// CloneSchemas returns a deep copy of schemas.
func CloneSchemas(schemas []Schema) []Schema {
	if schemas == nil {
		return nil
	}
	out := make([]Schema, len(schemas))
	for i, s := range schemas {
		out[i] = s.Clone()
	}
	return out
}

// Project groups the schemas a user has saved. Schemas is nil in listings.
type Project struct {
	ID          string
	Name        string
	Description string
	URL         string
	CreatedAt   time.Time
	Schemas     []Schema
}
