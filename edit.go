package keymap

import (
	"fmt"
	"strings"
)

// Attribute names an editable string attribute of a schema or a field.
type Attribute int

const (
	AttrName Attribute = iota + 1
	AttrType
	AttrDescription
)

// String returns the attribute's wire name.
func (a Attribute) String() string {
	switch a {
	case AttrName:
		return "name"
	case AttrType:
		return "type"
	case AttrDescription:
		return "description"
	default:
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
}

func parseAttribute(s string) (Attribute, bool) {
	switch s {
	case "name":
		return AttrName, true
	case "type":
		return AttrType, true
	case "description":
		return AttrDescription, true
	}
	return 0, false
}

// EditTarget is a sealed interface identifying what an edit changes.
// The unexported marker method prevents external implementations.
//
// Key returns a stable encoding used to deduplicate edits. Get reads the
// target's current value from a schema and Set writes it; both report false
// when the target does not exist in that schema.
type EditTarget interface {
	isEditTarget()
	Key() string
	Get(s Schema) (string, bool)
	Set(s *Schema, value string) bool
}

// SchemaAttribute targets an attribute of the schema itself.
type SchemaAttribute struct {
	Attr Attribute
}

func (SchemaAttribute) isEditTarget() {}

// Key returns the attribute name.
func (t SchemaAttribute) Key() string { return t.Attr.String() }

// Get returns the attribute's value.
func (t SchemaAttribute) Get(s Schema) (string, bool) {
	switch t.Attr {
	case AttrName:
		return s.Name, true
	case AttrType:
		return s.Type, true
	case AttrDescription:
		return s.Description, true
	}
	return "", false
}

// Set assigns the attribute's value.
func (t SchemaAttribute) Set(s *Schema, value string) bool {
	switch t.Attr {
	case AttrName:
		s.Name = value
	case AttrType:
		s.Type = value
	case AttrDescription:
		s.Description = value
	default:
		return false
	}
	return true
}

// FieldAttribute targets an attribute of one field. Field is the field's
// name as last delivered by the server, so renaming a field does not change
// how later edits to it are addressed.
type FieldAttribute struct {
	Field string
	Attr  Attribute
}

func (FieldAttribute) isEditTarget() {}

// Key returns "<attr>-<field>".
func (t FieldAttribute) Key() string { return t.Attr.String() + "-" + t.Field }

// Get returns the field attribute's value.
func (t FieldAttribute) Get(s Schema) (string, bool) {
	i := s.FieldIndex(t.Field)
	if i < 0 {
		return "", false
	}
	f := s.Fields[i]
	switch t.Attr {
	case AttrName:
		return f.Name, true
	case AttrType:
		return f.Type, true
	case AttrDescription:
		return f.Description, true
	}
	return "", false
}

// Set assigns the field attribute's value.
func (t FieldAttribute) Set(s *Schema, value string) bool {
	i := s.FieldIndex(t.Field)
	if i < 0 {
		return false
	}
	return t.SetAt(s, i, value)
}

// SetAt assigns the attribute of the field at index i.
func (t FieldAttribute) SetAt(s *Schema, i int, value string) bool {
	if i < 0 || i >= len(s.Fields) {
		return false
	}
	switch t.Attr {
	case AttrName:
		s.Fields[i].Name = value
	case AttrType:
		s.Fields[i].Type = value
	case AttrDescription:
		s.Fields[i].Description = value
	default:
		return false
	}
	return true
}

// ParseTarget decodes the string form of an edit target: "name", "type" or
// "description" for schema attributes, "<attr>-<field>" for field attributes.
func ParseTarget(s string) (EditTarget, error) {
	if attr, ok := parseAttribute(s); ok {
		return SchemaAttribute{Attr: attr}, nil
	}
	prefix, field, ok := strings.Cut(s, "-")
	if !ok || field == "" {
		return nil, fmt.Errorf("invalid edit target %q: %w", s, ErrValidation)
	}
	attr, ok := parseAttribute(prefix)
	if !ok {
		return nil, fmt.Errorf("invalid edit target %q: %w", s, ErrValidation)
	}
	return FieldAttribute{Field: field, Attr: attr}, nil
}

// EditRecord is one pending, unsaved edit. Previous is the server's value
// for the target; Pending is what the user wants it to become.
type EditRecord struct {
	SchemaID string
	Target   EditTarget
	Previous string
	Pending  string
}

// Interface compliance checks.
var (
	_ EditTarget = SchemaAttribute{}
	_ EditTarget = FieldAttribute{}
)
