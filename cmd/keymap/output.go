package main

import (
	"fmt"
	"io"

	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	keymapjson "github.com/fwojciec/keymap/json"
	"gopkg.in/yaml.v3"
)

// projectDoc is the YAML rendering of a schema list.
type projectDoc struct {
	Title  string      `yaml:"title,omitempty"`
	Tables []schemaDoc `yaml:"tables"`
}

type schemaDoc struct {
	ID          string     `yaml:"id,omitempty"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Type        string     `yaml:"type,omitempty"`
	Unsaved     bool       `yaml:"unsaved,omitempty"`
	Fields      []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description,omitempty"`
}

// writeSchemas renders schemas in format. dirty lists schema ids with
// unsaved edits.
func writeSchemas(w io.Writer, format, title string, schemas []keymap.Schema, dirty []string) error {
	switch format {
	case "", "table":
		view := bt.NewTablesBlock(title, schemas, dirty, bt.NewStyles(keymap.DefaultTheme())).View(0)
		_, err := fmt.Fprintln(w, view)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newProjectDoc(title, schemas, dirty)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		data, err := keymapjson.MarshalSchemas(schemas)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	return fmt.Errorf("unknown format %q: %w", format, keymap.ErrValidation)
}

func newProjectDoc(title string, schemas []keymap.Schema, dirty []string) projectDoc {
	unsaved := make(map[string]bool, len(dirty))
	for _, id := range dirty {
		unsaved[id] = true
	}
	doc := projectDoc{Title: title, Tables: make([]schemaDoc, len(schemas))}
	for i, s := range schemas {
		fields := make([]fieldDoc, len(s.Fields))
		for j, f := range s.Fields {
			fields[j] = fieldDoc{Name: f.Name, Type: f.Type, Required: f.Required, Description: f.Description}
		}
		doc.Tables[i] = schemaDoc{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Type:        s.Type,
			Unsaved:     s.ID != "" && unsaved[s.ID],
			Fields:      fields,
		}
	}
	return doc
}
