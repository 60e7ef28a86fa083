package bubbletea

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
	"github.com/mattn/go-runewidth"
)

var _ MessageBlock = (*TablesBlock)(nil)

// TablesBlock renders a list of schemas as aligned field tables. Schemas
// whose id is in dirty are marked as having unsaved edits.
type TablesBlock struct {
	title  string
	tables []keymap.Schema
	dirty  map[string]bool
	styles Styles
}

// NewTablesBlock creates a TablesBlock. dirty may be nil. A View width of
// zero disables clipping.
func NewTablesBlock(title string, tables []keymap.Schema, dirty []string, styles Styles) *TablesBlock {
	b := &TablesBlock{
		title:  title,
		tables: keymap.CloneSchemas(tables),
		dirty:  make(map[string]bool, len(dirty)),
		styles: styles,
	}
	for _, id := range dirty {
		b.dirty[id] = true
	}
	return b
}

func (b *TablesBlock) Update(tea.Msg) (MessageBlock, tea.Cmd) {
	return b, nil
}

func (b *TablesBlock) View(width int) string {
	var out strings.Builder
	if b.title != "" {
		out.WriteString(b.styles.Accent.Render(b.title))
		out.WriteString("\n")
	}
	if len(b.tables) == 0 {
		out.WriteString(b.styles.Muted.Render("(no tables)"))
		return out.String()
	}
	for i, s := range b.tables {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(b.renderSchema(s, width))
	}
	return out.String()
}

func (b *TablesBlock) renderSchema(s keymap.Schema, width int) string {
	var out strings.Builder

	name := b.styles.TableHeader.Render(s.Name)
	if s.ID != "" && b.dirty[s.ID] {
		name += " " + b.styles.Dirty.Render("*")
	}
	out.WriteString(name)
	out.WriteString("\n")
	if s.Description != "" {
		desc := s.Description
		if width > 0 {
			desc = runewidth.Truncate(desc, width, "…")
		}
		out.WriteString(b.styles.Muted.Render(desc))
		out.WriteString("\n")
	}

	rows := [][]string{{"field", "type", "null", "description"}}
	for _, f := range s.Fields {
		null := "no"
		if !f.Required {
			null = "yes"
		}
		rows = append(rows, []string{f.Name, f.Type, null, f.Description})
	}
	for i, line := range AlignColumns(rows, width) {
		if i == 0 {
			line = b.styles.Muted.Render(line)
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// AlignColumns pads every cell to its column's display width and clips
// each line to width. The last column is not padded.
func AlignColumns(rows [][]string, width int) []string {
	if len(rows) == 0 {
		return nil
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	lines := make([]string, len(rows))
	for r, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				line.WriteString(cell)
				break
			}
			line.WriteString(runewidth.FillRight(cell, widths[i]))
			line.WriteString("  ")
		}
		s := strings.TrimRight(line.String(), " ")
		if width > 0 {
			s = runewidth.Truncate(s, width, "…")
		}
		lines[r] = s
	}
	return lines
}
