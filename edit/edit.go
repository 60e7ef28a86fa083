// Package edit buffers pending, unsaved edits to schemas and overlays them
// onto server snapshots.
package edit

import (
	"fmt"
	"slices"

	"github.com/fwojciec/keymap"
)

type key struct {
	schemaID string
	target   string
}

func keyOf(r keymap.EditRecord) key {
	return key{schemaID: r.SchemaID, target: r.Target.Key()}
}

// Buffer holds at most one EditRecord per (schema, target). Records keep
// the order in which their target was first edited.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	records map[key]keymap.EditRecord
	order   []key
}

// New creates an empty [Buffer].
func New() *Buffer {
	return &Buffer{records: make(map[key]keymap.EditRecord)}
}

// Stage records an edit. A later edit to the same target replaces the
// pending value but keeps the original Previous. An edit whose pending
// value equals Previous is a no-op and removes any record for the target.
// Stage reports whether a record for the target remains pending.
func (b *Buffer) Stage(r keymap.EditRecord) (bool, error) {
	if r.SchemaID == "" {
		return false, fmt.Errorf("edit without schema id: %w", keymap.ErrValidation)
	}
	if r.Target == nil {
		return false, fmt.Errorf("edit without target: %w", keymap.ErrValidation)
	}
	k := keyOf(r)
	if prev, ok := b.records[k]; ok {
		r.Previous = prev.Previous
	}
	if r.Pending == r.Previous {
		b.remove(k)
		return false, nil
	}
	if _, ok := b.records[k]; !ok {
		b.order = append(b.order, k)
	}
	b.records[k] = r
	return true, nil
}

// Get returns the pending record for target in schema schemaID.
func (b *Buffer) Get(schemaID string, target keymap.EditTarget) (keymap.EditRecord, bool) {
	r, ok := b.records[key{schemaID: schemaID, target: target.Key()}]
	return r, ok
}

// Discard drops the record for target in schema schemaID.
func (b *Buffer) Discard(schemaID string, target keymap.EditTarget) bool {
	return b.remove(key{schemaID: schemaID, target: target.Key()})
}

// DiscardSchema drops every record for schemaID and returns how many were
// dropped.
func (b *Buffer) DiscardSchema(schemaID string) int {
	var n int
	for _, k := range slices.Clone(b.order) {
		if k.schemaID == schemaID && b.remove(k) {
			n++
		}
	}
	return n
}

// Clear drops every record.
func (b *Buffer) Clear() {
	clear(b.records)
	b.order = b.order[:0]
}

// Len returns the number of pending records.
func (b *Buffer) Len() int { return len(b.order) }

// Pending returns every pending record in first-edit order.
func (b *Buffer) Pending() []keymap.EditRecord {
	out := make([]keymap.EditRecord, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.records[k])
	}
	return out
}

// Dirty returns the ids of schemas with at least one pending record, in
// first-edit order.
func (b *Buffer) Dirty() []string {
	var out []string
	for _, k := range b.order {
		if !slices.Contains(out, k.schemaID) {
			out = append(out, k.schemaID)
		}
	}
	return out
}

// IsDirty reports whether schemaID has a pending record.
func (b *Buffer) IsDirty(schemaID string) bool {
	return slices.ContainsFunc(b.order, func(k key) bool { return k.schemaID == schemaID })
}

// Apply returns a copy of base with every pending record written over it.
// Field targets are resolved against base, so a pending rename does not
// hide the field from later edits to its other attributes. Records whose
// schema or field is absent from base are skipped.
func (b *Buffer) Apply(base []keymap.Schema) []keymap.Schema {
	return Overlay(base, b.Pending())
}

// Overlay returns a copy of base with records written over it in order.
// Records whose schema or field is absent from base are skipped.
func Overlay(base []keymap.Schema, records []keymap.EditRecord) []keymap.Schema {
	out := keymap.CloneSchemas(base)
	for _, r := range records {
		i := schemaIndex(base, r.SchemaID)
		if i < 0 {
			continue
		}
		switch t := r.Target.(type) {
		case keymap.FieldAttribute:
			t.SetAt(&out[i], base[i].FieldIndex(t.Field), r.Pending)
		default:
			t.Set(&out[i], r.Pending)
		}
	}
	return out
}

// Rebase moves pending records onto a fresh server snapshot. Records whose
// schema or field no longer exists are dropped as orphaned. Records the
// server has converged on are dropped as converged. Every other record is
// kept with Previous refreshed to the snapshot's value.
func (b *Buffer) Rebase(fresh []keymap.Schema) (converged, orphaned []keymap.EditRecord) {
	for _, k := range slices.Clone(b.order) {
		r := b.records[k]
		i := schemaIndex(fresh, r.SchemaID)
		if i < 0 {
			orphaned = append(orphaned, r)
			b.remove(k)
			continue
		}
		v, ok := r.Target.Get(fresh[i])
		switch {
		case !ok:
			orphaned = append(orphaned, r)
			b.remove(k)
		case v == r.Pending:
			converged = append(converged, r)
			b.remove(k)
		default:
			r.Previous = v
			b.records[k] = r
		}
	}
	return converged, orphaned
}

// Settle retires records that a successful commit persisted. A record
// edited again after the commit began stays pending with Previous set to
// the committed value. Settle returns how many records were retired.
func (b *Buffer) Settle(committed []keymap.EditRecord) int {
	var n int
	for _, c := range committed {
		k := keyOf(c)
		r, ok := b.records[k]
		if !ok {
			continue
		}
		if r.Pending == c.Pending {
			b.remove(k)
			n++
			continue
		}
		r.Previous = c.Pending
		b.records[k] = r
	}
	return n
}

func (b *Buffer) remove(k key) bool {
	if _, ok := b.records[k]; !ok {
		return false
	}
	delete(b.records, k)
	b.order = slices.DeleteFunc(b.order, func(o key) bool { return o == k })
	return true
}

func schemaIndex(schemas []keymap.Schema, id string) int {
	return slices.IndexFunc(schemas, func(s keymap.Schema) bool { return s.ID == id })
}
