package domain

import (
	"encoding/json"
	"fmt"
)

// Packing owns the packing list.
type Packing struct {
	owner *Owner[PackingDocument]
	opts  Options
}

// NewPacking creates a packing owner holding initial.
func NewPacking(initial PackingDocument, opts Options) *Packing {
	return &Packing{
		owner: NewOwner(initial.normalize()),
		opts:  opts.withDefaults(),
	}
}

// Snapshot returns the current document.
func (p *Packing) Snapshot() PackingDocument {
	return p.owner.Snapshot()
}

// OnChange registers fn for every change of the document.
func (p *Packing) OnChange(fn func(PackingDocument)) (cancel func()) {
	return p.owner.Observe(fn)
}

// Toggle flips an item's packed flag.
func (p *Packing) Toggle(id string) bool {
	return p.owner.Mutate(func(d PackingDocument) (PackingDocument, bool) {
		return d.mapItems(func(it PackingItem) (PackingItem, bool) {
			if it.ID != id {
				return it, false
			}
			it.Packed = !it.Packed
			return it, true
		})
	})
}

// Add appends an unpacked item and returns its id.
func (p *Packing) Add(name string, category PackingCategory) string {
	id := p.opts.id("pack")
	p.owner.Mutate(func(d PackingDocument) (PackingDocument, bool) {
		d.Items = appendCopy(d.Items, PackingItem{
			ID:        id,
			Name:      name,
			Category:  category,
			CreatedAt: p.opts.stamp(),
		})
		return d, true
	})
	return id
}

// Delete removes an item.
func (p *Packing) Delete(id string) bool {
	return p.owner.Mutate(func(d PackingDocument) (PackingDocument, bool) {
		kept := make([]PackingItem, 0, len(d.Items))
		found := false
		for _, it := range d.Items {
			if it.ID == id {
				found = true
				continue
			}
			kept = append(kept, it)
		}
		d.Items = kept
		return d, found
	})
}

// ResetAll marks every item unpacked.
func (p *Packing) ResetAll() bool {
	return p.owner.Mutate(func(d PackingDocument) (PackingDocument, bool) {
		return d.mapItems(func(it PackingItem) (PackingItem, bool) {
			if !it.Packed {
				return it, false
			}
			it.Packed = false
			return it, true
		})
	})
}

// SetItems replaces the list.
func (p *Packing) SetItems(items []PackingItem) {
	p.Import(PackingDocument{Items: items})
}

// Import replaces the whole document.
func (p *Packing) Import(d PackingDocument) {
	p.owner.Replace(d.normalize())
}

// Name implements session.Domain.
func (p *Packing) Name() string { return "packing" }

// Document implements session.Domain.
func (p *Packing) Document() any { return p.Snapshot() }

// DecodeJSON validates data as a packing document and returns it in the
// form ImportJSON would store.
func (p *Packing) DecodeJSON(data []byte) (any, error) {
	return decodePacking(data)
}

// ImportJSON validates data as a packing document and replaces the current
// one with it.
func (p *Packing) ImportJSON(data []byte) error {
	d, err := decodePacking(data)
	if err != nil {
		return err
	}
	p.owner.Replace(d)
	return nil
}

func decodePacking(data []byte) (PackingDocument, error) {
	if err := ValidatePacking(data); err != nil {
		return PackingDocument{}, err
	}
	var d PackingDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return PackingDocument{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return d.normalize(), nil
}

// Observe implements session.Domain.
func (p *Packing) Observe(fn func(any)) (cancel func()) {
	return p.owner.Observe(func(d PackingDocument) { fn(d) })
}

// mapItems applies fn to a copy of every item; the result reports whether
// fn changed any of them.
func (d PackingDocument) mapItems(fn func(PackingItem) (PackingItem, bool)) (PackingDocument, bool) {
	items := make([]PackingItem, len(d.Items))
	changed := false
	for i, it := range d.Items {
		next, ok := fn(it)
		items[i] = next
		changed = changed || ok
	}
	if !changed {
		return d, false
	}
	d.Items = items
	return d, true
}
