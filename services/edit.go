package services

import (
	"fmt"

	"dessert-admin/models"
)

// EditSession holds a working copy of a pending order's editable state plus the
// snapshot taken when editing began.
type EditSession struct {
	OrderID string

	fields models.OrderFields
	items  []models.LineItem

	origFields models.OrderFields
	origItems  []models.LineItem

	subtotal int64
	units    int
}

// BeginEdit snapshots o. Only pending orders can be edited.
func BeginEdit(o *models.Order) (*EditSession, error) {
	if o.Status != "" && o.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: pedido %s está %s", ErrLocked, o.ID, o.Status)
	}
	s := &EditSession{
		OrderID:    o.ID,
		fields:     o.Fields(),
		items:      cloneItems(o.LineItems),
		origFields: o.Fields(),
		origItems:  cloneItems(o.LineItems),
	}
	s.recompute()
	return s, nil
}

func cloneItems(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(items))
	copy(out, items)
	return out
}

func (s *EditSession) recompute() {
	s.subtotal, s.units = Totals(s.items)
}

// SetQty sets the quantity of row i. Negative values are clamped to zero.
func (s *EditSession) SetQty(i, qty int) error {
	if i < 0 || i >= len(s.items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	s.items[i].Quantity = clampQty(qty)
	s.recompute()
	return nil
}

// AdjustQty adds delta to row i, never going below zero.
func (s *EditSession) AdjustQty(i, delta int) error {
	if i < 0 || i >= len(s.items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	return s.SetQty(i, s.items[i].Quantity+delta)
}

func (s *EditSession) SetFields(f models.OrderFields) {
	s.fields = f
}

func (s *EditSession) Fields() models.OrderFields { return s.fields }

func (s *EditSession) Items() []models.LineItem { return cloneItems(s.items) }

func (s *EditSession) Subtotal() int64 { return s.subtotal }

func (s *EditSession) TotalUnits() int { return s.units }

// Dirty reports whether anything differs from the snapshot.
func (s *EditSession) Dirty() bool {
	if s.fields != s.origFields || len(s.items) != len(s.origItems) {
		return true
	}
	for i := range s.items {
		if s.items[i] != s.origItems[i] {
			return true
		}
	}
	return false
}

// Revert restores the snapshot taken by BeginEdit.
func (s *EditSession) Revert() {
	s.fields = s.origFields
	s.items = cloneItems(s.origItems)
	s.recompute()
}
