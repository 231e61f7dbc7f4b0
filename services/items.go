package services

import (
	"strconv"
	"strings"
	"unicode"

	"dessert-admin/models"
)

// MatchMode selects how free-text item names are resolved against the catalog.
type MatchMode string

const (
	// MatchExact requires case-insensitive equality of the whole name.
	MatchExact MatchMode = "exact"
	// MatchPrefix additionally accepts a name that is a prefix of exactly one
	// catalog name, e.g. "Mousse" for "Mousse de Maracuyá".
	MatchPrefix MatchMode = "prefix"
)

// FreeTextLine is one parsed "- <name>: <quantity>" line.
type FreeTextLine struct {
	Name string
	Qty  int
}

// ParseFreeText extracts item lines from WhatsApp-style order text. Lines
// that do not follow the "- <name>: <quantity>" shape are ignored.
func ParseFreeText(text string) []FreeTextLine {
	var lines []FreeTextLine
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
		idx := strings.LastIndex(line, ":")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		qty, ok := leadingInt(strings.TrimSpace(line[idx+1:]))
		if name == "" || !ok {
			continue
		}
		lines = append(lines, FreeTextLine{Name: name, Qty: qty})
	}
	return lines
}

func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

// MatchCatalogName resolves a free-text name to a catalog entry.
func MatchCatalogName(catalog models.Catalog, name string, mode MatchMode) (models.CatalogEntry, bool) {
	n := normalizeName(name)
	if n == "" {
		return models.CatalogEntry{}, false
	}
	for _, e := range catalog {
		if normalizeName(e.Name) == n {
			return e, true
		}
	}
	if mode != MatchPrefix {
		return models.CatalogEntry{}, false
	}
	var found []models.CatalogEntry
	for _, e := range catalog {
		if strings.HasPrefix(normalizeName(e.Name), n) {
			found = append(found, e)
		}
	}
	if len(found) != 1 {
		return models.CatalogEntry{}, false
	}
	return found[0], true
}

// Reconciler merges the catalog with an order's persisted items.
type Reconciler struct {
	Catalog models.Catalog
	Match   MatchMode
}

// LineItems returns one row per catalog entry, in catalog order, followed by
// any persisted items the catalog does not know about. Catalog rows always
// carry the catalog's current price.
func (r Reconciler) LineItems(src models.ItemSource) []models.LineItem {
	qty := make(map[string]int, len(r.Catalog))
	var custom []models.LineItem

	switch s := src.(type) {
	case models.StructuredItems:
		for _, it := range s {
			if _, ok := r.Catalog.ByID(it.ID); ok {
				qty[it.ID] += clampQty(it.Qty)
				continue
			}
			if it.ID == "" {
				if e, ok := MatchCatalogName(r.Catalog, it.Name, r.Match); ok {
					qty[e.ID] += clampQty(it.Qty)
					continue
				}
			}
			custom = append(custom, models.LineItem{
				ID:        it.ID,
				Name:      it.Name,
				Quantity:  clampQty(it.Qty),
				UnitPrice: it.UnitPrice,
				Custom:    true,
			})
		}
	case models.FreeTextItems:
		for _, line := range ParseFreeText(string(s)) {
			if e, ok := MatchCatalogName(r.Catalog, line.Name, r.Match); ok {
				qty[e.ID] += clampQty(line.Qty)
				continue
			}
			custom = append(custom, models.LineItem{
				Name:     line.Name,
				Quantity: clampQty(line.Qty),
				Custom:   true,
			})
		}
	}

	items := make([]models.LineItem, 0, len(r.Catalog)+len(custom))
	for _, e := range r.Catalog {
		items = append(items, models.LineItem{
			ID:        e.ID,
			Name:      e.Name,
			Quantity:  qty[e.ID],
			UnitPrice: e.Price,
		})
	}
	return append(items, custom...)
}

// Apply fills the derived item fields of o.
func (r Reconciler) Apply(o *models.Order) {
	o.LineItems = r.LineItems(o.Source())
	o.Subtotal, o.TotalUnits = Totals(o.LineItems)
}

func clampQty(q int) int {
	if q < 0 {
		return 0
	}
	return q
}

// Totals computes subtotal and unit count over rows with a positive quantity.
func Totals(items []models.LineItem) (subtotal int64, units int) {
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		subtotal += int64(it.Quantity) * it.UnitPrice
		units += it.Quantity
	}
	return subtotal, units
}

// UpdateItems converts rows to the update_order wire shape, dropping zero rows.
func UpdateItems(items []models.LineItem) []models.UpdateItem {
	out := make([]models.UpdateItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		out = append(out, models.UpdateItem{ID: it.ID, Name: it.Name, Qty: it.Quantity, Price: it.UnitPrice})
	}
	return out
}
