package models

import (
	"encoding/json"
	"strings"
)

// ItemSource is the persisted representation of an order's items: either a
// structured list or free text. Use a type switch to inspect it.
type ItemSource interface {
	itemSource()
}

// StructuredItems comes from items_json.
type StructuredItems []StoredItem

// FreeTextItems is the "- <name>: <qty>" text the storefront sends over WhatsApp.
type FreeTextItems string

func (StructuredItems) itemSource() {}
func (FreeTextItems) itemSource()   {}

// StoredItem is a persisted item record. The backend has written both qty/price
// and quantity/unit_price over time, so both spellings are accepted.
type StoredItem struct {
	ID        string
	Name      string
	Qty       int
	UnitPrice int64
}

type storedItemJSON struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Qty       *json.Number `json:"qty"`
	Quantity  *json.Number `json:"quantity"`
	Price     *json.Number `json:"price"`
	UnitPrice *json.Number `json:"unit_price"`
}

func (it *StoredItem) UnmarshalJSON(data []byte) error {
	var raw storedItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.ID = strings.TrimSpace(raw.ID)
	it.Name = strings.TrimSpace(raw.Name)
	it.Qty = int(firstNumber(raw.Qty, raw.Quantity))
	it.UnitPrice = firstNumber(raw.UnitPrice, raw.Price)
	return nil
}

func firstNumber(nums ...*json.Number) int64 {
	for _, n := range nums {
		if n == nil {
			continue
		}
		if v, err := n.Int64(); err == nil {
			return v
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	}
	return 0
}

// UpdateItem is the wire shape of an item in update_order.
type UpdateItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Qty   int    `json:"qty"`
	Price int64  `json:"price"`
}

// Source picks the order's item representation: a well-formed items_json list
// wins, then an item array sent as items, otherwise the free-text items field.
func (o *Order) Source() ItemSource {
	if items, ok := decodeStructured(o.ItemsJSON); ok {
		return items
	}
	if items, ok := decodeStructured(o.ItemsList); ok {
		return items
	}
	return FreeTextItems(o.ItemsText)
}

func decodeStructured(raw json.RawMessage) (StructuredItems, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, false
	}
	// items_json is usually a JSON-encoded string holding the array.
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return nil, false
		}
		trimmed = strings.TrimSpace(s)
		if trimmed == "" {
			return nil, false
		}
	}
	var items StructuredItems
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, false
	}
	return items, true
}
