package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CatalogEntry is one sellable product. Its price is authoritative for every
// order total, regardless of what was persisted with the order.
type CatalogEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type Catalog []CatalogEntry

// DefaultCatalog is the storefront's product list.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "mousse_maracuya", Name: "Mousse de Maracuyá", Price: 10000},
		{ID: "cheesecake_panela", Name: "Cheesecake de café con panela", Price: 12500},
		{ID: "arroz_con_leche", Name: "Arroz con Leche", Price: 8000},
	}
}

// ByID returns the entry with the given id.
func (c Catalog) ByID(id string) (CatalogEntry, bool) {
	for _, e := range c {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c))
	for _, e := range c {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("catalog entry without id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate catalog id: %s", e.ID)
		}
		seen[e.ID] = true
		if e.Name == "" {
			return fmt.Errorf("catalog entry %s: name is required", e.ID)
		}
		if e.Price < 0 {
			return fmt.Errorf("catalog entry %s: price must be >= 0", e.ID)
		}
	}
	return nil
}

// LoadCatalog reads a JSON array of entries. An empty path yields the default catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
