package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"salon/internal/model"
)

var ErrNotFound = errors.New("catalog: item not found")

// Catalog is the salon's sellable products and bookable services.
type Catalog struct {
	Products []model.CatalogItem `json:"products"`
	Services []model.CatalogItem `json:"services"`
}

// Default is the catalog the storefront ships with.
func Default() Catalog {
	return Catalog{
		Products: []model.CatalogItem{
			{ID: "prod_1", Name: "Designer Synthetic Wig", Price: 3500, Category: "wigs", ImageURL: "/images/wig.jpg"},
			{ID: "prod_2", Name: "African Print Tote Bag", Price: 1200, Category: "bags", ImageURL: "/images/tote.jpg"},
			{ID: "prod_3", Name: "Premium Lipstick Set", Price: 1800, Category: "beauty", ImageURL: "/images/lipstick.jpg"},
		},
		Services: []model.CatalogItem{
			{ID: "serv_1", Name: "Hair Styling & Treatment", Price: 1500, Category: "hair", Icon: "💇"},
			{ID: "serv_2", Name: "Manicure & Pedicure", Price: 1200, Category: "nails", Icon: "💅"},
		},
	}
}

// Load reads a catalog file. An empty path yields Default.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	for _, it := range append(append([]model.CatalogItem{}, c.Products...), c.Services...) {
		if err := it.Validate(); err != nil {
			return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return c, nil
}

// Write saves c as indented JSON.
func Write(path string, c Catalog) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// Lookup finds id in the list for t.
func (c Catalog) Lookup(id string, t model.ItemType) (model.CatalogItem, error) {
	list := c.Products
	if t == model.Service {
		list = c.Services
	}
	for _, it := range list {
		if it.ID == id {
			return it, nil
		}
	}
	return model.CatalogItem{}, fmt.Errorf("%w: %s", ErrNotFound, model.Key{ItemID: id, ItemType: t})
}
