package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedProduct is a catalog entry plus its initial stock. A nil Stock on
// merchandise means zero tracked units.
type SeedProduct struct {
	Product `yaml:",inline"`
	Stock   *int `yaml:"stock"`
}

// Seed is the YAML document that bootstraps the catalog and stock levels.
type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Sites    []Site        `yaml:"sites"`
}

// StockSetter receives initial stock levels.
type StockSetter interface {
	SetStock(ctx context.Context, productID int64, available *int) error
}

func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode catalog seed: %w", err)
	}
	for _, p := range seed.Products {
		if err := validate(p.Product); err != nil {
			return nil, fmt.Errorf("product %d: %w", p.ID, err)
		}
		if p.Stock != nil && *p.Stock < 0 {
			return nil, fmt.Errorf("product %d: %w: negative stock", p.ID, ErrInvalidProduct)
		}
	}
	return &seed, nil
}

func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}

// Catalog builds a MemoryCatalog from the seed.
func (s *Seed) Catalog() (*MemoryCatalog, error) {
	c := NewMemoryCatalog()
	for _, p := range s.Products {
		if err := c.PutProduct(p.Product); err != nil {
			return nil, err
		}
	}
	for _, site := range s.Sites {
		c.PutSite(site)
	}
	return c, nil
}

// ApplyStock writes the seeded stock levels. Plans are left untracked.
func (s *Seed) ApplyStock(ctx context.Context, ledger StockSetter) error {
	for _, p := range s.Products {
		var available *int
		if p.Kind == KindMerchandise {
			n := 0
			if p.Stock != nil {
				n = *p.Stock
			}
			available = &n
		}
		if err := ledger.SetStock(ctx, p.ID, available); err != nil {
			return fmt.Errorf("failed to set stock for product %d: %w", p.ID, err)
		}
	}
	return nil
}
