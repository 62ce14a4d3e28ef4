package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/gym-checkout/internal/domain/membership"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrSiteNotFound    = errors.New("site not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// Kind tells plans apart from stock-tracked merchandise.
type Kind string

const (
	KindPlan        Kind = "plan"
	KindMerchandise Kind = "merchandise"
)

func (k Kind) Valid() bool {
	return k == KindPlan || k == KindMerchandise
}

type Product struct {
	ID           int64         `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Kind         Kind          `json:"kind" yaml:"kind"`
	UnitPrice    int64         `json:"unit_price" yaml:"unit_price"`
	PlanDuration time.Duration `json:"plan_duration,omitempty" yaml:"plan_duration"`
}

type Site struct {
	ID   int64   `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
}

// ToMembershipSite converts a directory entry to the site a plan binds to.
func ToMembershipSite(s Site) membership.Site {
	return membership.Site{ID: s.ID, Name: s.Name, Lat: s.Lat, Lng: s.Lng}
}

// Catalog is the product catalog and site directory.
type Catalog interface {
	Product(ctx context.Context, id int64) (Product, error)
	Products(ctx context.Context) ([]Product, error)
	Site(ctx context.Context, id int64) (Site, error)
	Sites(ctx context.Context) ([]Site, error)
}

// MemoryCatalog is a read-mostly Catalog held in memory.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[int64]Product
	sites    map[int64]Site
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products: make(map[int64]Product),
		sites:    make(map[int64]Site),
	}
}

func validate(p Product) error {
	switch {
	case p.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidProduct)
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case !p.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProduct, p.Kind)
	case p.UnitPrice < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Kind == KindPlan && p.PlanDuration <= 0:
		return fmt.Errorf("%w: plan needs a positive duration", ErrInvalidProduct)
	}
	return nil
}

// PutProduct adds or replaces a product.
func (c *MemoryCatalog) PutProduct(p Product) error {
	if err := validate(p); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return nil
}

// PutSite adds or replaces a site.
func (c *MemoryCatalog) PutSite(s Site) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites[s.ID] = s
}

func (c *MemoryCatalog) Product(_ context.Context, id int64) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (c *MemoryCatalog) Products(_ context.Context) ([]Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Site(_ context.Context, id int64) (Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sites[id]
	if !ok {
		return Site{}, ErrSiteNotFound
	}
	return s, nil
}

func (c *MemoryCatalog) Sites(_ context.Context) ([]Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Site, 0, len(c.sites))
	for _, s := range c.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
