package pricing

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Products []catalogProduct `yaml:"products"`
}

type catalogProduct struct {
	Code        string        `yaml:"code"`
	Name        string        `yaml:"name"`
	PackSize    int           `yaml:"pack_size"`
	BatchPrefix string        `yaml:"batch_prefix"`
	KitPrice    float64       `yaml:"kit_price"`
	PiecePrice  float64       `yaml:"piece_price"`
	Tiers       []catalogTier `yaml:"tiers"`
}

type catalogTier struct {
	Min   int     `yaml:"min"`
	Max   *int    `yaml:"max"`
	Price float64 `yaml:"price"`
}

// LoadCatalog parses a YAML product catalog and validates every tier table.
func LoadCatalog(r io.Reader) ([]Product, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("pricing: decode catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Products))
	products := make([]Product, 0, len(file.Products))
	for _, cp := range file.Products {
		p, err := cp.product()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidProduct, p.Code)
		}
		seen[p.Code] = struct{}{}
		products = append(products, p)
	}
	return products, nil
}

func (cp catalogProduct) product() (Product, error) {
	p := Product{
		Code:        strings.TrimSpace(cp.Code),
		Name:        strings.TrimSpace(cp.Name),
		PackSize:    cp.PackSize,
		BatchPrefix: strings.TrimSpace(cp.BatchPrefix),
		KitPrice:    toMoney(cp.KitPrice),
		PiecePrice:  toMoney(cp.PiecePrice),
	}
	if p.BatchPrefix == "" {
		p.BatchPrefix = p.Code
	}
	for _, t := range cp.Tiers {
		p.Tiers = append(p.Tiers, Tier{MinQuantity: t.Min, MaxQuantity: t.Max, UnitPrice: toMoney(t.Price)})
	}
	p.Tiered = len(p.Tiers) > 0
	if err := ValidateProduct(p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ValidateProduct checks catalog fields and sorts then validates tiers.
func ValidateProduct(p Product) error {
	if p.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidProduct)
	}
	if p.PackSize < 1 {
		return fmt.Errorf("%w: %s pack size must be at least 1", ErrInvalidProduct, p.Code)
	}
	if p.KitPrice < 0 || p.PiecePrice < 0 {
		return fmt.Errorf("%w: %s prices must not be negative", ErrInvalidProduct, p.Code)
	}
	SortTiers(p.Tiers)
	if err := ValidateTiers(p.Tiers); err != nil {
		return fmt.Errorf("%s: %w", p.Code, err)
	}
	return nil
}

func toMoney(v float64) Money {
	return Money(math.Round(v * 100))
}
