// Package catalog holds the product snapshot read from the product service.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-saga/internal/money"
)

// Product is what the product service returns. Price is in lira with kuruş decimals.
type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Images []string        `json:"images,omitempty"`
}

// PriceMinor is Price in kuruş.
func (p Product) PriceMinor() int64 { return money.FromLira(p.Price) }

func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type Lookup interface {
	Product(ctx context.Context, id string) (Product, error)
}
