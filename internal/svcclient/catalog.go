package svcclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ariefcatur/go-checkout-saga/internal/catalog"
)

type Catalog struct{ c *Client }

func NewCatalog(baseURL string, opts ...Option) *Catalog {
	return &Catalog{c: New("product", baseURL, "", opts...)}
}

// Product reads one product. The product service keys documents by _id.
func (c *Catalog) Product(ctx context.Context, id string) (catalog.Product, error) {
	var out struct {
		catalog.Product
		DocID string `json:"_id"`
	}
	err := c.c.do(ctx, call{
		name:   "product.get",
		method: http.MethodGet,
		path:   "/api/products/" + url.PathEscape(id),
		public: true,
		out:    &out,
		retry:  true,
	})
	if err != nil {
		return catalog.Product{}, err
	}
	p := out.Product
	if p.ID == "" {
		p.ID = out.DocID
	}
	return p, nil
}
