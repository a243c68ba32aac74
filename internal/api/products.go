package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/findosh/eshotry/internal/models"
)

// ProductQuery filters and pages the product list
type ProductQuery struct {
	Search   string
	Category string
	Brand    string
	Gender   string
	Ordering string // e.g. "-created_at", "current_price"
	Page     int
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Brand != "" {
		v.Set("brand", q.Brand)
	}
	if q.Gender != "" {
		v.Set("gender", q.Gender)
	}
	if q.Ordering != "" {
		v.Set("ordering", q.Ordering)
	}
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	return v
}

// ListProducts fetches one page of the public catalog
func (c *Client) ListProducts(ctx context.Context, query ProductQuery) (*models.ProductPage, error) {
	var out models.ProductPage
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "products/",
		query:  query.values(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Product fetches a product with its variants by slug
func (c *Client) Product(ctx context.Context, slug string) (*models.ProductDetail, error) {
	var out models.ProductDetail
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "products/" + url.PathEscape(slug) + "/",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
