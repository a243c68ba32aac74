package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/findosh/eshotry/internal/models"
)

// AddItemRequest is the body of an add-to-cart call
type AddItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Cart fetches the canonical remote cart
func (c *Client) Cart(ctx context.Context) (*models.Cart, error) {
	var out models.Cart
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "orders/cart/",
		auth:   authCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCartItem adds a line (or increments an existing one) on the server
func (c *Client) AddCartItem(ctx context.Context, item AddItemRequest) (*models.CartItem, error) {
	var out models.CartItem
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "orders/cart/items/",
		body:   item,
		auth:   authCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCartItem sets the quantity of a remote line
func (c *Client) UpdateCartItem(ctx context.Context, itemID string, quantity int) (*models.CartItem, error) {
	var out models.CartItem
	err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "orders/cart/items/" + url.PathEscape(itemID) + "/",
		body:   map[string]int{"quantity": quantity},
		auth:   authCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveCartItem deletes a remote line
func (c *Client) RemoveCartItem(ctx context.Context, itemID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "orders/cart/items/" + url.PathEscape(itemID) + "/",
		auth:   authCurrent,
	}, nil)
}

// ClearCart deletes the whole remote cart
func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "orders/cart/",
		auth:   authCurrent,
	}, nil)
}
