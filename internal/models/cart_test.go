package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalItem(t *testing.T) {
	product := Product{ID: "p1", Name: "Linen Shirt", CurrentPrice: decimal.NewFromFloat(29.99)}

	item := NewLocalItem(product, nil, 2)

	assert.True(t, strings.HasPrefix(item.ID, LocalItemPrefix))
	assert.True(t, item.IsLocal())
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromFloat(29.99)))
	assert.True(t, item.TotalPrice.Equal(decimal.NewFromFloat(59.98)), "got %s", item.TotalPrice)
	assert.Equal(t, LineKey{ProductID: "p1"}, item.Key())
}

func TestNewLocalItem_VariantPriceWins(t *testing.T) {
	product := Product{ID: "p1", CurrentPrice: decimal.NewFromInt(30)}
	variant := &Variant{ID: "v-xl", Size: "XL", FinalPrice: decimal.NewFromInt(35)}

	item := NewLocalItem(product, variant, 1)

	assert.True(t, item.UnitPrice.Equal(decimal.NewFromInt(35)))
	assert.Equal(t, LineKey{ProductID: "p1", VariantID: "v-xl"}, item.Key())
	assert.Equal(t, "v-xl", item.VariantID())
}

func TestCartItem_SetQuantity(t *testing.T) {
	item := CartItem{UnitPrice: decimal.NewFromFloat(12.50), Quantity: 1}
	item.Recalculate()

	item.SetQuantity(4)

	assert.Equal(t, 4, item.Quantity)
	assert.True(t, item.TotalPrice.Equal(decimal.NewFromInt(50)))
}

func TestCartItem_IsLocal(t *testing.T) {
	assert.False(t, (&CartItem{ID: "8f0c3f0e-4a1b-4bcb-a3cf-6f9a1e0d2b11"}).IsLocal())
	assert.False(t, (&CartItem{ID: "loc"}).IsLocal())
	assert.True(t, (&CartItem{ID: "local-abc"}).IsLocal())
}

func TestCart_Recalculate(t *testing.T) {
	cart := &Cart{Items: []CartItem{
		NewLocalItem(Product{ID: "p1", CurrentPrice: decimal.NewFromInt(10)}, nil, 3),
		NewLocalItem(Product{ID: "p2", CurrentPrice: decimal.NewFromFloat(4.25)}, nil, 2),
	}}

	cart.Recalculate()

	assert.Equal(t, 5, cart.TotalItems)
	assert.True(t, cart.Subtotal.Equal(decimal.NewFromFloat(38.50)))
	assert.False(t, cart.IsEmpty)

	cart.Items = nil
	cart.Recalculate()
	assert.True(t, cart.IsEmpty)
	assert.True(t, cart.Subtotal.IsZero())
}

func TestCart_Find(t *testing.T) {
	items := []CartItem{
		{ID: "i1", Product: Product{ID: "p1"}},
		{ID: "i2", Product: Product{ID: "p1"}, Variant: &Variant{ID: "v1"}},
	}
	cart := &Cart{Items: items}

	assert.Equal(t, 0, cart.FindByKey(LineKey{ProductID: "p1"}))
	assert.Equal(t, 1, cart.FindByKey(LineKey{ProductID: "p1", VariantID: "v1"}))
	assert.Equal(t, -1, cart.FindByKey(LineKey{ProductID: "p2"}))
	assert.Equal(t, 1, cart.FindByID("i2"))
	assert.Equal(t, -1, cart.FindByID("missing"))

	var nilCart *Cart
	assert.Equal(t, -1, nilCart.FindByID("i1"))
}

func TestCart_CloneIsDeep(t *testing.T) {
	cart := &Cart{Items: []CartItem{{ID: "i1", Quantity: 1, Variant: &Variant{ID: "v1", Size: "M"}}}}

	clone := cart.Clone()
	clone.Items[0].Quantity = 9
	clone.Items[0].Variant.Size = "L"

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.Equal(t, "M", cart.Items[0].Variant.Size)
	assert.Nil(t, (*Cart)(nil).Clone())
}

func TestCart_DecodesStringAndNumberPrices(t *testing.T) {
	var item CartItem
	err := jsonUnmarshal(`{"id":"i1","product":{"id":"p1","current_price":"19.90"},"quantity":2,"unit_price":19.9,"total_price":"39.80"}`, &item)
	require.NoError(t, err)

	assert.True(t, item.Product.CurrentPrice.Equal(decimal.NewFromFloat(19.90)))
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromFloat(19.90)))
	assert.True(t, item.TotalPrice.Equal(decimal.NewFromFloat(39.80)))
	assert.Nil(t, item.Variant)
}
