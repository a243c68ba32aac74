package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocalItemPrefix marks ids of guest-cart lines that were never sent to the server
const LocalItemPrefix = "local-"

// Product is the cart-facing snapshot of a catalog product
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	BrandName    string          `json:"brand_name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PrimaryImage string          `json:"primary_image,omitempty"`
	IsInStock    bool            `json:"is_in_stock"`
}

// Variant is a size/color option of a product
type Variant struct {
	ID         string          `json:"id"`
	Size       string          `json:"size"`
	Color      string          `json:"color"`
	ColorHex   string          `json:"color_hex,omitempty"`
	FinalPrice decimal.Decimal `json:"final_price"`
	IsInStock  bool            `json:"is_in_stock"`
}

// LineKey identifies a cart line by product and optional variant.
// Two lines are the same line iff their keys are equal.
type LineKey struct {
	ProductID string
	VariantID string // empty when the line has no variant
}

// CartItem is a single cart line
type CartItem struct {
	ID         string          `json:"id"`
	Product    Product         `json:"product"`
	Variant    *Variant        `json:"variant,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewLocalItem creates a guest-cart line with a generated id. The unit price is
// the variant's final price when a variant is given, else the product's
// current price.
func NewLocalItem(product Product, variant *Variant, quantity int) CartItem {
	now := time.Now().UTC()
	unit := product.CurrentPrice
	if variant != nil {
		unit = variant.FinalPrice
	}
	item := CartItem{
		ID:        LocalItemPrefix + uuid.NewString(),
		Product:   product,
		Variant:   variant,
		Quantity:  quantity,
		UnitPrice: unit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.Recalculate()
	return item
}

// Key returns the line's identity key
func (i *CartItem) Key() LineKey {
	k := LineKey{ProductID: i.Product.ID}
	if i.Variant != nil {
		k.VariantID = i.Variant.ID
	}
	return k
}

// VariantID returns the variant id or empty string
func (i *CartItem) VariantID() string {
	if i.Variant == nil {
		return ""
	}
	return i.Variant.ID
}

// Recalculate derives the line total from unit price and quantity
func (i *CartItem) Recalculate() {
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SetQuantity changes the quantity and re-derives the line total
func (i *CartItem) SetQuantity(quantity int) {
	i.Quantity = quantity
	i.UpdatedAt = time.Now().UTC()
	i.Recalculate()
}

// IsLocal reports whether the line only exists in the guest cart
func (i *CartItem) IsLocal() bool {
	return len(i.ID) >= len(LocalItemPrefix) && i.ID[:len(LocalItemPrefix)] == LocalItemPrefix
}

// Cart is the server-authoritative cart of an authenticated shopper
type Cart struct {
	ID         string          `json:"id"`
	Items      []CartItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	IsEmpty    bool            `json:"is_empty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = CloneItems(c.Items)
	return &clone
}

// Recalculate re-derives the cart-level totals from its lines
func (c *Cart) Recalculate() {
	c.TotalItems = ItemCount(c.Items)
	c.Subtotal = Subtotal(c.Items)
	c.IsEmpty = len(c.Items) == 0
}

// FindByID returns the index of the line with the given id, or -1
func (c *Cart) FindByID(id string) int {
	if c == nil {
		return -1
	}
	return FindByID(c.Items, id)
}

// FindByKey returns the index of the line with the given key, or -1
func (c *Cart) FindByKey(key LineKey) int {
	if c == nil {
		return -1
	}
	return FindByKey(c.Items, key)
}

// FindByID returns the index of the line with the given id, or -1
func FindByID(items []CartItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByKey returns the index of the line with the given key, or -1
func FindByKey(items []CartItem, key LineKey) int {
	for i := range items {
		if items[i].Key() == key {
			return i
		}
	}
	return -1
}

// ItemCount sums line quantities
func ItemCount(items []CartItem) int {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

// Subtotal sums line totals
func Subtotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

// CloneItems copies a line slice, including variant pointers
func CloneItems(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Variant != nil {
			v := *out[i].Variant
			out[i].Variant = &v
		}
	}
	return out
}
