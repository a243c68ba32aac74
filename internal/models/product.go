package models

import "github.com/shopspring/decimal"

// ProductListing is a product as it appears in catalog lists
type ProductListing struct {
	Product
	ShortDescription   string              `json:"short_description"`
	CategoryName       string              `json:"category_name"`
	BasePrice          decimal.Decimal     `json:"base_price"`
	SalePrice          decimal.NullDecimal `json:"sale_price"`
	IsOnSale           bool                `json:"is_on_sale"`
	DiscountPercentage float64             `json:"discount_percentage"`
	AverageRating      float64             `json:"average_rating"`
	ReviewCount        int                 `json:"review_count"`
}

// ProductDetail is the full product record including purchasable variants
type ProductDetail struct {
	ProductListing
	Description     string    `json:"description"`
	Variants        []Variant `json:"variants"`
	AvailableSizes  []string  `json:"available_sizes"`
	AvailableColors []string  `json:"available_colors"`
}

// FindVariant returns the active variant with the given id, or the first
// variant matching size and color when id is empty
func (p *ProductDetail) FindVariant(id, size, color string) (*Variant, bool) {
	for i := range p.Variants {
		v := &p.Variants[i]
		if id != "" {
			if v.ID == id {
				return v, true
			}
			continue
		}
		if (size == "" || v.Size == size) && (color == "" || v.Color == color) {
			return v, true
		}
	}
	return nil, false
}

// ProductPage is one page of a paginated product list
type ProductPage struct {
	Count    int              `json:"count"`
	Next     string           `json:"next"`
	Previous string           `json:"previous"`
	Results  []ProductListing `json:"results"`
}
