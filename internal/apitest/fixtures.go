package apitest

import (
	"github.com/shopspring/decimal"

	"github.com/findosh/eshotry/internal/models"
)

// Fixture product ids
const (
	TeeID      = "8d1c6a0e-0001-4b8e-9c52-3f7d2a1e0001"
	TeeSmallID = "8d1c6a0e-0001-4b8e-9c52-3f7d2a1e0101"
	TeeLargeID = "8d1c6a0e-0001-4b8e-9c52-3f7d2a1e0102"
	CapID      = "8d1c6a0e-0002-4b8e-9c52-3f7d2a1e0002"
)

// Tee is a product with two variants priced differently from the product
func Tee() models.ProductDetail {
	return models.ProductDetail{
		ProductListing: models.ProductListing{
			Product: models.Product{
				ID:           TeeID,
				Name:         "Organic Cotton Tee",
				Slug:         "organic-cotton-tee",
				BrandName:    "Northwind",
				CurrentPrice: decimal.RequireFromString("19.99"),
				IsInStock:    true,
			},
			CategoryName: "T-Shirts",
			BasePrice:    decimal.RequireFromString("24.99"),
			SalePrice:    decimal.NewNullDecimal(decimal.RequireFromString("19.99")),
			IsOnSale:     true,
		},
		Description: "Heavyweight tee.",
		Variants: []models.Variant{
			{ID: TeeSmallID, Size: "S", Color: "Black", FinalPrice: decimal.RequireFromString("19.99"), IsInStock: true},
			{ID: TeeLargeID, Size: "L", Color: "Black", FinalPrice: decimal.RequireFromString("21.99"), IsInStock: true},
		},
		AvailableSizes:  []string{"S", "L"},
		AvailableColors: []string{"Black"},
	}
}

// Cap is a product without variants
func Cap() models.ProductDetail {
	return models.ProductDetail{
		ProductListing: models.ProductListing{
			Product: models.Product{
				ID:           CapID,
				Name:         "Canvas Cap",
				Slug:         "canvas-cap",
				BrandName:    "Northwind",
				CurrentPrice: decimal.RequireFromString("12.50"),
				IsInStock:    true,
			},
			CategoryName: "Accessories",
			BasePrice:    decimal.RequireFromString("12.50"),
		},
		Description: "Six-panel cap.",
	}
}

// SeedCatalog adds the fixture products
func (s *Server) SeedCatalog() {
	s.AddProduct(Tee())
	s.AddProduct(Cap())
}
