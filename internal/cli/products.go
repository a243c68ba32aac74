package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
)

func newProductsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"p"},
		Short:   "Browse the catalog",
	}
	cmd.AddCommand(newProductsListCmd(a), newProductsShowCmd(a))
	return cmd
}

func newProductsListCmd(a *app) *cobra.Command {
	var query api.ProductQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		Example: `  eshotry products list --search tee
  eshotry products list --category shirts --ordering current_price`,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.catalog.List(cmd.Context(), query)
			if err != nil {
				return err
			}
			if len(page.Results) == 0 {
				a.printer.Info("No products found")
				return nil
			}

			rows := make([][]string, 0, len(page.Results))
			for _, p := range page.Results {
				rows = append(rows, []string{p.Name, p.Slug, p.BrandName, money(p.CurrentPrice), sale(p), stock(p.IsInStock)})
			}
			if err := a.printer.Table([]string{"Name", "Slug", "Brand", "Price", "Sale", "Stock"}, rows); err != nil {
				return err
			}
			a.printer.Print("%s", a.printer.Dim(fmt.Sprintf("%d of %d product(s)", len(page.Results), page.Count)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&query.Search, "search", "", "search text")
	f.StringVar(&query.Category, "category", "", "category slug")
	f.StringVar(&query.Brand, "brand", "", "brand slug")
	f.StringVar(&query.Gender, "gender", "", "target gender")
	f.StringVar(&query.Ordering, "ordering", "", "sort field, prefix with - for descending")
	f.IntVar(&query.Page, "page", 0, "page number")
	return cmd
}

func newProductsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "show <slug>...",
		Short:   "Show products and their variants",
		Example: `  eshotry products show organic-cotton-tee canvas-cap`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := a.catalog.Products(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, slug := range args {
				if err := a.printProduct(products[slug]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) printProduct(p *models.ProductDetail) error {
	a.printer.Header(p.Name)
	if p.BrandName != "" {
		a.printer.Print("%s", a.printer.Dim(p.BrandName))
	}
	a.printer.Print("Price: %s", a.printer.Bold(money(p.CurrentPrice)))
	if p.Description != "" {
		a.printer.Print("\n%s", p.Description)
	}
	if len(p.Variants) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		rows = append(rows, []string{v.Size, v.Color, money(v.FinalPrice), stock(v.IsInStock)})
	}
	a.printer.Print("")
	return a.printer.Table([]string{"Size", "Color", "Price", "Stock"}, rows)
}

func sale(p models.ProductListing) string {
	if !p.IsOnSale || !p.SalePrice.Valid {
		return ""
	}
	return money(p.SalePrice.Decimal) + " (-" + strconv.FormatFloat(p.DiscountPercentage, 'f', 0, 64) + "%)"
}

func stock(in bool) string {
	if in {
		return "in stock"
	}
	return "sold out"
}
