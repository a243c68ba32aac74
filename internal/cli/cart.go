package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/findosh/eshotry/internal/models"
	"github.com/findosh/eshotry/internal/services/cart"
)

func newCartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Manage your cart",
		Long: `Manage your cart. While logged out the cart is kept locally; once you log
in it is moved to your account.`,
	}
	cmd.AddCommand(
		newCartShowCmd(a),
		newCartAddCmd(a),
		newCartUpdateCmd(a),
		newCartRemoveCmd(a),
		newCartClearCmd(a),
	)
	return cmd
}

func newCartShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cart.Fetch(cmd.Context()); err != nil {
				a.printer.Warning("%s, showing the last known cart", message(err))
			}
			return a.printCart()
		},
	}
}

func newCartAddCmd(a *app) *cobra.Command {
	var (
		size, color string
		quantity    int
	)

	cmd := &cobra.Command{
		Use:   "add <slug>",
		Short: "Add a product to the cart",
		Example: `  eshotry cart add organic-cotton-tee --size L
  eshotry cart add canvas-cap -q 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, variant, err := a.catalog.Resolve(cmd.Context(), args[0], size, color)
			if err != nil {
				return err
			}
			if err := a.cart.Add(cmd.Context(), product, variant, quantity); err != nil {
				return userError(err)
			}
			a.printer.Success("Added %d x %s to your cart", quantity, describe(product, variant))
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "variant size")
	cmd.Flags().StringVar(&color, "color", "", "variant color")
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "quantity to add")
	return cmd
}

func newCartUpdateCmd(a *app) *cobra.Command {
	var size, color string

	cmd := &cobra.Command{
		Use:   "update <item> <quantity>",
		Short: "Set the quantity of a cart line",
		Long: `Set the quantity of a cart line. The line is named by its id as shown by
"cart show", or by product slug with --size and --color. A quantity of zero
or less removes the line; put negative quantities after --.`,
		Example: `  eshotry cart update organic-cotton-tee 3 --size L
  eshotry cart update canvas-cap 0
  eshotry cart update canvas-cap -- -1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			ref, err := a.itemRef(cmd.Context(), args[0], size, color)
			if err != nil {
				return err
			}
			if err := a.cart.UpdateQuantity(cmd.Context(), ref, quantity); err != nil {
				return userError(err)
			}
			if quantity <= 0 {
				a.printer.Success("Removed from your cart")
			} else {
				a.printer.Success("Quantity set to %d", quantity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "variant size when naming the line by slug")
	cmd.Flags().StringVar(&color, "color", "", "variant color when naming the line by slug")
	return cmd
}

func newCartRemoveCmd(a *app) *cobra.Command {
	var size, color string

	cmd := &cobra.Command{
		Use:     "remove <item>",
		Aliases: []string{"rm"},
		Short:   "Remove a line from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := a.itemRef(cmd.Context(), args[0], size, color)
			if err != nil {
				return err
			}
			if err := a.cart.Remove(cmd.Context(), ref); err != nil {
				return userError(err)
			}
			a.printer.Success("Removed from your cart")
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "variant size when naming the line by slug")
	cmd.Flags().StringVar(&color, "color", "", "variant color when naming the line by slug")
	return cmd
}

func newCartClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every line from the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cart.Clear(cmd.Context()); err != nil {
				return userError(err)
			}
			a.printer.Success("Cart cleared")
			return nil
		},
	}
}

// itemRef resolves a line id, or a product slug with optional variant
// options, to a cart line reference
func (a *app) itemRef(ctx context.Context, item, size, color string) (cart.ItemRef, error) {
	if models.FindByID(a.cart.Items(), item) >= 0 {
		return cart.ByID(item), nil
	}

	product, variant, err := a.catalog.Resolve(ctx, item, size, color)
	if err != nil {
		return cart.ItemRef{}, err
	}
	variantID := ""
	if variant != nil {
		variantID = variant.ID
	}
	return cart.ByKey(product.ID, variantID), nil
}

func (a *app) printCart() error {
	items := a.cart.Items()
	title := "Your cart"
	if !a.session.IsAuthenticated() {
		title = "Your cart (not logged in)"
	}
	a.printer.Header(title)

	if len(items) == 0 {
		a.printer.Info("Your cart is empty")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			describe(item.Product, item.Variant),
			strconv.Itoa(item.Quantity),
			money(item.UnitPrice),
			money(item.TotalPrice),
		})
	}
	if err := a.printer.Table([]string{"ID", "Item", "Qty", "Unit", "Total"}, rows); err != nil {
		return err
	}
	a.printer.Print("\n%d item(s), subtotal %s", a.cart.ItemCount(), a.printer.Bold(money(a.cart.Subtotal())))
	return nil
}

func describe(product models.Product, variant *models.Variant) string {
	if variant == nil {
		return product.Name
	}
	switch {
	case variant.Size != "" && variant.Color != "":
		return fmt.Sprintf("%s (%s, %s)", product.Name, variant.Size, variant.Color)
	case variant.Size != "":
		return fmt.Sprintf("%s (%s)", product.Name, variant.Size)
	case variant.Color != "":
		return fmt.Sprintf("%s (%s)", product.Name, variant.Color)
	default:
		return product.Name
	}
}
