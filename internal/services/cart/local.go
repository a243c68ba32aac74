package cart

import (
	"context"
	"errors"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
)

// addLocal inserts a guest line or increments the line with the same key
func (m *Manager) addLocal(ctx context.Context, product models.Product, variant *models.Variant, quantity int) {
	m.store.Update(ctx, func(s State) State {
		items := models.CloneItems(s.LocalCart)
		key := models.LineKey{ProductID: product.ID, VariantID: variantID(variant)}
		if i := models.FindByKey(items, key); i >= 0 {
			items[i].SetQuantity(items[i].Quantity + quantity)
		} else {
			items = append(items, models.NewLocalItem(product, variant, quantity))
		}
		s.LocalCart = items
		return s
	})
}

func (m *Manager) updateLocal(ctx context.Context, ref ItemRef, quantity int) error {
	found := false
	m.store.Update(ctx, func(s State) State {
		i := ref.find(s.LocalCart)
		if i < 0 {
			return s
		}
		items := models.CloneItems(s.LocalCart)
		items[i].SetQuantity(quantity)
		s.LocalCart = items
		found = true
		return s
	})
	if !found {
		return newError(ErrItemNotFound, "Item is not in your cart", nil)
	}
	return nil
}

// removeLocal filters the referenced line out. Removing a missing line is a
// no-op.
func (m *Manager) removeLocal(ctx context.Context, ref ItemRef) {
	m.store.Update(ctx, func(s State) State {
		i := ref.find(s.LocalCart)
		if i < 0 {
			return s
		}
		items := make([]models.CartItem, 0, len(s.LocalCart)-1)
		items = append(items, s.LocalCart[:i]...)
		items = append(items, s.LocalCart[i+1:]...)
		s.LocalCart = items
		return s
	})
}

func (m *Manager) clearLocal(ctx context.Context) {
	m.store.Update(ctx, func(s State) State {
		s.LocalCart = []models.CartItem{}
		return s
	})
}

// MergeLocalCart moves the guest cart into the server cart: every guest line
// is replayed as a server add, merged lines leave the guest cart, and the
// server cart is fetched. Lines the server rejected stay in the guest cart so
// nothing is silently lost.
func (m *Manager) MergeLocalCart(ctx context.Context) error {
	if !m.session.IsAuthenticated() {
		return nil
	}

	t := m.seq.take()
	m.seq.wait(t)
	local := m.store.Get().LocalCart

	var errs []error
	merged := make(map[string]bool, len(local))
	for _, item := range local {
		req := api.AddItemRequest{
			ProductID: item.Product.ID,
			VariantID: item.VariantID(),
			Quantity:  item.Quantity,
		}
		err := m.session.Authorized(ctx, func(ctx context.Context) error {
			_, err := m.api.AddCartItem(ctx, req)
			return err
		})
		if err != nil {
			m.log.Warn("failed to merge cart line", "product", item.Product.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		merged[item.ID] = true
	}

	if len(merged) > 0 {
		m.store.Update(ctx, func(s State) State {
			kept := make([]models.CartItem, 0, len(s.LocalCart))
			for _, item := range s.LocalCart {
				if !merged[item.ID] {
					kept = append(kept, item)
				}
			}
			s.LocalCart = kept
			return s
		})
		m.log.Info("merged guest cart", "lines", len(merged))
	}
	m.seq.done()

	if err := m.Fetch(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func variantID(v *models.Variant) string {
	if v == nil {
		return ""
	}
	return v.ID
}
