package cart

import (
	"context"
	"errors"
	"time"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
	"github.com/findosh/eshotry/internal/services/session"
)

// Add puts quantity of product (and variant, if any) into the cart. Adding a
// line that already exists increments it.
func (m *Manager) Add(ctx context.Context, product models.Product, variant *models.Variant, quantity int) error {
	if quantity <= 0 {
		return newError(ErrInvalidQuantity, "Quantity must be at least 1", nil)
	}

	if !m.session.IsAuthenticated() {
		m.addLocal(ctx, product, variant, quantity)
		m.log.Info("added to cart", "product", product.Name, "quantity", quantity)
		return nil
	}

	req := api.AddItemRequest{ProductID: product.ID, VariantID: variantID(variant), Quantity: quantity}
	err := m.mutate(ctx, "Failed to add item to cart",
		func(cart *models.Cart) {
			key := models.LineKey{ProductID: product.ID, VariantID: req.VariantID}
			if i := cart.FindByKey(key); i >= 0 {
				cart.Items[i].SetQuantity(cart.Items[i].Quantity + quantity)
				return
			}
			// Provisional line until the server cart is fetched
			cart.Items = append(cart.Items, models.NewLocalItem(product, variant, quantity))
		},
		func(ctx context.Context) error {
			_, err := m.api.AddCartItem(ctx, req)
			return err
		},
	)
	if err != nil {
		return err
	}
	m.log.Info("added to cart", "product", product.Name, "quantity", quantity)
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, ref ItemRef, quantity int) error {
	if quantity <= 0 {
		return m.Remove(ctx, ref)
	}

	if !m.session.IsAuthenticated() {
		return m.updateLocal(ctx, ref, quantity)
	}

	item, err := m.lookup(ref)
	if err != nil {
		return err
	}
	return m.mutate(ctx, "Failed to update cart",
		func(cart *models.Cart) {
			if i := cart.FindByKey(item.Key()); i >= 0 {
				cart.Items[i].SetQuantity(quantity)
			}
		},
		func(ctx context.Context) error {
			id, err := m.resolveID(ctx, item)
			if err != nil {
				return err
			}
			_, err = m.api.UpdateCartItem(ctx, id, quantity)
			return err
		},
	)
}

// Remove deletes a line from the cart
func (m *Manager) Remove(ctx context.Context, ref ItemRef) error {
	if !m.session.IsAuthenticated() {
		m.removeLocal(ctx, ref)
		m.log.Info("removed from cart")
		return nil
	}

	item, err := m.lookup(ref)
	if err != nil {
		return err
	}
	err = m.mutate(ctx, "Failed to remove item from cart",
		func(cart *models.Cart) {
			if i := cart.FindByKey(item.Key()); i >= 0 {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			}
		},
		func(ctx context.Context) error {
			id, err := m.resolveID(ctx, item)
			if errors.Is(err, ErrItemNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			// Already gone is what we wanted
			if err := m.api.RemoveCartItem(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
				return err
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	m.log.Info("removed from cart", "product", item.Product.Name)
	return nil
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (m *Manager) Clear(ctx context.Context) error {
	if !m.session.IsAuthenticated() {
		m.clearLocal(ctx)
		m.log.Info("cart cleared")
		return nil
	}

	err := m.mutate(ctx, "Failed to clear cart",
		func(cart *models.Cart) {
			cart.Items = []models.CartItem{}
		},
		func(ctx context.Context) error {
			if err := m.api.ClearCart(ctx); err != nil && !errors.Is(err, api.ErrNotFound) {
				return err
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	m.log.Info("cart cleared")
	return nil
}

// Fetch replaces the cached server cart with the server's. It waits for
// mutations already in flight, so their optimistic state is never replaced by
// an older server cart. An anonymous or rejected session is not an error.
// Other failures keep the cached cart and return ErrCartFetchFailed.
func (m *Manager) Fetch(ctx context.Context) error {
	if !m.session.IsAuthenticated() {
		return nil
	}

	t := m.seq.take()
	m.seq.wait(t)
	defer m.seq.done()

	version := m.version.Load()
	m.setLoading(ctx, true)
	cart, err := m.fetch(ctx)
	m.setLoading(ctx, false)

	switch {
	case err == nil:
		m.commit(ctx, version, cart)
		return nil
	case errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrNotAuthenticated):
		return nil
	default:
		m.log.Warn("failed to fetch cart", "error", err)
		return newError(ErrCartFetchFailed, "Failed to load cart", err)
	}
}

// mutate runs an authenticated mutation: patch is applied to the cached
// cart at once, call runs after every earlier mutation has finished, and the
// server cart is then fetched and committed unless a newer mutation has been
// applied in the meantime. A failed call restores the cart as it was before
// patch, again unless a newer mutation has been applied.
func (m *Manager) mutate(ctx context.Context, failure string, patch func(*models.Cart), call func(context.Context) error) error {
	var version, ticket uint64
	var before *models.Cart
	m.store.Update(ctx, func(s State) State {
		before = s.Cart
		cart := s.Cart.Clone()
		if cart == nil {
			cart = &models.Cart{}
		}
		patch(cart)
		cart.Recalculate()
		cart.UpdatedAt = time.Now().UTC()
		s.Cart = cart

		version = m.version.Add(1)
		ticket = m.seq.take()
		return s
	})

	m.seq.wait(ticket)
	defer m.seq.done()

	if err := m.session.Authorized(ctx, call); err != nil {
		m.rollback(ctx, version, before)
		if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrNotAuthenticated) {
			return err
		}
		m.log.Warn("cart update failed", "error", err)
		return newError(ErrCartMutationFailed, api.Detail(err, failure), err)
	}

	cart, err := m.fetch(ctx)
	if err != nil {
		// The mutation itself went through; the next fetch reconciles
		m.log.Warn("failed to refresh cart after update", "error", err)
		return nil
	}
	m.commit(ctx, version, cart)
	return nil
}

func (m *Manager) fetch(ctx context.Context) (*models.Cart, error) {
	var cart *models.Cart
	err := m.session.Authorized(ctx, func(ctx context.Context) error {
		var err error
		cart, err = m.api.Cart(ctx)
		return err
	})
	return cart, err
}

// commit replaces the cached cart when no change happened since version
func (m *Manager) commit(ctx context.Context, version uint64, cart *models.Cart) {
	stale := false
	m.store.Update(ctx, func(s State) State {
		if m.version.Load() != version {
			stale = true
			return s
		}
		s.Cart = cart
		return s
	})
	if stale {
		m.log.Debug("discarded stale cart", "version", version)
	}
}

func (m *Manager) rollback(ctx context.Context, version uint64, before *models.Cart) {
	m.store.Update(ctx, func(s State) State {
		if m.version.Load() == version {
			s.Cart = before
		}
		return s
	})
}

// lookup finds the referenced line in the cached server cart
func (m *Manager) lookup(ref ItemRef) (models.CartItem, error) {
	cart := m.store.Get().Cart
	if cart != nil {
		if i := ref.find(cart.Items); i >= 0 {
			return cart.Items[i], nil
		}
	}
	return models.CartItem{}, newError(ErrItemNotFound, "Item is not in your cart", nil)
}

// resolveID returns the server id of item. Provisional lines from an
// optimistic add have no server id yet, so it is looked up by key.
func (m *Manager) resolveID(ctx context.Context, item models.CartItem) (string, error) {
	if !item.IsLocal() {
		return item.ID, nil
	}

	cart, err := m.api.Cart(ctx)
	if err != nil {
		return "", err
	}
	if i := cart.FindByKey(item.Key()); i >= 0 {
		return cart.Items[i].ID, nil
	}
	return "", newError(ErrItemNotFound, "Item is not in your cart", nil)
}
