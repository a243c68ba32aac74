// Package cart keeps the shopper's cart: a persisted guest cart while
// anonymous and a cached copy of the server cart once authenticated.
package cart

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
	"github.com/findosh/eshotry/internal/state"
	"github.com/findosh/eshotry/internal/storage"
)

// StorageKey is the persistence key of the guest cart
const StorageKey = "cart-storage"

// State is the observable cart. Only LocalCart is persisted.
type State struct {
	Cart      *models.Cart      `json:"cart,omitempty"`
	LocalCart []models.CartItem `json:"localCart"`
	IsLoading bool              `json:"-"`
}

// API is the part of the commerce API the cart uses
type API interface {
	Cart(ctx context.Context) (*models.Cart, error)
	AddCartItem(ctx context.Context, item api.AddItemRequest) (*models.CartItem, error)
	UpdateCartItem(ctx context.Context, itemID string, quantity int) (*models.CartItem, error)
	RemoveCartItem(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context) error
}

// Session is the part of the session manager the cart depends on
type Session interface {
	IsAuthenticated() bool
	Authorized(ctx context.Context, fn func(context.Context) error) error
	OnAuthenticated(fn func(ctx context.Context, user models.User))
	OnLogout(fn func(ctx context.Context))
}

// ItemRef names a cart line either by id or by (product, variant) key
type ItemRef struct {
	ID  string
	Key models.LineKey
}

// ByID refers to the line with the given id
func ByID(id string) ItemRef {
	return ItemRef{ID: id}
}

// ByKey refers to the line for product and variant; variantID may be empty
func ByKey(productID, variantID string) ItemRef {
	return ItemRef{Key: models.LineKey{ProductID: productID, VariantID: variantID}}
}

func (r ItemRef) find(items []models.CartItem) int {
	if r.ID != "" {
		return models.FindByID(items, r.ID)
	}
	return models.FindByKey(items, r.Key)
}

// Manager is the cart state machine
type Manager struct {
	api     API
	session Session
	store   *state.Store[State]
	log     *slog.Logger

	// version increases on every change to the cached remote cart. It is only
	// written inside store updates, so it orders the same way as the state.
	version atomic.Uint64
	seq     *sequencer
}

// NewManager creates a cart manager and hooks it into the session: the guest
// cart is merged into the server cart after authentication, and the cached
// server cart is dropped on logout. kv may be nil to keep the guest cart in
// memory only.
func NewManager(client API, sess Session, kv storage.KeyValue, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	var persist state.Persistence[State]
	if kv != nil {
		persist = state.NewJSONPersistence(kv, StorageKey, func(s State) State {
			return State{LocalCart: s.LocalCart}
		})
	}

	m := &Manager{
		api:     client,
		session: sess,
		store:   state.New(State{}, persist, log),
		log:     log,
		seq:     newSequencer(),
	}
	sess.OnAuthenticated(m.handleAuthenticated)
	sess.OnLogout(m.handleLogout)
	return m
}

// Restore loads the persisted guest cart
func (m *Manager) Restore(ctx context.Context) error {
	return m.store.Hydrate(ctx, func(current, loaded State) State {
		current.LocalCart = loaded.LocalCart
		return current
	})
}

// State returns the current cart state
func (m *Manager) State() State {
	return m.store.Get()
}

// Subscribe calls fn after every cart change. fn must not mutate the cart.
func (m *Manager) Subscribe(fn func(State)) func() {
	return m.store.Subscribe(fn)
}

// IsLoading reports whether a fetch is in flight
func (m *Manager) IsLoading() bool {
	return m.store.Get().IsLoading
}

// Cart returns a copy of the cached server cart, or an empty cart
func (m *Manager) Cart() *models.Cart {
	if c := m.store.Get().Cart; c != nil {
		return c.Clone()
	}
	return &models.Cart{Items: []models.CartItem{}, IsEmpty: true}
}

// LocalCart returns a copy of the guest cart
func (m *Manager) LocalCart() []models.CartItem {
	return models.CloneItems(m.store.Get().LocalCart)
}

// Items returns the lines of the representation in use: the server cart when
// authenticated, else the guest cart
func (m *Manager) Items() []models.CartItem {
	if m.session.IsAuthenticated() {
		return m.Cart().Items
	}
	return m.LocalCart()
}

// ItemCount sums quantities over the cart in use
func (m *Manager) ItemCount() int {
	return models.ItemCount(m.Items())
}

// Subtotal sums line totals over the cart in use
func (m *Manager) Subtotal() decimal.Decimal {
	return models.Subtotal(m.Items())
}

// LocalItemCount sums quantities over the guest cart
func (m *Manager) LocalItemCount() int {
	return models.ItemCount(m.store.Get().LocalCart)
}

// LocalSubtotal sums line totals over the guest cart
func (m *Manager) LocalSubtotal() decimal.Decimal {
	return models.Subtotal(m.store.Get().LocalCart)
}

func (m *Manager) handleAuthenticated(ctx context.Context, _ models.User) {
	if err := m.MergeLocalCart(ctx); err != nil {
		m.log.Warn("failed to merge guest cart", "error", err)
	}
}

func (m *Manager) handleLogout(ctx context.Context) {
	m.store.Update(ctx, func(s State) State {
		m.version.Add(1)
		s.Cart = nil
		s.IsLoading = false
		return s
	})
}

func (m *Manager) setLoading(ctx context.Context, loading bool) {
	m.store.Update(ctx, func(s State) State {
		s.IsLoading = loading
		return s
	})
}
