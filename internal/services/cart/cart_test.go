package cart

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/apitest"
	"github.com/findosh/eshotry/internal/models"
	"github.com/findosh/eshotry/internal/services/session"
	"github.com/findosh/eshotry/internal/storage"
)

const (
	email    = "ada@example.com"
	password = "correct-horse"
)

type fixture struct {
	srv     *apitest.Server
	client  *api.Client
	kv      *storage.MemoryStore
	session *session.Manager
	cart    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := apitest.NewServer(t)
	srv.SeedCatalog()
	srv.CreateUser(email, password, "Ada")

	f := &fixture{srv: srv, client: srv.NewClient(t), kv: storage.NewMemoryStore()}
	f.session = session.NewManager(f.client, f.kv, session.Options{Logger: apitest.DiscardLogger()})
	t.Cleanup(f.session.Wait)
	f.cart = NewManager(f.client, f.session, f.kv, apitest.DiscardLogger())
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	_, err := f.session.Login(context.Background(), email, password)
	require.NoError(t, err)
}

var (
	tee   = apitest.Tee()
	small = &tee.Variants[0]
	large = &tee.Variants[1]
	hat   = apitest.Cap()
)

func quantityOf(cart *models.Cart, id string) int {
	if i := cart.FindByID(id); i >= 0 {
		return cart.Items[i].Quantity
	}
	return 0
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestGuestAdd_IncrementsSameLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))

	local := f.cart.LocalCart()
	require.Len(t, local, 1)
	assert.Equal(t, 3, local[0].Quantity)
	assert.True(t, local[0].IsLocal())
	assertDecimal(t, "37.50", local[0].TotalPrice)
	assert.Empty(t, f.srv.Requests())
}

func TestGuestAdd_OneLinePerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	type line struct {
		product models.Product
		variant *models.Variant
	}
	lines := []line{{tee.Product, small}, {tee.Product, large}, {tee.Product, nil}, {hat.Product, nil}}
	want := map[models.LineKey]int{}

	rng := rand.New(rand.NewSource(7))
	for range 50 {
		l := lines[rng.Intn(len(lines))]
		qty := rng.Intn(4) + 1
		require.NoError(t, f.cart.Add(ctx, l.product, l.variant, qty))
		want[models.LineKey{ProductID: l.product.ID, VariantID: variantID(l.variant)}] += qty
	}

	local := f.cart.LocalCart()
	got := map[models.LineKey]int{}
	for _, item := range local {
		_, dup := got[item.Key()]
		assert.False(t, dup, "duplicate line %v", item.Key())
		got[item.Key()] = item.Quantity
	}
	assert.Equal(t, want, got)
}

func TestGuestAdd_RejectsInvalidQuantity(t *testing.T) {
	f := newFixture(t)

	for _, qty := range []int{0, -1} {
		err := f.cart.Add(context.Background(), hat.Product, nil, qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
	assert.Empty(t, f.cart.LocalCart())
}

func TestGuest_UnitPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, large, 1))
	require.NoError(t, f.cart.Add(ctx, tee.Product, nil, 1))

	local := f.cart.LocalCart()
	require.Len(t, local, 2)
	assertDecimal(t, "21.99", local[0].UnitPrice)
	assertDecimal(t, "19.99", local[1].UnitPrice)
}

func TestGuest_SubtotalTracksEveryChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	check := func() {
		t.Helper()
		want := decimal.Zero
		for _, item := range f.cart.LocalCart() {
			want = want.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		assert.True(t, want.Equal(f.cart.LocalSubtotal()), "want %s, got %s", want, f.cart.LocalSubtotal())
		assert.True(t, want.Equal(f.cart.Subtotal()))
	}

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 2))
	check()
	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 3))
	check()
	require.NoError(t, f.cart.UpdateQuantity(ctx, ByKey(tee.ID, small.ID), 5))
	check()
	require.NoError(t, f.cart.Remove(ctx, ByKey(hat.ID, "")))
	check()

	assertDecimal(t, "99.95", f.cart.LocalSubtotal())
	assert.Equal(t, 5, f.cart.LocalItemCount())
	assert.Equal(t, 5, f.cart.ItemCount())
}

func TestGuest_UpdateToZeroIsRemove(t *testing.T) {
	for _, qty := range []int{0, -1} {
		viaUpdate := newFixture(t)
		viaRemove := newFixture(t)
		ctx := context.Background()

		for _, f := range []*fixture{viaUpdate, viaRemove} {
			require.NoError(t, f.cart.Add(ctx, tee.Product, small, 2))
			require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
		}

		require.NoError(t, viaUpdate.cart.UpdateQuantity(ctx, ByKey(tee.ID, small.ID), qty))
		require.NoError(t, viaRemove.cart.Remove(ctx, ByKey(tee.ID, small.ID)))

		a, b := viaUpdate.cart.LocalCart(), viaRemove.cart.LocalCart()
		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.Equal(t, a[0].Key(), b[0].Key())
		assert.Equal(t, a[0].Quantity, b[0].Quantity)
	}
}

func TestGuest_UpdateMissingLine(t *testing.T) {
	f := newFixture(t)

	err := f.cart.UpdateQuantity(context.Background(), ByKey(hat.ID, ""), 2)
	assert.ErrorIs(t, err, ErrItemNotFound)

	// Removing a missing line is a no-op
	assert.NoError(t, f.cart.Remove(context.Background(), ByKey(hat.ID, "")))
}

func TestGuest_ClearIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	require.NoError(t, f.cart.Clear(ctx))
	require.NoError(t, f.cart.Clear(ctx))
	assert.Empty(t, f.cart.LocalCart())
	assert.Equal(t, 0, f.cart.ItemCount())
}

func TestGuest_Persistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 2))

	raw, err := f.kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Len(t, persisted, 1)
	assert.Contains(t, persisted, "localCart")

	restarted := NewManager(f.client, f.session, f.kv, apitest.DiscardLogger())
	require.NoError(t, restarted.Restore(ctx))
	local := restarted.LocalCart()
	require.Len(t, local, 1)
	assert.Equal(t, 2, local[0].Quantity)
	assert.Equal(t, small.ID, local[0].VariantID())
}

func TestFetch_Anonymous(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.cart.Fetch(context.Background()))
	assert.Empty(t, f.srv.Requests())
}

func TestRemote_Add(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 2))
	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 1))

	server := f.srv.Cart(email)
	require.Len(t, server.Items, 1)
	assert.Equal(t, 3, server.Items[0].Quantity)

	cached := f.cart.Cart()
	require.Len(t, cached.Items, 1)
	assert.Equal(t, server.Items[0].ID, cached.Items[0].ID)
	assert.False(t, cached.Items[0].IsLocal())
	assert.Equal(t, 3, cached.TotalItems)
	assertDecimal(t, "59.97", cached.Subtotal)
	assert.Equal(t, 3, f.cart.ItemCount())
	assert.Empty(t, f.cart.LocalCart())

	// Every add is followed by a full fetch
	assert.Equal(t, 2, f.srv.CountRequests(http.MethodPost, "/api/orders/cart/items/"))
	assert.GreaterOrEqual(t, f.srv.CountRequests(http.MethodGet, "/api/orders/cart/"), 2)
}

func TestRemote_AddRejectsInvalidQuantity(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	err := f.cart.Add(context.Background(), hat.Product, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 0, f.srv.CountRequests(http.MethodPost, "/api/orders/cart/items/"))
}

func TestRemote_UpdateQuantity(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	id := f.cart.Cart().Items[0].ID

	require.NoError(t, f.cart.UpdateQuantity(ctx, ByID(id), 4))

	cached := f.cart.Cart()
	assert.Equal(t, 4, quantityOf(cached, id))
	assertDecimal(t, "50.00", cached.Subtotal)
	assert.Equal(t, 4, f.srv.Cart(email).Items[0].Quantity)
}

func TestRemote_UpdateToNegativeRemoves(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))
	id := f.cart.Cart().Items[0].ID

	require.NoError(t, f.cart.UpdateQuantity(ctx, ByID(id), -1))

	assert.Empty(t, f.cart.Cart().Items)
	assert.True(t, f.cart.Cart().IsEmpty)
	assert.Empty(t, f.srv.Cart(email).Items)
	assert.Equal(t, 0, f.srv.CountRequests(http.MethodPatch, "/api/orders/cart/items/"+id+"/"))
	assert.Equal(t, 1, f.srv.CountRequests(http.MethodDelete, "/api/orders/cart/items/"+id+"/"))
}

func TestRemote_UpdateToZeroIsRemove(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 1))
	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))

	require.NoError(t, f.cart.UpdateQuantity(ctx, ByKey(tee.ID, small.ID), 0))
	require.NoError(t, f.cart.Remove(ctx, ByKey(hat.ID, "")))

	assert.Empty(t, f.cart.Cart().Items)
	assert.Empty(t, f.srv.Cart(email).Items)
}

func TestRemote_UpdateMissingLine(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	err := f.cart.UpdateQuantity(context.Background(), ByID("nope"), 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemote_ClearIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))
	require.NoError(t, f.cart.Clear(ctx))
	require.NoError(t, f.cart.Clear(ctx))

	assert.Empty(t, f.cart.Cart().Items)
	assert.Equal(t, 0, f.cart.ItemCount())
	assert.Empty(t, f.srv.Cart(email).Items)
}

func TestRemote_ConcurrentUpdatesNeverRegress(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 1))
	id := f.cart.Cart().Items[0].ID

	// Hold the first PATCH at the server until the second update has been
	// applied locally
	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.srv.SetHook(func(r *http.Request) {
		if r.Method == http.MethodPatch {
			once.Do(func() {
				close(arrived)
				<-release
			})
		}
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = f.cart.UpdateQuantity(ctx, ByID(id), 2)
	}()
	<-arrived
	go func() {
		defer wg.Done()
		errs[1] = f.cart.UpdateQuantity(ctx, ByID(id), 5)
	}()
	require.Eventually(t, func() bool {
		return quantityOf(f.cart.Cart(), id) == 5
	}, time.Second, time.Millisecond)

	var mu sync.Mutex
	var seen []int
	unsubscribe := f.cart.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, quantityOf(s.Cart, id))
	})
	close(release)
	wg.Wait()
	unsubscribe()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 5, quantityOf(f.cart.Cart(), id))
	assert.Equal(t, 5, f.srv.Cart(email).Items[0].Quantity)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, q := range seen {
		assert.Equal(t, 5, q)
	}
}

func TestFetch_WaitsForInFlightMutation(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	id := f.cart.Cart().Items[0].ID

	// Hold the PATCH, then make the update's own reconcile fetch fail so only
	// the stand-alone fetch can bring the cache back in line
	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.srv.SetHook(func(r *http.Request) {
		if r.Method == http.MethodPatch {
			once.Do(func() {
				close(arrived)
				<-release
				f.srv.FailNext(http.MethodGet, "/api/orders/cart/", http.StatusInternalServerError, 1)
			})
		}
	})

	updated := make(chan error, 1)
	go func() { updated <- f.cart.UpdateQuantity(ctx, ByID(id), 5) }()
	<-arrived
	require.Equal(t, 5, quantityOf(f.cart.Cart(), id))

	fetched := make(chan error, 1)
	go func() { fetched <- f.cart.Fetch(ctx) }()
	select {
	case err := <-fetched:
		t.Fatalf("fetch finished while the update was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-updated)
	require.NoError(t, <-fetched)

	assert.Equal(t, 5, quantityOf(f.cart.Cart(), id))
	assert.Equal(t, 5, f.srv.Cart(email).Items[0].Quantity)
}

func TestRemote_ProvisionalLineResolvesServerID(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	// Hold the add so the line stays provisional in the cache
	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.srv.SetHook(func(r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/orders/cart/items/" {
			once.Do(func() {
				close(arrived)
				<-release
			})
		}
	})

	lineQuantity := func() int {
		items := f.cart.Cart().Items
		if len(items) == 0 {
			return 0
		}
		return items[0].Quantity
	}
	ref := ByKey(apitest.CapID, "")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = f.cart.Add(ctx, hat.Product, nil, 1)
	}()
	<-arrived

	items := f.cart.Cart().Items
	require.Len(t, items, 1)
	require.True(t, items[0].IsLocal())

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = f.cart.UpdateQuantity(ctx, ref, 4)
	}()
	require.Eventually(t, func() bool { return lineQuantity() == 4 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[2] = f.cart.Remove(ctx, ref)
	}()
	require.Eventually(t, func() bool { return len(f.cart.Cart().Items) == 0 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Empty(t, f.cart.Cart().Items)
	assert.Empty(t, f.srv.Cart(email).Items)

	var patched, deleted []apitest.Recorded
	for _, r := range f.srv.Requests() {
		switch {
		case r.Method == http.MethodPatch:
			patched = append(patched, r)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.Path, "/api/orders/cart/items/"):
			deleted = append(deleted, r)
		}
	}
	require.Len(t, patched, 1)
	require.Len(t, deleted, 1)
	assert.NotContains(t, patched[0].Path, models.LocalItemPrefix)
	assert.Contains(t, patched[0].Body, `"quantity":4`)
	assert.Equal(t, patched[0].Path, deleted[0].Path)
}

func TestRemote_FailedMutationRollsBack(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))
	id := f.cart.Cart().Items[0].ID
	f.srv.FailNext(http.MethodPatch, "/api/orders/cart/items/"+id+"/", http.StatusInternalServerError, 1)

	err := f.cart.UpdateQuantity(ctx, ByID(id), 7)
	assert.ErrorIs(t, err, ErrCartMutationFailed)

	var cartErr *Error
	require.ErrorAs(t, err, &cartErr)
	assert.Equal(t, "injected failure 500", cartErr.Message)
	assert.Equal(t, 2, quantityOf(f.cart.Cart(), id))
	assert.Equal(t, 2, f.srv.Cart(email).Items[0].Quantity)
}

func TestRemote_ReconcileFailureKeepsOptimisticState(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	id := f.cart.Cart().Items[0].ID
	f.srv.FailNext(http.MethodGet, "/api/orders/cart/", http.StatusServiceUnavailable, 1)

	require.NoError(t, f.cart.UpdateQuantity(ctx, ByID(id), 3))
	assert.Equal(t, 3, quantityOf(f.cart.Cart(), id))
}

func TestRemote_ExpiredTokenIsRefreshed(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.srv.ExpireAccessTokens()

	require.NoError(t, f.cart.Add(context.Background(), hat.Product, nil, 1))
	assert.Equal(t, 1, f.srv.CountRequests(http.MethodPost, "/api/auth/token/refresh/"))
	assert.Len(t, f.srv.Cart(email).Items, 1)
	assert.True(t, f.session.IsAuthenticated())
}

func TestRemote_RefreshFailureSurfacesSessionExpired(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.srv.ExpireAccessTokens()
	f.srv.FailRefresh(true)

	err := f.cart.Add(context.Background(), hat.Product, nil, 1)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.NotErrorIs(t, err, ErrCartMutationFailed)
	assert.False(t, f.session.IsAuthenticated())
	assert.Nil(t, f.cart.State().Cart)
}

func TestFetch_FailureKeepsStaleCart(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))
	f.srv.FailNext(http.MethodGet, "/api/orders/cart/", http.StatusInternalServerError, 1)

	err := f.cart.Fetch(ctx)
	assert.ErrorIs(t, err, ErrCartFetchFailed)
	assert.Len(t, f.cart.Cart().Items, 1)
	assert.False(t, f.cart.IsLoading())
}

func TestFetch_UnauthorizedIsSilent(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.srv.ExpireAccessTokens()
	f.srv.FailRefresh(true)

	assert.NoError(t, f.cart.Fetch(context.Background()))
	assert.False(t, f.session.IsAuthenticated())
}

func TestMergeOnLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, tee.Product, small, 2))
	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	f.login(t)

	assert.Empty(t, f.cart.LocalCart())

	server := f.srv.Cart(email)
	require.Len(t, server.Items, 2)
	assert.Equal(t, 3, server.TotalItems)

	cached := f.cart.Cart()
	assert.Len(t, cached.Items, 2)
	assert.Equal(t, 3, f.cart.ItemCount())
	assertDecimal(t, "52.48", f.cart.Subtotal())
}

func TestMergeOnLogin_KeepsRejectedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ghost := models.Product{ID: "retired-product", Name: "Retired", CurrentPrice: decimal.NewFromInt(5)}
	require.NoError(t, f.cart.Add(ctx, ghost, nil, 1))
	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 1))
	f.login(t)

	assert.True(t, f.session.IsAuthenticated())
	local := f.cart.LocalCart()
	require.Len(t, local, 1)
	assert.Equal(t, ghost.ID, local[0].Product.ID)
	assert.Len(t, f.srv.Cart(email).Items, 1)
}

func TestLogoutDropsServerCart(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.cart.Add(ctx, hat.Product, nil, 2))
	f.session.Logout(ctx)

	assert.Nil(t, f.cart.State().Cart)
	assert.Equal(t, 0, f.cart.ItemCount())
	assert.Empty(t, f.cart.Items())

	// The server still has it for the next login
	f.login(t)
	assert.Equal(t, 2, f.cart.ItemCount())
}
