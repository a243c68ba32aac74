package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findosh/eshotry/internal/models"
)

type recorder struct {
	mu    sync.Mutex
	auth  []string
	paths []string
	body  []string
}

func (r *recorder) last() (auth, path, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.auth) - 1
	return r.auth[n], r.paths[n], r.body[n]
}

func newTestClient(t *testing.T, cfg ClientConfig, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.auth = append(rec.auth, r.Header.Get("Authorization"))
		rec.paths = append(rec.paths, r.Method+" "+r.URL.Path)
		rec.body = append(rec.body, string(body))
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL + "/api"
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, rec
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{URL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestClient_AttachesCurrentCredential(t *testing.T) {
	client, rec := newTestClient(t, ClientConfig{}, respond(http.StatusOK, `{"id":"u1","email":"a@b.c"}`))
	ctx := context.Background()

	client.SetCredential("token-1")
	user, err := client.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	auth, path, _ := rec.last()
	assert.Equal(t, "Bearer token-1", auth)
	assert.Equal(t, "GET /api/auth/profile/", path)

	client.SetCredential("token-2")
	_, err = client.Profile(ctx)
	require.NoError(t, err)
	auth, _, _ = rec.last()
	assert.Equal(t, "Bearer token-2", auth)

	client.ClearCredential()
	assert.Empty(t, client.Credential())
	_, err = client.Profile(ctx)
	require.NoError(t, err)
	auth, _, _ = rec.last()
	assert.Empty(t, auth)
}

func TestClient_PublicEndpointsSendNoCredential(t *testing.T) {
	client, rec := newTestClient(t, ClientConfig{}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login/":
			respond(http.StatusOK, `{"user":{"id":"u1"},"tokens":{"access":"a","refresh":"r"}}`)(w, r)
		case "/api/auth/token/refresh/":
			respond(http.StatusOK, `{"access":"a2"}`)(w, r)
		default:
			respond(http.StatusOK, `{"count":0,"results":[]}`)(w, r)
		}
	})
	ctx := context.Background()
	client.SetCredential("stale")

	resp, err := client.Login(ctx, "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, models.Tokens{Access: "a", Refresh: "r"}, resp.Tokens)
	auth, _, body := rec.last()
	assert.Empty(t, auth)
	assert.JSONEq(t, `{"email":"a@b.c","password":"secret"}`, body)

	access, err := client.RefreshToken(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
	auth, _, body = rec.last()
	assert.Empty(t, auth)
	assert.JSONEq(t, `{"refresh":"r"}`, body)

	_, err = client.ListProducts(ctx, ProductQuery{Search: "tee", Page: 2})
	require.NoError(t, err)
	auth, _, _ = rec.last()
	assert.Empty(t, auth)
}

func TestClient_RefreshWithoutAccessToken(t *testing.T) {
	client, _ := newTestClient(t, ClientConfig{}, respond(http.StatusOK, `{}`))

	_, err := client.RefreshToken(context.Background(), "r")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_LogoutUsesExplicitToken(t *testing.T) {
	client, rec := newTestClient(t, ClientConfig{}, respond(http.StatusOK, `{"message":"ok"}`))

	client.ClearCredential()
	err := client.Logout(context.Background(), "captured", "refresh-1")
	require.NoError(t, err)

	auth, path, body := rec.last()
	assert.Equal(t, "Bearer captured", auth)
	assert.Equal(t, "POST /api/auth/logout/", path)
	assert.JSONEq(t, `{"refresh_token":"refresh-1"}`, body)
}

func TestClient_CartRequests(t *testing.T) {
	client, rec := newTestClient(t, ClientConfig{}, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respond(http.StatusOK, `{"id":"line-1","quantity":3,"unit_price":"2.50","total_price":"7.50"}`)(w, r)
	})
	ctx := context.Background()
	client.SetCredential("tok")

	item, err := client.AddCartItem(ctx, AddItemRequest{ProductID: "p1", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)
	_, path, body := rec.last()
	assert.Equal(t, "POST /api/orders/cart/items/", path)
	assert.JSONEq(t, `{"product_id":"p1","quantity":3}`, body)

	_, err = client.UpdateCartItem(ctx, "line-1", 5)
	require.NoError(t, err)
	_, path, body = rec.last()
	assert.Equal(t, "PATCH /api/orders/cart/items/line-1/", path)
	assert.JSONEq(t, `{"quantity":5}`, body)

	require.NoError(t, client.RemoveCartItem(ctx, "line-1"))
	_, path, _ = rec.last()
	assert.Equal(t, "DELETE /api/orders/cart/items/line-1/", path)

	require.NoError(t, client.ClearCart(ctx))
	auth, path, _ := rec.last()
	assert.Equal(t, "DELETE /api/orders/cart/", path)
	assert.Equal(t, "Bearer tok", auth)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		detail   string
	}{
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"detail":"Given token not valid for any token type","code":"token_not_valid"}`,
			sentinel: ErrUnauthorized,
			detail:   "Given token not valid for any token type",
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `{"detail":"Not found."}`,
			sentinel: ErrNotFound,
			detail:   "Not found.",
		},
		{
			name:   "non field errors",
			status: http.StatusBadRequest,
			body:   `{"non_field_errors":["Invalid email or password."]}`,
			detail: "Invalid email or password.",
		},
		{
			name:   "field errors",
			status: http.StatusBadRequest,
			body:   `{"password":["Too short."],"email":["Taken."]}`,
			detail: "email: Taken.; password: Too short.",
		},
		{
			name:   "no body",
			status: http.StatusInternalServerError,
			body:   ``,
			detail: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, ClientConfig{}, respond(tt.status, tt.body))

			_, err := client.Profile(context.Background())
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.detail, apiErr.Detail)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, firstNonEmpty(tt.detail, "fallback"), Detail(err, "fallback"))
		})
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func TestClient_NetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(ClientConfig{URL: url, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	_, err = client.Profile(context.Background())
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestClient_TimeoutIsNetworkUnavailable(t *testing.T) {
	client, _ := newTestClient(t, ClientConfig{Timeout: 50 * time.Millisecond}, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	_, err := client.Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestClient_CancellationIsNotNetworkFailure(t *testing.T) {
	client, _ := newTestClient(t, ClientConfig{}, respond(http.StatusOK, `{}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Profile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNetworkUnavailable)
}

func TestClient_RetriesOnlyIdempotentRequests(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, ClientConfig{RetryMax: 2}, func(w http.ResponseWriter, r *http.Request) {
		// Every first attempt of a method fails
		if calls.Add(1)%2 == 1 {
			respond(http.StatusServiceUnavailable, `{"detail":"busy"}`)(w, r)
			return
		}
		respond(http.StatusOK, `{"id":"c1","items":[]}`)(w, r)
	})
	ctx := context.Background()

	cart, err := client.Cart(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", cart.ID)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	_, err = client.AddCartItem(ctx, AddItemRequest{ProductID: "p1", Quantity: 1})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProductQuery_Values(t *testing.T) {
	v := ProductQuery{Search: "tee", Brand: "Northwind", Ordering: "-created_at", Page: 1}.values()
	assert.Equal(t, "tee", v.Get("search"))
	assert.Equal(t, "Northwind", v.Get("brand"))
	assert.Equal(t, "-created_at", v.Get("ordering"))
	assert.False(t, v.Has("page"))
	assert.False(t, v.Has("category"))

	v = ProductQuery{Page: 3}.values()
	assert.Equal(t, "3", v.Get("page"))
}

func TestClient_UpdateProfileReturnsRawBody(t *testing.T) {
	client, rec := newTestClient(t, ClientConfig{}, respond(http.StatusOK, `{"first_name":"Ada","phone_number":"555"}`))

	raw, err := client.UpdateProfile(context.Background(), models.ProfileUpdate{"first_name": "Ada"})
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "555", fields["phone_number"])

	_, path, body := rec.last()
	assert.Equal(t, "PATCH /api/auth/profile/", path)
	assert.JSONEq(t, `{"first_name":"Ada"}`, body)
}
