// Package apitest runs an in-process fake of the commerce API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/findosh/eshotry/internal/models"
)

// Recorded is one request received by the fake
type Recorded struct {
	Method        string
	Path          string
	Authorization string
	Body          string
}

type account struct {
	user         models.User
	passwordHash []byte
}

type failure struct {
	method string
	path   string
	status int
	times  int
}

// Server is a fake commerce API. All state is guarded by mu; the request hook
// runs before the lock is taken so tests can block individual requests.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	secret       []byte
	accessTTL    time.Duration
	generation   int
	accounts     map[string]*account // by email
	byID         map[string]*account
	refresh      map[string]string // refresh token -> user id
	blacklist    map[string]bool
	carts        map[string]*models.Cart // by user id
	products     map[string]models.ProductDetail
	failures     []*failure
	delays       map[string]time.Duration // "METHOD path" -> delay
	refreshFails bool
	hook         func(*http.Request)
	requests     []Recorded
}

// NewServer starts a fake API and stops it when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		secret:    []byte("apitest-secret"),
		accessTTL: 5 * time.Minute,
		accounts:  make(map[string]*account),
		byID:      make(map[string]*account),
		refresh:   make(map[string]string),
		blacklist: make(map[string]bool),
		carts:     make(map[string]*models.Cart),
		products:  make(map[string]models.ProductDetail),
		delays:    make(map[string]time.Duration),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login/", s.login)
	mux.HandleFunc("POST /api/auth/register/", s.register)
	mux.HandleFunc("POST /api/auth/token/refresh/", s.refreshToken)
	mux.HandleFunc("POST /api/auth/logout/", s.authed(s.logout))
	mux.HandleFunc("GET /api/auth/profile/", s.authed(s.profile))
	mux.HandleFunc("PATCH /api/auth/profile/", s.authed(s.updateProfile))
	mux.HandleFunc("GET /api/orders/cart/", s.authed(s.getCart))
	mux.HandleFunc("DELETE /api/orders/cart/", s.authed(s.clearCart))
	mux.HandleFunc("POST /api/orders/cart/items/", s.authed(s.addItem))
	mux.HandleFunc("PATCH /api/orders/cart/items/{id}/", s.authed(s.updateItem))
	mux.HandleFunc("DELETE /api/orders/cart/items/{id}/", s.authed(s.removeItem))
	mux.HandleFunc("GET /api/products/", s.listProducts)
	mux.HandleFunc("GET /api/products/{slug}/", s.getProduct)

	s.srv = httptest.NewServer(s.intercept(mux))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the API base URL
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

// CreateUser registers an account directly
func (s *Server) CreateUser(email, password, firstName string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user := models.User{
		ID:         uuid.NewString(),
		Username:   strings.Split(email, "@")[0],
		Email:      email,
		FirstName:  firstName,
		FullName:   firstName,
		CreatedAt:  now,
		LastActive: now,
	}
	s.addAccount(user, password)
	return user
}

// addAccount stores user with a hashed password. Callers hold mu.
func (s *Server) addAccount(user models.User, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	acct := &account{user: user, passwordHash: hash}
	s.accounts[user.Email] = acct
	s.byID[user.ID] = acct
}

// IssueTokens returns a fresh token pair for an existing account
func (s *Server) IssueTokens(email string) models.Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		panic("apitest: unknown account " + email)
	}
	return s.issue(acct.user.ID)
}

// AddProduct adds a product to the catalog
func (s *Server) AddProduct(p models.ProductDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.Slug] = p
}

// SetAccessTTL changes the lifetime of access tokens issued from now on
func (s *Server) SetAccessTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// ExpireAccessTokens invalidates every access token issued so far
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// FailRefresh makes the refresh endpoint reject every token
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFails = fail
}

// FailNext makes the next times requests to method+path answer with status
func (s *Server) FailNext(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, path: path, status: status, times: times})
}

// Delay holds every request to method+path for d before handling it
func (s *Server) Delay(method, path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method+" "+path] = d
}

// SetHook runs fn before every request is handled
func (s *Server) SetHook(fn func(*http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Requests returns every request received so far
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// CountRequests counts received requests matching method and path
func (s *Server) CountRequests(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Cart returns a copy of the account's server-side cart
func (s *Server) Cart(email string) models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return models.Cart{IsEmpty: true}
	}
	return *s.cartFor(acct.user.ID).Clone()
}

// IsBlacklisted reports whether refresh was invalidated by a logout
func (s *Server) IsBlacklisted(refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[refresh]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = readAll(r)
		}

		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
		})
		hook := s.hook
		delay := s.delays[r.Method+" "+r.URL.Path]
		status := s.takeFailure(r.Method, r.URL.Path)
		s.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": fmt.Sprintf("injected failure %d", status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFailure(method, path string) int {
	for i, f := range s.failures {
		if f.method == method && f.path == path {
			f.times--
			if f.times <= 0 {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
			}
			return f.status
		}
	}
	return 0
}

// issue creates a token pair. Callers hold mu.
func (s *Server) issue(userID string) models.Tokens {
	now := time.Now()
	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"gen": s.generation,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.NewString(),
	})
	signed, err := access.SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = userID
	return models.Tokens{Access: signed, Refresh: refresh}
}

// verify returns the user id of a valid access token. Callers hold mu.
func (s *Server) verify(token string) (string, bool) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	if gen, _ := claims["gen"].(float64); int(gen) < s.generation {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || s.byID[sub] == nil {
		return "", false
	}
	return sub, true
}

func (s *Server) cartFor(userID string) *models.Cart {
	cart, ok := s.carts[userID]
	if !ok {
		now := time.Now().UTC()
		cart = &models.Cart{ID: uuid.NewString(), Items: []models.CartItem{}, CreatedAt: now, UpdatedAt: now}
		s.carts[userID] = cart
	}
	cart.Recalculate()
	return cart
}

func (s *Server) productByID(id string) (models.ProductDetail, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return models.ProductDetail{}, false
}

func unitPrice(p models.ProductDetail, v *models.Variant) decimal.Decimal {
	if v != nil {
		return v.FinalPrice
	}
	return p.CurrentPrice
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}
