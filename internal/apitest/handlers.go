package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/findosh/eshotry/internal/models"
)

type ctxKey struct{}

// readAll drains the body and puts a fresh reader back for the next handler
func readAll(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// authed rejects requests without a valid bearer access token
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}

		s.mu.Lock()
		id, valid := s.verify(token)
		s.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Malformed request."})
		return false
	}
	return true
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.Email]
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid email or password."}})
		return
	}
	acct.user.LastActive = time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{"user": acct.user, "tokens": s.issue(acct.user.ID)})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterInput
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields := map[string][]string{}
	if req.Email == "" {
		fields["email"] = []string{"This field is required."}
	} else if _, taken := s.accounts[req.Email]; taken {
		fields["email"] = []string{"user with this email already exists."}
	}
	if req.Username == "" {
		fields["username"] = []string{"This field is required."}
	}
	if len(req.Password) < 8 {
		fields["password"] = []string{"This password is too short. It must contain at least 8 characters."}
	} else if req.Password != req.PasswordConfirm {
		fields["password_confirm"] = []string{"Passwords don't match."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	now := time.Now().UTC()
	user := models.User{
		ID:          uuid.NewString(),
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		FullName:    strings.TrimSpace(req.FirstName + " " + req.LastName),
		PhoneNumber: req.PhoneNumber,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		CreatedAt:   now,
		LastActive:  now,
	}
	if req.MarketingNotifications != nil {
		user.MarketingNotifications = *req.MarketingNotifications
	}
	if req.DataSharingConsent != nil {
		user.DataSharingConsent = *req.DataSharingConsent
	}
	s.addAccount(user, req.Password)

	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "tokens": s.issue(user.ID)})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.refresh[req.Refresh]
	if s.refreshFails || !ok || s.blacklist[req.Refresh] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	pair := s.issue(id)
	delete(s.refresh, pair.Refresh)
	writeJSON(w, http.StatusOK, map[string]string{"access": pair.Access})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[req.RefreshToken]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid token."})
		return
	}
	s.blacklist[req.RefreshToken] = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out."})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.byID[userID(r)].user)
}

// readOnlyProfileFields are ignored in profile updates
var readOnlyProfileFields = []string{"id", "username", "email", "full_name", "created_at", "last_active", "has_avatar_data"}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if !decode(w, r, &patch) {
		return
	}
	for _, f := range readOnlyProfileFields {
		delete(patch, f)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.byID[userID(r)]
	user, err := models.MergeUser(acct.user, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid profile data."})
		return
	}
	user.FullName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	acct.user = user
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.cartFor(userID(r)))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := userID(r)
	if _, ok := s.carts[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	delete(s.carts, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		VariantID string `json:"variant_id"`
		Quantity  int    `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"quantity": {"Ensure this value is greater than or equal to 1."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productByID(req.ProductID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Product not found."})
		return
	}
	var variant *models.Variant
	if req.VariantID != "" {
		variant, ok = product.FindVariant(req.VariantID, "", "")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"variant_id": {"Invalid variant."}})
			return
		}
	}

	cart := s.cartFor(userID(r))
	now := time.Now().UTC()
	key := models.LineKey{ProductID: product.ID, VariantID: req.VariantID}
	idx := cart.FindByKey(key)
	if idx >= 0 {
		cart.Items[idx].SetQuantity(cart.Items[idx].Quantity + req.Quantity)
	} else {
		item := models.CartItem{
			ID:        uuid.NewString(),
			Product:   product.Product,
			Variant:   variant,
			Quantity:  req.Quantity,
			UnitPrice: unitPrice(product, variant),
			CreatedAt: now,
			UpdatedAt: now,
		}
		item.Recalculate()
		cart.Items = append(cart.Items, item)
		idx = len(cart.Items) - 1
	}
	cart.UpdatedAt = now
	cart.Recalculate()
	writeJSON(w, http.StatusCreated, cart.Items[idx])
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"quantity": {"Ensure this value is greater than or equal to 1."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartFor(userID(r))
	idx := cart.FindByID(r.PathValue("id"))
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	cart.Items[idx].SetQuantity(req.Quantity)
	cart.UpdatedAt = time.Now().UTC()
	cart.Recalculate()
	writeJSON(w, http.StatusOK, cart.Items[idx])
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartFor(userID(r))
	idx := cart.FindByID(r.PathValue("id"))
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	cart.UpdatedAt = time.Now().UTC()
	cart.Recalculate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	brand := q.Get("brand")
	category := q.Get("category")

	s.mu.Lock()
	results := make([]models.ProductListing, 0, len(s.products))
	for _, p := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if brand != "" && p.BrandName != brand {
			continue
		}
		if category != "" && p.CategoryName != category {
			continue
		}
		results = append(results, p.ProductListing)
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	writeJSON(w, http.StatusOK, models.ProductPage{Count: len(results), Results: results})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.products[r.PathValue("slug")]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, p)
}
