// Package session owns the shopper's authentication session: identity, the
// access/refresh token pair, and the credential attached to API requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
	"github.com/findosh/eshotry/internal/state"
	"github.com/findosh/eshotry/internal/storage"
)

// StorageKey is the persistence key of the session
const StorageKey = "auth-storage"

const (
	defaultRefreshSkew   = 30 * time.Second
	defaultLogoutTimeout = 5 * time.Second

	expiredMessage = "Your session has expired. Please log in again."
)

// State is the observable session
type State struct {
	User            *models.User   `json:"user"`
	Tokens          *models.Tokens `json:"tokens"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	IsLoading       bool           `json:"-"`
}

// API is the part of the commerce API the session uses
type API interface {
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, input models.RegisterInput) (*api.AuthResponse, error)
	RefreshToken(ctx context.Context, refresh string) (string, error)
	Logout(ctx context.Context, access, refresh string) error
	Profile(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (json.RawMessage, error)
	SetCredential(token string)
	ClearCredential()
}

// Options tunes a Manager
type Options struct {
	Logger *slog.Logger
	// Refresh before a call when the access token expires within this window.
	// Negative disables proactive refresh.
	RefreshSkew time.Duration
	// Bound on the background logout invalidation request
	LogoutTimeout time.Duration
}

// Manager is the session state machine
type Manager struct {
	api           API
	store         *state.Store[State]
	log           *slog.Logger
	refreshSkew   time.Duration
	logoutTimeout time.Duration

	refreshGroup singleflight.Group
	pending      sync.WaitGroup

	hooksMu         sync.RWMutex
	onAuthenticated []func(context.Context, models.User)
	onLogout        []func(context.Context)
}

// NewManager creates a session manager. kv may be nil to keep the session in
// memory only.
func NewManager(client API, kv storage.KeyValue, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RefreshSkew == 0 {
		opts.RefreshSkew = defaultRefreshSkew
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = defaultLogoutTimeout
	}

	var persist state.Persistence[State]
	if kv != nil {
		persist = state.NewJSONPersistence[State](kv, StorageKey, nil)
	}

	return &Manager{
		api:           client,
		store:         state.New(State{}, persist, opts.Logger),
		log:           opts.Logger,
		refreshSkew:   opts.RefreshSkew,
		logoutTimeout: opts.LogoutTimeout,
	}
}

// State returns the current session
func (m *Manager) State() State {
	return m.store.Get()
}

// User returns a copy of the current user, or nil when anonymous
func (m *Manager) User() *models.User {
	s := m.store.Get()
	if s.User == nil {
		return nil
	}
	u := *s.User
	return &u
}

// IsAuthenticated reports whether a verified user and token pair are present
func (m *Manager) IsAuthenticated() bool {
	return m.store.Get().IsAuthenticated
}

// IsLoading reports whether a login, register or startup check is running
func (m *Manager) IsLoading() bool {
	return m.store.Get().IsLoading
}

// Subscribe calls fn after every session change
func (m *Manager) Subscribe(fn func(State)) func() {
	return m.store.Subscribe(fn)
}

// OnAuthenticated registers fn to run after every successful login, register
// or startup verification
func (m *Manager) OnAuthenticated(fn func(ctx context.Context, user models.User)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onAuthenticated = append(m.onAuthenticated, fn)
}

// OnLogout registers fn to run after the session is cleared
func (m *Manager) OnLogout(fn func(ctx context.Context)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// Wait blocks until background logout invalidations have finished
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Login authenticates with email and password
func (m *Manager) Login(ctx context.Context, email, password string) (*models.User, error) {
	m.setLoading(ctx, true)

	resp, err := m.api.Login(ctx, email, password)
	if err == nil && resp.Tokens.Access == "" {
		err = errors.New("login response carried no access token")
	}
	if err != nil {
		m.setLoading(ctx, false)
		return nil, newError(ErrAuthenticationFailed, api.Detail(err, "Login failed"), err)
	}

	user := m.establish(ctx, resp.User, resp.Tokens)
	m.log.Info("welcome back", "user", user.DisplayName())
	return user, nil
}

// Register creates an account and logs in as it
func (m *Manager) Register(ctx context.Context, input models.RegisterInput) (*models.User, error) {
	m.setLoading(ctx, true)

	resp, err := m.api.Register(ctx, input)
	if err == nil && resp.Tokens.Access == "" {
		err = errors.New("register response carried no access token")
	}
	if err != nil {
		m.setLoading(ctx, false)
		return nil, newError(ErrAuthenticationFailed, api.Detail(err, "Registration failed"), err)
	}

	user := m.establish(ctx, resp.User, resp.Tokens)
	m.log.Info("welcome to eshotry", "user", user.DisplayName())
	return user, nil
}

// Logout clears the session immediately and never fails. The server-side
// invalidation of the refresh token runs in the background; its outcome is
// only logged.
func (m *Manager) Logout(ctx context.Context) {
	var prev State
	m.store.Update(ctx, func(s State) State {
		prev = s
		m.api.ClearCredential()
		return State{}
	})

	if prev.Tokens != nil && prev.Tokens.Refresh != "" {
		m.invalidate(ctx, *prev.Tokens)
	}

	m.hooksMu.RLock()
	hooks := m.onLogout
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx)
	}

	if prev.IsAuthenticated {
		m.log.Info("logged out successfully")
	}
}

// RefreshToken exchanges the refresh token for a new access token. Concurrent
// callers share one exchange. On any failure the session is logged out and
// ErrSessionExpired returned.
func (m *Manager) RefreshToken(ctx context.Context) error {
	tokens := m.store.Get().Tokens
	if tokens == nil || tokens.Refresh == "" {
		m.Logout(ctx)
		return newError(ErrSessionExpired, expiredMessage, nil)
	}

	refresh := tokens.Refresh
	ch := m.refreshGroup.DoChan(refresh, func() (any, error) {
		return nil, m.exchange(context.WithoutCancel(ctx), refresh)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) exchange(ctx context.Context, refresh string) error {
	access, err := m.api.RefreshToken(ctx, refresh)
	if err != nil {
		m.log.Warn("token refresh failed", "error", err)
		// A newer login keeps its session
		if t := m.store.Get().Tokens; t == nil || t.Refresh == refresh {
			m.Logout(ctx)
		}
		return newError(ErrSessionExpired, expiredMessage, err)
	}

	applied := false
	m.store.Update(ctx, func(s State) State {
		if s.Tokens == nil || s.Tokens.Refresh != refresh {
			return s
		}
		// Swap the credential before any waiting caller retries
		m.api.SetCredential(access)
		s.Tokens = &models.Tokens{Access: access, Refresh: refresh}
		applied = true
		return s
	})
	if !applied {
		return newError(ErrSessionExpired, expiredMessage, nil)
	}

	m.log.Debug("access token refreshed")
	return nil
}

// Authorized runs fn, an authenticated API call. The access token is refreshed
// first when it is about to expire. When fn fails with api.ErrUnauthorized the
// token is refreshed once and fn retried once; if the refresh fails the
// session is logged out and ErrSessionExpired returned instead.
func (m *Manager) Authorized(ctx context.Context, fn func(context.Context) error) error {
	tokens := m.store.Get().Tokens
	if tokens == nil || tokens.Access == "" {
		return newError(ErrNotAuthenticated, "Please log in to continue", nil)
	}
	if m.refreshSkew > 0 && expiresWithin(tokens.Access, m.refreshSkew) {
		if err := m.RefreshToken(ctx); err != nil {
			return err
		}
	}

	used := m.accessToken()
	err := fn(ctx)
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}

	// Another caller may have refreshed while fn was in flight
	if current := m.accessToken(); current == "" || current == used {
		if err := m.RefreshToken(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}

// Profile fetches the current user from the server and updates the session
func (m *Manager) Profile(ctx context.Context) (*models.User, error) {
	var user *models.User
	err := m.Authorized(ctx, func(ctx context.Context) error {
		var err error
		user, err = m.api.Profile(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.store.Update(ctx, func(s State) State {
		if s.IsAuthenticated && s.User != nil && s.User.ID == user.ID {
			u := *user
			s.User = &u
		}
		return s
	})
	return user, nil
}

// UpdateProfile sends a partial update and merges the fields the server
// returns into the current user. On failure the session is unchanged.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.User, error) {
	if !m.IsAuthenticated() {
		return nil, newError(ErrNotAuthenticated, "Please log in to continue", nil)
	}

	var raw json.RawMessage
	err := m.Authorized(ctx, func(ctx context.Context) error {
		var err error
		raw, err = m.api.UpdateProfile(ctx, update)
		return err
	})
	if errors.Is(err, ErrSessionExpired) {
		return nil, err
	}
	if err != nil {
		return nil, newError(ErrProfileUpdateFailed, api.Detail(err, "Profile update failed"), err)
	}

	var merged models.User
	var mergeErr error
	m.store.Update(ctx, func(s State) State {
		if s.User == nil {
			mergeErr = errors.New("session ended during update")
			return s
		}
		merged, mergeErr = models.MergeUser(*s.User, raw)
		if mergeErr != nil {
			return s
		}
		u := merged
		s.User = &u
		return s
	})
	if mergeErr != nil {
		return nil, newError(ErrProfileUpdateFailed, "Profile update failed", mergeErr)
	}

	m.log.Info("profile updated successfully")
	return &merged, nil
}

// InitializeAuth restores the persisted session and validates it: the stored
// access token is attached, then verified by fetching the profile. When the
// server rejects it, one refresh is attempted and the profile fetched again;
// if that fails too the session is logged out. Network failures keep the
// stored tokens, leave the session unauthenticated, and are returned so the
// caller can retry.
func (m *Manager) InitializeAuth(ctx context.Context) error {
	if err := m.store.Hydrate(ctx, restore); err != nil {
		m.log.Warn("failed to restore session", "error", err)
	}

	tokens := m.store.Get().Tokens
	if tokens == nil || tokens.Access == "" {
		return nil
	}

	m.store.Update(ctx, func(s State) State {
		m.api.SetCredential(tokens.Access)
		s.IsLoading = true
		return s
	})

	user, err := m.api.Profile(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		if err := m.RefreshToken(ctx); err != nil {
			if errors.Is(err, ErrSessionExpired) {
				m.log.Info("stored session expired")
				return nil
			}
			m.setLoading(ctx, false)
			return fmt.Errorf("failed to refresh session: %w", err)
		}
		user, err = m.api.Profile(ctx)
	}

	switch {
	case err == nil:
		verified := false
		m.store.Update(ctx, func(s State) State {
			s.IsLoading = false
			if s.Tokens == nil {
				return s
			}
			u := *user
			s.User = &u
			s.IsAuthenticated = true
			verified = true
			return s
		})
		if verified {
			m.runAuthenticated(ctx, *user)
		}
		return nil

	case errors.Is(err, api.ErrUnauthorized):
		m.Logout(ctx)
		return nil

	default:
		m.store.Update(ctx, func(s State) State {
			s.User = nil
			s.IsAuthenticated = false
			s.IsLoading = false
			return s
		})
		return fmt.Errorf("failed to verify session: %w", err)
	}
}

// restore takes the persisted tokens. The user stays unset until verified.
func restore(current, loaded State) State {
	current.Tokens = loaded.Tokens
	current.User = nil
	current.IsAuthenticated = false
	return current
}

func (m *Manager) establish(ctx context.Context, user models.User, tokens models.Tokens) *models.User {
	m.store.Update(ctx, func(State) State {
		m.api.SetCredential(tokens.Access)
		u := user
		t := tokens
		return State{User: &u, Tokens: &t, IsAuthenticated: true}
	})
	m.runAuthenticated(ctx, user)
	return &user
}

func (m *Manager) runAuthenticated(ctx context.Context, user models.User) {
	m.hooksMu.RLock()
	hooks := m.onAuthenticated
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, user)
	}
}

func (m *Manager) invalidate(ctx context.Context, tokens models.Tokens) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logoutTimeout)
		defer cancel()

		if err := m.api.Logout(ctx, tokens.Access, tokens.Refresh); err != nil {
			m.log.Warn("failed to invalidate session on server", "error", err)
		}
	}()
}

func (m *Manager) accessToken() string {
	if t := m.store.Get().Tokens; t != nil {
		return t.Access
	}
	return ""
}

func (m *Manager) setLoading(ctx context.Context, loading bool) {
	m.store.Update(ctx, func(s State) State {
		s.IsLoading = loading
		return s
	})
}
