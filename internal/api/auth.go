package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/findosh/eshotry/internal/models"
)

// AuthResponse is returned by login and register
type AuthResponse struct {
	User   models.User   `json:"user"`
	Tokens models.Tokens `json:"tokens"`
}

// Login exchanges credentials for a user record and token pair
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "auth/login/",
		body:   map[string]string{"email": email, "password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns it with a token pair
func (c *Client) Register(ctx context.Context, input models.RegisterInput) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "auth/register/",
		body:   input,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a new access token
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	var out struct {
		Access string `json:"access"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "auth/token/refresh/",
		body:   map[string]string{"refresh": refresh},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", &Error{StatusCode: http.StatusUnauthorized, Detail: "refresh response carried no access token"}
	}
	return out.Access, nil
}

// Logout asks the server to blacklist refresh. The request authenticates with
// access explicitly, not with the shared credential, because the caller has
// usually cleared that already.
func (c *Client) Logout(ctx context.Context, access, refresh string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "auth/logout/",
		body:   map[string]string{"refresh_token": refresh},
		auth:   authExplicit,
		token:  access,
	}, nil)
}

// Profile fetches the current user
func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	var out models.User
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "auth/profile/",
		auth:   authCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile sends a partial update and returns the server's raw response
// body so callers can merge exactly the fields it carries
func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "auth/profile/",
		body:   update,
		auth:   authCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
