// Package models defines core domain types
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gender is the shopper's self-declared gender
type Gender string

const (
	GenderMale         Gender = "M"
	GenderFemale       Gender = "F"
	GenderOther        Gender = "O"
	GenderPreferNotSay Gender = "P"
)

// BodyType is used for fit recommendations
type BodyType string

const (
	BodyTypeSlim     BodyType = "slim"
	BodyTypeAthletic BodyType = "athletic"
	BodyTypeRegular  BodyType = "regular"
	BodyTypePlus     BodyType = "plus"
)

// User represents the authenticated shopper's profile as returned by the API
type User struct {
	ID          string              `json:"id"`
	Username    string              `json:"username"`
	Email       string              `json:"email"`
	FirstName   string              `json:"first_name"`
	LastName    string              `json:"last_name"`
	FullName    string              `json:"full_name"`
	PhoneNumber string              `json:"phone_number,omitempty"`
	DateOfBirth string              `json:"date_of_birth,omitempty"`
	Gender      Gender              `json:"gender,omitempty"`
	Height      decimal.NullDecimal `json:"height"`
	Weight      decimal.NullDecimal `json:"weight"`
	BodyType    BodyType            `json:"body_type,omitempty"`

	// Preferences
	PreferredColors        []string       `json:"preferred_colors"`
	PreferredStyles        []string       `json:"preferred_styles"`
	SizePreferences        map[string]any `json:"size_preferences"`
	EmailNotifications     bool           `json:"email_notifications"`
	MarketingNotifications bool           `json:"marketing_notifications"`
	DataSharingConsent     bool           `json:"data_sharing_consent"`
	HasAvatarData          bool           `json:"has_avatar_data"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// DisplayName returns the name used when greeting the shopper
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// Tokens is the bearer credential pair issued at login
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// RegisterInput contains registration data. The server is the sole validator.
type RegisterInput struct {
	Username               string `json:"username"`
	Email                  string `json:"email"`
	Password               string `json:"password"`
	PasswordConfirm        string `json:"password_confirm"`
	FirstName              string `json:"first_name"`
	LastName               string `json:"last_name"`
	PhoneNumber            string `json:"phone_number,omitempty"`
	DateOfBirth            string `json:"date_of_birth,omitempty"`
	Gender                 Gender `json:"gender,omitempty"`
	MarketingNotifications *bool  `json:"marketing_notifications,omitempty"`
	DataSharingConsent     *bool  `json:"data_sharing_consent,omitempty"`
}

// ProfileUpdate is a partial user record; only the keys present are sent
type ProfileUpdate map[string]any

// MergeUser shallow-merges the fields present in patch (a JSON object, usually
// the server's response to a profile update) over current. Fields absent from
// patch keep their current values.
func MergeUser(current User, patch []byte) (User, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return current, fmt.Errorf("failed to decode profile patch: %w", err)
	}

	base, err := json.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("failed to encode user: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return current, fmt.Errorf("failed to decode user: %w", err)
	}

	// Server fields win
	for k, v := range fields {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return current, fmt.Errorf("failed to encode merged user: %w", err)
	}
	var user User
	if err := json.Unmarshal(out, &user); err != nil {
		return current, fmt.Errorf("failed to decode merged user: %w", err)
	}
	return user, nil
}
