package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Transport and status errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("resource not found")
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// Error is a non-2xx response from the commerce API
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("API error %d", e.StatusCode)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Detail)
}

// Is maps status codes onto the package sentinel errors
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Detail returns the server-provided message carried by err, or fallback
func Detail(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// checkResponseCode converts a non-2xx response into an *Error
func checkResponseCode(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode <= 299 {
		return nil
	}
	return &Error{StatusCode: statusCode, Detail: parseDetail(body)}
}

// parseDetail extracts a human-readable message from a REST framework error
// body: {"detail": "..."}, {"non_field_errors": [...]}, or field errors.
func parseDetail(body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		return ""
	}

	if raw, ok := payload["detail"]; ok {
		if msg := firstMessage(raw); msg != "" {
			return msg
		}
	}
	if raw, ok := payload["non_field_errors"]; ok {
		if msg := firstMessage(raw); msg != "" {
			return msg
		}
	}

	// Field errors, in a stable order
	fields := make([]string, 0, len(payload))
	for field := range payload {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var msgs []string
	for _, field := range fields {
		if msg := firstMessage(payload[field]); msg != "" {
			msgs = append(msgs, field+": "+msg)
		}
	}
	return strings.Join(msgs, "; ")
}

func firstMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
