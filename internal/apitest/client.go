package apitest

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/findosh/eshotry/internal/api"
)

// DiscardLogger returns a logger that writes nothing
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewClient returns an API client for the fake with retries disabled
func (s *Server) NewClient(t testing.TB) *api.Client {
	t.Helper()
	return newClient(t, s.URL())
}

// UnreachableClient returns an API client whose every request fails at the
// transport level
func UnreachableClient(t testing.TB) *api.Client {
	t.Helper()

	srv := httptest.NewServer(nil)
	url := srv.URL + "/api"
	srv.Close()
	return newClient(t, url)
}

func newClient(t testing.TB, url string) *api.Client {
	t.Helper()

	client, err := api.NewClient(api.ClientConfig{
		URL:     url,
		Timeout: 5 * time.Second,
		Logger:  DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create API client: %v", err)
	}
	return client
}
