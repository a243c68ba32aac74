// Package middleware provides outbound HTTP transport middleware
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Middleware wraps a RoundTripper
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(r)
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Logger logs every outbound request at debug level
func Logger(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			if err != nil {
				log.Debug("request failed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start), "error", err)
				return resp, err
			}
			log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))
			return resp, nil
		})
	}
}

// UserAgent sets the User-Agent header on requests that do not carry one
func UserAgent(agent string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("User-Agent") == "" {
				r = r.Clone(r.Context())
				r.Header.Set("User-Agent", agent)
			}
			return next.RoundTrip(r)
		})
	}
}

// Chain applies middleware in order; the first wraps outermost
func Chain(rt http.RoundTripper, middleware ...Middleware) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	for i := len(middleware) - 1; i >= 0; i-- {
		rt = middleware[i](rt)
	}
	return rt
}
