package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessExpiry reads the exp claim of a JWT access token without verifying
// it. The signature is the server's concern; the client only needs to know
// when to refresh. Tokens that are not JWTs report ok=false.
func accessExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// expiresWithin reports whether token is a JWT expiring within d
func expiresWithin(token string, d time.Duration) bool {
	exp, ok := accessExpiry(token)
	if !ok {
		return false
	}
	return time.Until(exp) <= d
}
