package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of an access token the client looks at.
// The signature is never verified here, the backend does that.
type Claims struct {
	ExpiresAt time.Time
	Role      string
}

// Decode extracts expiry and role from a JWT. ok is false for tokens that
// are not JWTs, such tokens are treated as opaque.
func Decode(raw string) (Claims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Claims{}, false
	}
	var c Claims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.Role, _ = claims["role"].(string)
	return c, true
}
