package roomly

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the identity token presented to the push channel and the
// command API. The token is opaque to the client; when it is a JWT, its
// subject and expiry are read without verifying the signature, which stays a
// server concern.
type Credentials struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// ParseCredentials wraps token, reading the JWT registered claims if present.
func ParseCredentials(token string) Credentials {
	creds := Credentials{Token: token}
	if token == "" {
		return creds
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return creds
	}
	creds.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time
	}
	return creds
}

// Validate fails when the token is missing or known to be expired at now.
func (c Credentials) Validate(now time.Time) error {
	if c.Token == "" {
		return ErrCredentialsMissing
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrCredentialsExpired, c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ExpiresIn returns the remaining lifetime, or zero when unknown or expired.
func (c Credentials) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() || now.After(c.ExpiresAt) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
