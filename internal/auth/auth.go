package auth

import "errors"

const RoleAdmin = "admin"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient role")
)

// Authenticator verifies bearer tokens issued by the identity provider.
// This service never mints user tokens.
type Authenticator interface {
	ValidateAccessToken(token string) (*Claims, error)
}
