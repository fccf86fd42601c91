package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"adminchat/pkg/types"
)

// Claims are the token claims the console issues at login. The subject is
// the user ID; the rest is the display identity copied into presence.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verifier resolves a bearer credential into a participant identity before
// a connection is allowed into the room.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier creates a verifier over an HS256 shared secret.
func NewVerifier(secret string, leeway time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: leeway}
}

// Verify parses and validates a token and returns the caller's identity.
// Only HS256 is accepted; any other signing method is rejected.
func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, ErrExpiredToken
		}
		return types.Identity{}, ErrInvalidToken
	}
	if !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	if !types.IsValidUserID(claims.Subject) {
		return types.Identity{}, ErrInvalidToken
	}

	return types.Identity{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// Issue signs a token for an identity. The login controller and the test
// suite both mint tokens through this path.
func (v *Verifier) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  identity.Name,
		Email: identity.Email,
		Role:  identity.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
