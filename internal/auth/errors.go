package auth

import "errors"

// Token verification errors. The websocket handler refuses the connection
// before upgrade on any of these.
var (
	ErrInvalidToken            = errors.New("invalid token")
	ErrExpiredToken            = errors.New("token has expired")
	ErrUnexpectedSigningMethod = errors.New("unexpected token signing method")
)
