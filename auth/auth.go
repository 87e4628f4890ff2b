package auth

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized rejects a connection whose token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientScope rejects a valid token that lacks a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// UserInfo is the principal behind a verified token.
type UserInfo interface {
	UserID() string
	// Claims decodes the token claims into ref.
	Claims(ref any) error
}

// Authenticator checks the bearer token a connection presented when it was
// attached. The token reaches it through the connection value, for example
// streaminghttp.BearerToken, so a check happens per started call rather than
// per HTTP request.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, tok string) (UserInfo, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return f(ctx, tok)
}
