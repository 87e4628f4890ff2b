// Package authtest provides Authenticator fakes for tests and local
// development.
package authtest

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/streamrpc-go/auth"
)

// Tokens is an Authenticator that accepts a fixed set of tokens, each mapped
// to a user id. Unknown tokens are rejected with auth.ErrUnauthorized.
type Tokens map[string]string

// CheckAuthentication implements auth.Authenticator.
func (ts Tokens) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := ts[tok]
	if !ok || tok == "" {
		return nil, auth.ErrUnauthorized
	}
	return User{ID: uid}, nil
}

// NoAuth accepts every non-empty token as the configured user.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator. If userID is empty, it defaults
// to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

// CheckAuthentication implements auth.Authenticator.
func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrUnauthorized
	}
	return User{ID: n.UserID}, nil
}

// User is a static auth.UserInfo.
type User struct {
	ID          string
	ClaimValues map[string]any
}

func (u User) UserID() string { return u.ID }

func (u User) Claims(ref any) error {
	if u.ClaimValues == nil {
		return nil
	}
	b, err := json.Marshal(u.ClaimValues)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
