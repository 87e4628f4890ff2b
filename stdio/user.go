package stdio

import (
	"os/user"
)

// UserProvider provides a string user ID to associate with the stdio peer.
// The stdio transport carries no credentials, so the peer is identified by
// the environment it runs in.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the user ID using the operating system's current user.
// The returned ID is user.Username when available; falling back to user.Uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// Peer is the connection value attached for a stdio session unless WithConn
// supplies another.
type Peer struct {
	UserID string
}
