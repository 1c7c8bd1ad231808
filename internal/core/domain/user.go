package domain

import "time"

type Username string

type User struct {
	Username Username  `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Session holds the authenticated identity the client operates under.
// The token is attached to both REST calls and the signal channel handshake.
type Session struct {
	Username     Username
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past (or within skew of) expiry.
func (s Session) Expired(skew time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(s.ExpiresAt)
}
