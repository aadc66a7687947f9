package domain

import (
	"time"
)

// Session maps an opaque bearer token to the user it was issued for.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
}

// Expired reports whether the session is older than ttl.
// A non-positive ttl means sessions never expire.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) >= ttl
}
