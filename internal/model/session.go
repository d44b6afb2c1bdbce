package model

import "time"

// Session models an entry in the `sessions` table: the durable record that
// backs one refresh token. Only the SHA-256 of the token is stored.
// IPAddress, UserAgent and Device are kept for the "active sessions" page
// and play no part in validation.
type Session struct {
	ID         uint64     // sessions.id
	UserID     uint64     // sessions.user_id
	TokenHash  string     // sessions.token_hash (hex sha256 of the raw token)
	ExpiresAt  time.Time  // sessions.expires_at
	IPAddress  string     // sessions.ip_address
	UserAgent  string     // sessions.user_agent
	Device     string     // sessions.device
	RememberMe bool       // sessions.remember_me
	IsActive   bool       // sessions.is_active
	CreatedAt  time.Time  // sessions.created_at
	RevokedAt  *time.Time // sessions.revoked_at (nullable)
}

// SessionOwner is a valid session joined with the identity of its user,
// which is what a refresh needs to mint the next access token.
type SessionOwner struct {
	Session
	Name  string
	Email string
	Role  string
}
