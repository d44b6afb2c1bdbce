package model

import "time"

// Roles stored in users.role.
const (
	RoleCustomer   = "customer"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

// User represents an account record as stored in the `users` table.
// Accounts are never physically deleted; IsActive=false is the soft
// deactivation used by administrators.
//
// Fields:
//
//	ID           primary key identifier of the user.
//	Name         display name captured at registration.
//	Email        unique, lower-cased email address.
//	PasswordHash bcrypt hash; the plaintext never leaves the credential layer.
//	Role         customer, technician or admin.
//	IsActive     whether the account may sign in.
//	LastLoginAt  timestamp of the last successful credential check.
type User struct {
	ID           uint64     // users.id
	Name         string     // users.name
	Email        string     // users.email
	PasswordHash string     // users.password_hash
	Role         string     // users.role
	IsActive     bool       // users.is_active
	LastLoginAt  *time.Time // users.last_login_at (nullable)
	CreatedAt    time.Time  // users.created_at
	UpdatedAt    time.Time  // users.updated_at
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleCustomer, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}
