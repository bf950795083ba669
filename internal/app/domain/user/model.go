package user

import "time"

// Role controls what API operations a user may perform.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// AuthProvider identifies which credential issued a user's identity.
type AuthProvider string

const (
	ProviderLegacy   AuthProvider = "legacy"
	ProviderFirebase AuthProvider = "firebase"
)

// User is an account known to the service. PasswordHash is only set for
// legacy accounts and never leaves the storage layer.
type User struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	DisplayName   string            `json:"display_name,omitempty"`
	Role          Role              `json:"role"`
	AuthProvider  AuthProvider      `json:"auth_provider"`
	FirebaseUID   string            `json:"firebase_uid,omitempty"`
	PasswordHash  string            `json:"-"`
	EmailVerified bool              `json:"email_verified"`
	EmailOptOut   bool              `json:"email_opt_out"`
	Disabled      bool              `json:"disabled"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
