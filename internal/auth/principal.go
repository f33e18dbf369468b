// Package auth carries the authenticated identity attached to policy
// requests and the JWT codec used for API keys.
package auth

// Role is the privilege level carried in a JWT and on a Principal.
type Role string

const (
	// RoleAdmin is an administrator authenticated against the admin realm.
	RoleAdmin Role = "admin"
	// RoleUser is an ordinary user managing their own tokens.
	RoleUser Role = "user"
	// RoleValidate marks an API key for unauthenticated validate endpoints.
	RoleValidate Role = "validate"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleValidate:
		return true
	}
	return false
}

// Principal is the identity a request acts as. A zero Principal is an
// unauthenticated caller.
type Principal struct {
	Username string `json:"username"`
	Realm    string `json:"realm"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the principal holds the admin role
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Anonymous reports whether the principal carries no identity
func (p Principal) Anonymous() bool { return p.Username == "" }
