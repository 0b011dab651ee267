package domain

// Role is the caller's role as asserted by the auth service.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	// RoleCommittee curates listings on behalf of sellers.
	RoleCommittee Role = "committee"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller attached to every bid and wallet
// request. The engine trusts it and never re-checks credentials.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller may act on other users' resources.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// CanList reports whether the caller may create listings.
func (id Identity) CanList() bool {
	switch id.Role {
	case RoleSeller, RoleCommittee, RoleAdmin:
		return true
	}
	return false
}
