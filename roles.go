package market

import "strings"

// UserRole is the user's role
type UserRole = string

const (
	// RoleBuyer is the default role, can browse and deposit
	RoleBuyer UserRole = "buyer"
	// RoleSeller can list products
	RoleSeller UserRole = "seller"
	// RoleAdmin moderates listings and users
	RoleAdmin UserRole = "admin"
)

// SellerRoles is the role set allowed on seller gated routes
var SellerRoles = []UserRole{RoleSeller, RoleAdmin}

// AdminRoles is the role set allowed on admin gated routes
var AdminRoles = []UserRole{RoleAdmin}

// IsValidRole checks if the role is one of the predefined roles
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a UserRole
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, IsValidRole(role)
}

// RegistrableRoles are the roles a visitor may pick when signing up
func RegistrableRoles() []UserRole {
	return []UserRole{RoleBuyer, RoleSeller}
}

// HasAnyRole checks role membership in the given set
func HasAnyRole(role UserRole, roles ...UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
