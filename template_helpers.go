package market

import (
	"maps"
	"strconv"
	"strings"

	"github.com/goliatone/go-router"
)

var TemplateUserKey = CurrentUserLocalsKey

// TemplateHelpers returns helper functions and data for the view engine's
// global context.
//
// In templates, you can then use:
//
//	{% if is_authenticated(current_user) %}
//	{% if has_role(current_user, "seller") %}
//	{% if can_manage(current_user, product) %}
//	{{ format_price(product.Price) }}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"is_admin":         isAdminUser,
		"can_sell":         canSell,
		"can_manage":       canManage,
		"format_price":     FormatPrice,
		"status_class":     statusClass,

		"roles": map[string]string{
			"buyer":  RoleBuyer,
			"seller": RoleSeller,
			"admin":  RoleAdmin,
		},
		"statuses": map[string]string{
			"pending":  string(ProductStatusPending),
			"approved": string(ProductStatusApproved),
			"rejected": string(ProductStatusRejected),
		},
	}
}

// MergeTemplateData adds the current user, the flash for this response and
// the helpers to data. Keys already present in data win.
func MergeTemplateData(ctx RequestContext, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	maps.Copy(out, TemplateHelpers())

	identity := IdentityFromRequest(ctx)
	if identity.IsAuthenticated() {
		out[TemplateUserKey] = identity.User
	} else {
		out[TemplateUserKey] = nil
	}

	if flash, ok := Current(ctx); ok {
		out["flash"] = flash
	}

	maps.Copy(out, data)
	return out
}

// GetTemplateUser extracts the current user from the request
func GetTemplateUser(ctx LocalsReader) (*User, bool) {
	identity := IdentityFromRequest(ctx)
	if !identity.IsAuthenticated() {
		return nil, false
	}
	return identity.User, true
}

func asUser(user any) *User {
	switch u := user.(type) {
	case *User:
		return u
	case User:
		return &u
	case *Identity:
		if u.IsAnonymous() {
			return nil
		}
		return u.User
	default:
		return nil
	}
}

func isAuthenticated(user any) bool {
	u := asUser(user)
	return u != nil && !u.IsBanned
}

func hasRole(user any, role string) bool {
	u := asUser(user)
	return isAuthenticated(u) && u.Role == role
}

func isAdminUser(user any) bool {
	return hasRole(user, RoleAdmin)
}

func canSell(user any) bool {
	u := asUser(user)
	return isAuthenticated(u) && HasAnyRole(u.Role, SellerRoles...)
}

// canManage reports whether user may edit or delete product
func canManage(user any, product any) bool {
	u := asUser(user)
	if !isAuthenticated(u) {
		return false
	}
	var p *Product
	switch v := product.(type) {
	case *Product:
		p = v
	case Product:
		p = &v
	}
	if p == nil {
		return false
	}
	return u.IsAdmin() || p.IsOwnedBy(u)
}

func statusClass(status any) string {
	var s ProductStatus
	switch v := status.(type) {
	case ProductStatus:
		s = v
	case string:
		s = ProductStatus(v)
	}
	switch s {
	case ProductStatusApproved:
		return "success"
	case ProductStatusRejected:
		return "danger"
	case ProductStatusPending:
		return "warning"
	default:
		return "secondary"
	}
}

// FormatPrice renders an amount in rupiah with dot thousand separators
func FormatPrice(amount any) string {
	var n int64
	switch v := amount.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case *int64:
		if v == nil {
			return ""
		}
		n = *v
	case float64:
		n = int64(v)
	default:
		return ""
	}

	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)

	var b strings.Builder
	b.WriteString("Rp ")
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
