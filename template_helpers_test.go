package market_test

import (
	"net/http"
	"testing"

	market "github.com/goliatone/go-market"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateHelpers(t *testing.T) {
	helpers := market.TemplateHelpers()

	for _, name := range []string{"is_authenticated", "has_role", "is_admin", "can_sell", "can_manage", "format_price", "status_class", "roles", "statuses"} {
		assert.Contains(t, helpers, name)
	}

	isAuthenticated := helpers["is_authenticated"].(func(any) bool)
	hasRole := helpers["has_role"].(func(any, string) bool)
	canSell := helpers["can_sell"].(func(any) bool)
	canManage := helpers["can_manage"].(func(any, any) bool)
	statusClass := helpers["status_class"].(func(any) string)

	seller := newUser(market.RoleSeller, "sam")
	buyer := newUser(market.RoleBuyer, "bob")
	admin := newUser(market.RoleAdmin, "root")
	banned := newUser(market.RoleSeller, "mallory")
	banned.IsBanned = true

	t.Run("authentication", func(t *testing.T) {
		assert.True(t, isAuthenticated(seller))
		assert.True(t, isAuthenticated(*seller))
		assert.True(t, isAuthenticated(market.NewIdentity(seller, "s1")))
		assert.False(t, isAuthenticated(nil))
		assert.False(t, isAuthenticated(market.Anonymous()))
		assert.False(t, isAuthenticated(banned))
	})

	t.Run("roles", func(t *testing.T) {
		assert.True(t, hasRole(seller, "seller"))
		assert.False(t, hasRole(buyer, "seller"))
		assert.False(t, hasRole(banned, "seller"))
		assert.True(t, canSell(admin))
		assert.False(t, canSell(buyer))
	})

	t.Run("can manage", func(t *testing.T) {
		product := newProduct(seller, market.ProductStatusPending)
		assert.True(t, canManage(seller, product))
		assert.True(t, canManage(admin, *product))
		assert.False(t, canManage(buyer, product))
		assert.False(t, canManage(nil, product))
		assert.False(t, canManage(seller, "not a product"))
	})

	t.Run("status class", func(t *testing.T) {
		assert.Equal(t, "success", statusClass(market.ProductStatusApproved))
		assert.Equal(t, "danger", statusClass("rejected"))
		assert.Equal(t, "warning", statusClass(market.ProductStatusPending))
		assert.Equal(t, "secondary", statusClass(42))
	})
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(0), "Rp 0"},
		{int64(999), "Rp 999"},
		{int64(1000), "Rp 1.000"},
		{1500000, "Rp 1.500.000"},
		{int64(-25000), "Rp -25.000"},
		{int64Ptr(120000), "Rp 120.000"},
		{(*int64)(nil), ""},
		{"12", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, market.FormatPrice(tt.in), "%v", tt.in)
	}
}

func TestMergeTemplateData(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		req := newFakeContext(http.MethodGet, "/")
		data := market.MergeTemplateData(req, router.ViewContext{"title": "Home"})

		assert.Equal(t, "Home", data["title"])
		assert.Contains(t, data, market.TemplateUserKey)
		assert.Nil(t, data[market.TemplateUserKey])
		assert.NotContains(t, data, "flash")
		assert.Contains(t, data, "format_price")
	})

	t.Run("signed in with flash", func(t *testing.T) {
		req := newFakeContext(http.MethodGet, "/").withUser(newUser(market.RoleSeller, "sam"))
		req.locals[market.FlashLocalsKey] = market.SuccessFlash("Saved.")

		data := market.MergeTemplateData(req, router.ViewContext{"roles": "overridden"})

		user, ok := data[market.TemplateUserKey].(*market.User)
		require.True(t, ok)
		assert.Equal(t, "sam", user.Username)
		assert.Equal(t, market.SuccessFlash("Saved."), data["flash"])
		assert.Equal(t, "overridden", data["roles"], "caller data wins over helpers")
	})
}
