package market

import (
	"fmt"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	adminUsersRoute    = "/admin/users"
	adminApprovalRoute = "/admin/products-approval"
)

type AdminControllerViews struct {
	Dashboard string
	Users     string
	Approval  string
}

// AdminController serves moderation and user management
type AdminController struct {
	Logger   Logger
	Repo     RepositoryManager
	Renderer *Views
	Errors   *ErrorHandler
	Views    *AdminControllerViews

	moderate *ModerateProductHandler
	ban      *SetUserBanHandler
}

func NewAdminController(repo RepositoryManager, machine ModerationMachine, renderer *Views, errs *ErrorHandler, opts ...CommandOption) *AdminController {
	return &AdminController{
		Logger:   defLogger{},
		Repo:     repo,
		Renderer: renderer,
		Errors:   errs,
		Views: &AdminControllerViews{
			Dashboard: "admin/dashboard",
			Users:     "admin/users",
			Approval:  "admin/products_approval",
		},
		moderate: NewModerateProductHandler(repo, machine, opts...),
		ban:      NewSetUserBanHandler(repo, opts...),
	}
}

func (c *AdminController) Dashboard(ctx router.Context) error {
	products, err := c.Repo.Products().CountByStatus(ctx.Context())
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to count products"))
	}
	users, err := c.Repo.Users().CountByRole(ctx.Context())
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to count users"))
	}
	return c.Renderer.Render(ctx, c.Views.Dashboard, router.ViewContext{
		"title":          "Admin Dashboard",
		"product_counts": products,
		"user_counts":    users,
		"pending":        products[ProductStatusPending],
	})
}

func (c *AdminController) Users(ctx router.Context) error {
	admin, _ := GetTemplateUser(ctx)

	records, err := c.Repo.Users().ListExcept(ctx.Context(), admin.ID)
	if err != nil {
		c.Logger.Error("list users: %v", err)
		return c.Renderer.Redirect(ctx, ErrorFlash("Could not fetch users."), "/admin/dashboard")
	}
	for i, u := range records {
		records[i] = u.Sanitized()
	}

	return c.Renderer.Render(ctx, c.Views.Users, router.ViewContext{
		"title": "Manage Users",
		"users": records,
	})
}

func (c *AdminController) Ban(ctx router.Context) error {
	return c.setBanned(ctx, true)
}

func (c *AdminController) Unban(ctx router.Context) error {
	return c.setBanned(ctx, false)
}

func (c *AdminController) setBanned(ctx router.Context, banned bool) error {
	admin, _ := GetTemplateUser(ctx)

	id, err := uuid.Parse(idParam(ctx, "id"))
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("User not found."), adminUsersRoute)
	}

	var target *User
	err = c.ban.Execute(ctx.Context(), SetUserBanMessage{
		Actor:      admin,
		UserID:     id,
		Banned:     banned,
		OnResponse: func(u *User) { target = u },
	})
	if err != nil {
		switch KindOf(err) {
		case KindNotFound:
			return c.Renderer.Redirect(ctx, ErrorFlash("User not found."), adminUsersRoute)
		case KindValidation:
			return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), adminUsersRoute)
		default:
			return c.Errors.Handle(ctx, err)
		}
	}

	verb := "unbanned"
	if banned {
		verb = "banned"
	}
	return c.Renderer.Redirect(ctx, SuccessFlash(fmt.Sprintf("User %s has been %s.", target.Username, verb)), adminUsersRoute)
}

// Approval lists pending listings, oldest first
func (c *AdminController) Approval(ctx router.Context) error {
	records, err := c.Repo.Products().ListByStatus(ctx.Context(), ProductStatusPending)
	if err != nil {
		c.Logger.Error("list pending products: %v", err)
		return c.Renderer.Redirect(ctx, ErrorFlash("Could not fetch products for approval."), "/admin/dashboard")
	}
	return c.Renderer.Render(ctx, c.Views.Approval, router.ViewContext{
		"title":    "Product Approval",
		"products": records,
	})
}

// ApprovalPayload is the optional moderation form
type ApprovalPayload struct {
	Verifier string `form:"verified_by" json:"verified_by"`
	Reason   string `form:"reason" json:"reason"`
}

func (c *AdminController) Approve(ctx router.Context) error {
	return c.transition(ctx, ProductStatusApproved, "approved")
}

func (c *AdminController) Reject(ctx router.Context) error {
	return c.transition(ctx, ProductStatusRejected, "rejected")
}

func (c *AdminController) transition(ctx router.Context, target ProductStatus, verb string) error {
	admin, _ := GetTemplateUser(ctx)

	id, err := uuid.Parse(idParam(ctx, "id"))
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("Product not found."), adminApprovalRoute)
	}

	payload := new(ApprovalPayload)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Debug("moderation form ignored: %v", err)
	}

	var product *Product
	err = c.moderate.Execute(ctx.Context(), ModerateProductMessage{
		Actor:      admin,
		ProductID:  id,
		Target:     target,
		Verifier:   payload.Verifier,
		Reason:     payload.Reason,
		OnResponse: func(p *Product) { product = p },
	})
	if err != nil {
		switch KindOf(err) {
		case KindNotFound:
			return c.Renderer.Redirect(ctx, ErrorFlash("Product not found."), adminApprovalRoute)
		case KindValidation:
			return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), adminApprovalRoute)
		default:
			return c.Errors.Handle(ctx, err)
		}
	}

	return c.Renderer.Redirect(ctx, SuccessFlash(fmt.Sprintf("Product %q %s.", product.Name, verb)), adminApprovalRoute)
}
