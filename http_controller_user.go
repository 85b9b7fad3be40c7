package market

import (
	"github.com/goliatone/go-router"
)

// MaxAvatarBytes bounds avatar uploads
const MaxAvatarBytes = 2 << 20

const (
	profileRoute        = "/user/profile"
	profileDetailsFrag  = "profile-details"
	changePasswordFrag  = "change-password"
	profileAvatarFrag   = "profile-avatar"
	myProductsFailedMsg = "Could not fetch your products."
)

type AccountControllerViews struct {
	Dashboard  string
	MyProducts string
	Profile    string
}

// AccountController serves the seller dashboard and the profile pages
type AccountController struct {
	Logger   Logger
	Repo     RepositoryManager
	Renderer *Views
	Errors   *ErrorHandler
	Views    *AccountControllerViews

	profile  *UpdateProfileHandler
	password *ChangePasswordHandler
	avatar   *UpdateAvatarHandler
}

func NewAccountController(repo RepositoryManager, media MediaHost, renderer *Views, errs *ErrorHandler, opts ...CommandOption) *AccountController {
	return &AccountController{
		Logger:   defLogger{},
		Repo:     repo,
		Renderer: renderer,
		Errors:   errs,
		Views: &AccountControllerViews{
			Dashboard:  "user/dashboard",
			MyProducts: "user/my_products",
			Profile:    "user/profile",
		},
		profile:  NewUpdateProfileHandler(repo, opts...),
		password: NewChangePasswordHandler(repo, opts...),
		avatar:   NewUpdateAvatarHandler(repo, media, opts...),
	}
}

// WithPhoneRegion sets the region used for WhatsApp numbers
func (c *AccountController) WithPhoneRegion(region string) *AccountController {
	c.profile.WithPhoneRegion(region)
	return c
}

// WithPasswordAuthenticator overrides the password hasher
func (c *AccountController) WithPasswordAuthenticator(auther PasswordAuthenticator) *AccountController {
	c.password.WithPasswordAuthenticator(auther)
	return c
}

func (c *AccountController) Dashboard(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)

	records, err := c.Repo.Products().ListBySeller(ctx.Context(), user.ID)
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to list seller products"))
	}

	counts := map[ProductStatus]int{}
	var views int64
	for _, p := range records {
		counts[p.Status]++
		views += p.Views
	}

	return c.Renderer.Render(ctx, c.Views.Dashboard, router.ViewContext{
		"title":    "Seller Dashboard",
		"user":     user,
		"counts":   counts,
		"total":    len(records),
		"views":    views,
		"products": records,
	})
}

func (c *AccountController) MyProducts(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)

	records, err := c.Repo.Products().ListBySeller(ctx.Context(), user.ID)
	if err != nil {
		c.Logger.Error("list products for %s: %v", user.ID, err)
		return c.Renderer.Redirect(ctx, ErrorFlash(myProductsFailedMsg), "/user/dashboard")
	}

	return c.Renderer.Render(ctx, c.Views.MyProducts, router.ViewContext{
		"title":    "My Products",
		"products": records,
	})
}

func (c *AccountController) Profile(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)
	return c.Renderer.Render(ctx, c.Views.Profile, router.ViewContext{
		"title": "My Profile",
		"user":  user,
	})
}

// ProfileUpdatePayload is the profile details form
type ProfileUpdatePayload struct {
	Username       string `form:"username" json:"username"`
	Email          string `form:"email" json:"email"`
	WhatsappNumber string `form:"whatsapp_number" json:"whatsapp_number"`
}

func (c *AccountController) ProfileUpdate(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)
	target := withFragment(profileRoute, profileDetailsFrag)

	payload := new(ProfileUpdatePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("Failed to parse form."), target)
	}

	err := c.profile.Execute(ctx.Context(), UpdateProfileMessage{
		Actor:          user,
		Username:       payload.Username,
		Email:          payload.Email,
		WhatsappNumber: payload.WhatsappNumber,
	})
	if err != nil {
		return c.fail(ctx, err, target)
	}

	return c.Renderer.Redirect(ctx, SuccessFlash("Profile updated successfully."), target)
}

// PasswordChangePayload is the change password form
type PasswordChangePayload struct {
	CurrentPassword    string `form:"current_password" json:"current_password"`
	NewPassword        string `form:"new_password" json:"new_password"`
	ConfirmNewPassword string `form:"confirm_new_password" json:"confirm_new_password"`
}

func (c *AccountController) PasswordUpdate(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)
	target := withFragment(profileRoute, changePasswordFrag)

	payload := new(PasswordChangePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("Failed to parse form."), target)
	}

	err := c.password.Execute(ctx.Context(), ChangePasswordMessage{
		Actor:              user,
		CurrentPassword:    payload.CurrentPassword,
		NewPassword:        payload.NewPassword,
		ConfirmNewPassword: payload.ConfirmNewPassword,
	})
	if err != nil {
		return c.fail(ctx, err, target)
	}

	return c.Renderer.Redirect(ctx, SuccessFlash("Password changed successfully."), target)
}

func (c *AccountController) AvatarUpdate(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)
	target := withFragment(profileRoute, profileAvatarFrag)

	form, err := ParseForm(ctx, MaxAvatarBytes)
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), target)
	}

	err = c.avatar.Execute(ctx.Context(), UpdateAvatarMessage{
		Actor:  user,
		Avatar: form.File("avatar"),
	})
	if err != nil {
		return c.fail(ctx, err, target)
	}

	return c.Renderer.Redirect(ctx, SuccessFlash("Avatar updated successfully."), target)
}

// fail flashes validation and upstream errors back to the profile page and
// hands everything else to the error handler.
func (c *AccountController) fail(ctx router.Context, err error, target string) error {
	switch KindOf(err) {
	case KindValidation, KindUpstream:
		return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), target)
	default:
		return c.Errors.Handle(ctx, err)
	}
}
