package market

import (
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// Flash texts shared by the auth routes
const (
	LoginWelcomeNotice  = "Welcome back, %s!"
	LogoutNotice        = "You have been logged out successfully."
	RegistrationNotice  = "Registration successful! Please login."
	RegistrationWelcome = "Welcome to the marketplace, %s!"
	passwordMismatchMsg = "Passwords do not match."
)

type AuthControllerRoutes struct {
	Login    string
	Logout   string
	Register string
	Home     string
}

type AuthControllerViews struct {
	Login    string
	Register string
}

// AuthController serves login, registration and logout
type AuthController struct {
	Debug      bool
	Logger     Logger
	Repo       RepositoryManager
	Routes     *AuthControllerRoutes
	Views      *AuthControllerViews
	Auther     *RouteAuthenticator
	Renderer   *Views
	Errors     *ErrorHandler
	registerer *RegisterUserHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthRegisterHandler overrides the registration command handler
func WithAuthRegisterHandler(h *RegisterUserHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.registerer = h
		return c
	}
}

// WithAuthDebug logs form payloads
func WithAuthDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// WithAuthLogger overrides the logger
func WithAuthLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func NewAuthController(repo RepositoryManager, auther *RouteAuthenticator, renderer *Views, errs *ErrorHandler, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:   defLogger{},
		Repo:     repo,
		Auther:   auther,
		Renderer: renderer,
		Errors:   errs,
		Routes: &AuthControllerRoutes{
			Login:    "/auth/login",
			Logout:   "/auth/logout",
			Register: "/auth/register",
			Home:     "/",
		},
		Views: &AuthControllerViews{
			Login:    "auth/login",
			Register: "auth/register",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.registerer == nil {
		c.registerer = NewRegisterUserHandler(c.Repo).WithLogger(c.Logger)
	}

	return c
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	return a.Renderer.Render(ctx, a.Views.Login, router.ViewContext{
		"title":  "Login",
		"record": LoginRequest{},
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"email" json:"email"`
	Password   string `form:"password" json:"password"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return strings.TrimSpace(r.Identifier)
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return a.Renderer.Redirect(ctx, ErrorFlash("Failed to parse form."), a.Routes.Login)
	}

	if err := payload.Validate(); err != nil {
		return a.Renderer.Redirect(ctx, ErrorFlash("Email and password are required."), a.Routes.Login)
	}

	if a.Debug {
		a.Logger.Debug("login attempt for %s", payload.GetIdentifier())
	}

	user, err := a.Auther.Login(ctx, payload)
	if err != nil {
		switch KindOf(err) {
		case KindValidation:
			return a.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), a.Routes.Login)
		case KindForbidden:
			return a.Renderer.Redirect(ctx, ErrorFlash(BannedLoginNotice), a.Routes.Login)
		default:
			return a.Errors.Handle(ctx, err)
		}
	}

	redirect := a.Auther.GetRedirect(ctx, a.Routes.Home)
	a.Logger.Debug("login ok user=%s redirect=%s", user.ID, redirect)

	return a.Renderer.Redirect(ctx, SuccessFlash(fmt.Sprintf(LoginWelcomeNotice, user.Username)), redirect)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	if err := a.Auther.Logout(ctx); err != nil {
		a.Logger.Error("logout: %v", err)
	}
	return a.Renderer.Redirect(ctx, SuccessFlash(LogoutNotice), a.Routes.Login)
}

func (a *AuthController) RegistrationShow(ctx router.Context) error {
	return a.Renderer.Render(ctx, a.Views.Register, router.ViewContext{
		"title":  "Register",
		"roles":  RegistrableRoles(),
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{Role: RoleBuyer},
	})
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	Role            string `form:"role" json:"role"`
	WhatsappNumber  string `form:"whatsapp_number" json:"whatsapp_number"`
}

// Message converts the payload into the registration command
func (r RegistrationCreatePayload) Message() RegisterUserMessage {
	return RegisterUserMessage{
		Username:        r.Username,
		Email:           r.Email,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
		Role:            r.Role,
		WhatsappNumber:  r.WhatsappNumber,
	}
}

// Check returns the first form problem as a user facing message, empty when
// the payload is acceptable.
func (r RegistrationCreatePayload) Check() string {
	switch {
	case strings.TrimSpace(r.Username) == "" || strings.TrimSpace(r.Email) == "" || r.Password == "":
		return "Please fill in all required fields."
	case r.Password != r.ConfirmPassword:
		return passwordMismatchMsg
	case r.Role == RoleSeller && strings.TrimSpace(r.WhatsappNumber) == "":
		return "WhatsApp number is required for sellers."
	}
	return ""
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload: %v", err)
		return a.renderRegister(ctx, http.StatusBadRequest, payload, "Failed to parse form.", nil)
	}

	if msg := payload.Check(); msg != "" {
		return a.renderRegister(ctx, http.StatusBadRequest, payload, msg, nil)
	}

	if a.Debug {
		masked := *payload
		masked.Password, masked.ConfirmPassword = "***", "***"
		a.Logger.Debug("register payload:\n%s", print.MaybePrettyJSON(masked))
	}

	if err := a.registerer.Execute(ctx.Context(), payload.Message()); err != nil {
		if KindOf(err) != KindValidation {
			return a.Errors.Handle(ctx, err)
		}
		return a.renderRegister(ctx, http.StatusBadRequest, payload, PublicMessage(err), ValidationFields(err))
	}

	user, err := a.Auther.Login(ctx, LoginRequest{Identifier: payload.Email, Password: payload.Password})
	if err != nil {
		a.Logger.Warn("sign in after registration: %v", err)
		return a.Renderer.Redirect(ctx, SuccessFlash(RegistrationNotice), a.Routes.Login)
	}

	return a.Renderer.Redirect(ctx, SuccessFlash(fmt.Sprintf(RegistrationWelcome, user.Username)), a.Routes.Home)
}

func (a *AuthController) renderRegister(ctx router.Context, status int, payload *RegistrationCreatePayload, message string, fields map[string]string) error {
	record := *payload
	record.Password, record.ConfirmPassword = "", ""
	if fields == nil {
		fields = map[string]string{}
	}
	return a.Renderer.RenderWithFlash(ctx, status, ErrorFlash(message), a.Views.Register, router.ViewContext{
		"title":  "Register",
		"roles":  RegistrableRoles(),
		"errors": fields,
		"record": record,
	})
}
