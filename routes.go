package market

import (
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Services are the collaborators the controllers are built from
type Services struct {
	Repo     RepositoryManager
	Sessions *SessionManager
	Flasher  *Flasher
	Users    *UserProvider
	Machine  ModerationMachine
	Media    MediaHost
	Payments PaymentGateway
	Activity ActivitySink
	Logger   Logger
	Debug    bool
	// Passwords hashes and compares credentials, bcrypt when nil
	Passwords PasswordAuthenticator
	// PhoneRegion is used to normalize WhatsApp numbers
	PhoneRegion string
}

// Controllers groups the route handlers
type Controllers struct {
	Views    *Views
	Errors   *ErrorHandler
	Auth     *AuthController
	Products *ProductController
	Account  *AccountController
	Admin    *AdminController
	Wallet   *WalletController
}

// NewControllers wires every controller from svc
func NewControllers(svc Services) *Controllers {
	logger := svc.Logger
	if logger == nil {
		logger = defLogger{}
	}

	views := NewViews(svc.Flasher)
	errs := NewErrorHandler(views, WithErrorLogger(logger), WithErrorDetail(svc.Debug))

	opts := []CommandOption{
		WithCommandActivitySink(svc.Activity),
		WithCommandLogger(logger),
	}

	users := svc.Users
	if users == nil {
		users = NewUserProviderFromUsers(svc.Repo.Users()).
			WithLogger(logger).
			WithActivitySink(svc.Activity)
		if svc.Passwords != nil {
			users.WithPasswordAuthenticator(svc.Passwords)
		}
	}

	auther := NewHTTPAuthenticator(users, svc.Sessions)
	auther.Logger = logger

	registerer := NewRegisterUserHandler(svc.Repo).
		WithLogger(logger).
		WithActivitySink(svc.Activity).
		WithPhoneRegion(svc.PhoneRegion)
	if svc.Passwords != nil {
		registerer.WithPasswordAuthenticator(svc.Passwords)
	}

	c := &Controllers{
		Views:  views,
		Errors: errs,
		Auth: NewAuthController(svc.Repo, auther, views, errs,
			WithAuthLogger(logger),
			WithAuthDebug(svc.Debug),
			WithAuthRegisterHandler(registerer),
		),
		Products: NewProductController(svc.Repo, svc.Media, svc.Machine, views, errs, opts...),
		Account: NewAccountController(svc.Repo, svc.Media, views, errs, opts...).
			WithPhoneRegion(svc.PhoneRegion),
		Admin:  NewAdminController(svc.Repo, svc.Machine, views, errs, opts...),
		Wallet: NewWalletController(svc.Repo, svc.Payments, views, errs, opts...),
	}

	if svc.Passwords != nil {
		c.Account.WithPasswordAuthenticator(svc.Passwords)
	}

	c.Products.Logger = logger
	c.Account.Logger = logger
	c.Admin.Logger = logger
	c.Wallet.Logger = logger

	return c
}

// RegisterRoutes mounts the marketplace routes on r. The identity resolver
// must run before these routes; every protected route starts its chain with
// RequireAuthenticated.
func RegisterRoutes(r RouteRegistrar, c *Controllers, gate *Gate, owners ProductOwnerLookup) {
	guest := gate.Chain(RequireGuest())
	authenticated := gate.Chain(RequireAuthenticated())
	seller := gate.Chain(RequireAuthenticated(), RequireSeller())
	admin := gate.Chain(RequireAuthenticated(), RequireAdmin())
	owner := gate.Chain(RequireAuthenticated(), RequireOwnerOrAdmin(owners, "id"))

	r.Get("/", c.Products.Home).SetName("home")

	r.Get("/auth/login", c.Auth.LoginShow, guest).SetName("sign-in.get")
	r.Post("/auth/login", c.Auth.LoginPost, guest).SetName("sign-in.post")
	r.Get("/auth/register", c.Auth.RegistrationShow, guest).SetName("register.get")
	r.Post("/auth/register", c.Auth.RegistrationCreate, guest).SetName("register.post")
	r.Get("/auth/logout", c.Auth.LogOut, authenticated).SetName("sign-out.get")
	r.Post("/auth/logout", c.Auth.LogOut, authenticated).SetName("sign-out.post")

	r.Get("/products", c.Products.Index).SetName("products.index")
	r.Get("/products/search", c.Products.Search).SetName("products.search")
	r.Get("/products/new", c.Products.New, seller).SetName("products.new")
	r.Post("/products", c.Products.Create, seller).SetName("products.create")
	r.Get("/products/:id", c.Products.Show).SetName("products.show")
	r.Get("/products/:id/edit", c.Products.Edit, owner).SetName("products.edit")
	r.Put("/products/:id", c.Products.Update, owner).SetName("products.update")
	r.Post("/products/:id", c.Products.Update, owner).SetName("products.update.post")
	r.Delete("/products/:id", c.Products.Delete, owner).SetName("products.delete")
	r.Post("/products/:id/delete", c.Products.Delete, owner).SetName("products.delete.post")

	r.Get("/user/dashboard", c.Account.Dashboard, seller).SetName("user.dashboard")
	r.Get("/user/my-products", c.Account.MyProducts, seller).SetName("user.products")
	r.Get("/user/profile", c.Account.Profile, authenticated).SetName("user.profile")
	r.Post("/user/profile", c.Account.ProfileUpdate, authenticated).SetName("user.profile.update")
	r.Post("/user/profile/avatar", c.Account.AvatarUpdate, authenticated).SetName("user.avatar.update")
	r.Post("/user/profile/password", c.Account.PasswordUpdate, authenticated).SetName("user.password.update")

	r.Get("/admin/dashboard", c.Admin.Dashboard, admin).SetName("admin.dashboard")
	r.Get("/admin/users", c.Admin.Users, admin).SetName("admin.users")
	r.Put("/admin/users/:id/ban", c.Admin.Ban, admin).SetName("admin.users.ban")
	r.Post("/admin/users/:id/ban", c.Admin.Ban, admin).SetName("admin.users.ban.post")
	r.Put("/admin/users/:id/unban", c.Admin.Unban, admin).SetName("admin.users.unban")
	r.Post("/admin/users/:id/unban", c.Admin.Unban, admin).SetName("admin.users.unban.post")
	r.Get("/admin/products-approval", c.Admin.Approval, admin).SetName("admin.approval")
	r.Put("/admin/products/:id/approve", c.Admin.Approve, admin).SetName("admin.products.approve")
	r.Post("/admin/products/:id/approve", c.Admin.Approve, admin).SetName("admin.products.approve.post")
	r.Put("/admin/products/:id/reject", c.Admin.Reject, admin).SetName("admin.products.reject")
	r.Post("/admin/products/:id/reject", c.Admin.Reject, admin).SetName("admin.products.reject.post")

	r.Get("/wallet/deposit", c.Wallet.DepositForm, authenticated).SetName("wallet.deposit")
	r.Post("/wallet/deposit", c.Wallet.DepositCreate, authenticated).SetName("wallet.deposit.create")
	r.Post("/wallet/deposit/:id/confirm-payment", c.Wallet.DepositConfirm, authenticated).SetName("wallet.deposit.confirm")
	r.Get("/wallet/transactions", c.Wallet.Transactions, authenticated).SetName("wallet.transactions")
}
