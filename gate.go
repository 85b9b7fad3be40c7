package market

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// LoginRequiredNotice is flashed when an anonymous user hits a protected route
const LoginRequiredNotice = "You must be signed in first!"

// DecisionKind is the outcome of a single predicate
type DecisionKind int

const (
	DecisionAllow DecisionKind = iota
	DecisionRedirect
	DecisionDeny
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionRedirect:
		return "redirect"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is returned by predicates. Redirect decisions carry a location and
// an optional flash, deny decisions carry the error rendered to the user.
type Decision struct {
	Kind         DecisionKind
	Location     string
	Flash        Flash
	RememberPath bool
	Err          error
}

// Allow lets the chain continue
func Allow() Decision {
	return Decision{Kind: DecisionAllow}
}

// RedirectTo stops the chain and sends the user to location
func RedirectTo(location string, flash Flash) Decision {
	return Decision{Kind: DecisionRedirect, Location: location, Flash: flash}
}

// Deny stops the chain with err
func Deny(err error) Decision {
	return Decision{Kind: DecisionDeny, Err: err}
}

// Stage orders predicates inside a chain
type Stage int

const (
	StageIdentity Stage = iota
	StageRole
	StageOwnership
)

// GateContext is what predicates see of the gate
type GateContext struct {
	LoginRoute string
	HomeRoute  string
}

// Predicate is a single authorization check
type Predicate interface {
	Name() string
	Stage() Stage
	Evaluate(ctx context.Context, gc GateContext, identity *Identity, req RequestContext) Decision
}

// PredicateFunc adapts a function into a Predicate
type PredicateFunc struct {
	name  string
	stage Stage
	fn    func(ctx context.Context, gc GateContext, identity *Identity, req RequestContext) Decision
}

// NewPredicate builds a Predicate from fn
func NewPredicate(name string, stage Stage, fn func(context.Context, GateContext, *Identity, RequestContext) Decision) Predicate {
	return PredicateFunc{name: name, stage: stage, fn: fn}
}

func (p PredicateFunc) Name() string { return p.name }
func (p PredicateFunc) Stage() Stage { return p.stage }
func (p PredicateFunc) Evaluate(ctx context.Context, gc GateContext, identity *Identity, req RequestContext) Decision {
	return p.fn(ctx, gc, identity, req)
}

// RequireAuthenticated passes for non anonymous, non banned identities and
// redirects to login otherwise, remembering the requested path.
func RequireAuthenticated() Predicate {
	return NewPredicate("authenticated", StageIdentity, func(_ context.Context, gc GateContext, identity *Identity, _ RequestContext) Decision {
		if identity.IsAuthenticated() {
			return Allow()
		}
		d := RedirectTo(gc.LoginRoute, InfoFlash(LoginRequiredNotice))
		d.RememberPath = true
		return d
	})
}

// RequireGuest passes only for anonymous identities
func RequireGuest() Predicate {
	return NewPredicate("guest", StageIdentity, func(_ context.Context, gc GateContext, identity *Identity, _ RequestContext) Decision {
		if !identity.IsAuthenticated() {
			return Allow()
		}
		return RedirectTo(gc.HomeRoute, Flash{})
	})
}

// RequireRole passes for authenticated identities holding one of roles
func RequireRole(roles ...UserRole) Predicate {
	name := fmt.Sprintf("role%v", roles)
	return NewPredicate(name, StageRole, func(_ context.Context, _ GateContext, identity *Identity, _ RequestContext) Decision {
		if identity.HasRole(roles...) {
			return Allow()
		}
		return Deny(NewForbidden(map[string]any{
			"required_roles": roles,
			"user_id":        identity.UserID().String(),
		}))
	})
}

// RequireSeller is RequireRole(SellerRoles...)
func RequireSeller() Predicate {
	return RequireRole(SellerRoles...)
}

// RequireAdmin is RequireRole(AdminRoles...)
func RequireAdmin() Predicate {
	return RequireRole(AdminRoles...)
}

// ProductOwnerLookup resolves the owning seller of a product
type ProductOwnerLookup interface {
	ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)
}

// ProductOwnerLookupFunc adapts a function into a ProductOwnerLookup
type ProductOwnerLookupFunc func(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)

func (fn ProductOwnerLookupFunc) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	return fn(ctx, productID)
}

// RequireOwnerOrAdmin passes when the product addressed by the route param is
// owned by the identity or the identity is an admin. Invalid or unknown ids
// are reported as not found.
func RequireOwnerOrAdmin(lookup ProductOwnerLookup, param string) Predicate {
	return NewPredicate("owner_or_admin", StageOwnership, func(ctx context.Context, _ GateContext, identity *Identity, req RequestContext) Decision {
		raw := req.Param(param)
		productID, err := uuid.Parse(raw)
		if err != nil {
			return Deny(NewNotFound(map[string]any{"product_id": raw}))
		}

		ownerID, err := lookup.ProductOwner(ctx, productID)
		if err != nil {
			if IsNotFound(err) {
				return Deny(NewNotFound(map[string]any{"product_id": raw}))
			}
			return Deny(WrapInternal(err, "failed to load product owner"))
		}

		if identity.IsAdmin() {
			return Allow()
		}

		if identity.IsAuthenticated() && ownerID == identity.UserID() {
			return Allow()
		}

		return Deny(NewForbidden(map[string]any{
			"product_id": raw,
			"user_id":    identity.UserID().String(),
		}))
	})
}

// ErrIdentityNotResolved is returned when a chain runs before the resolver
var ErrIdentityNotResolved = goerrors.New("identity must be resolved before authorization", goerrors.CategoryInternal).
	WithTextCode("IDENTITY_NOT_RESOLVED").
	WithCode(goerrors.CodeInternal)

// ErrPredicateOrder is returned when a chain lists predicates out of stage order
var ErrPredicateOrder = goerrors.New("authorization predicates out of order", goerrors.CategoryInternal).
	WithTextCode("PREDICATE_ORDER").
	WithCode(goerrors.CodeInternal)

// GateObserver is notified of every predicate decision
type GateObserver func(predicate string, kind DecisionKind)

// DenyHandler turns a deny decision into a response
type DenyHandler func(req RequestContext, err error) error

// Gate composes predicates into ordered chains
type Gate struct {
	gc          GateContext
	flasher     *Flasher
	sessions    *SessionManager
	denyHandler DenyHandler
	observer    GateObserver
	logger      Logger
}

// GateOption customizes the gate
type GateOption func(*Gate)

// WithGateFlasher sets the flasher used by redirect decisions
func WithGateFlasher(flasher *Flasher) GateOption {
	return func(g *Gate) {
		g.flasher = flasher
	}
}

// WithGateSessions sets the session manager used to remember return paths
func WithGateSessions(sessions *SessionManager) GateOption {
	return func(g *Gate) {
		g.sessions = sessions
	}
}

// WithGateRoutes overrides the login and home routes
func WithGateRoutes(login, home string) GateOption {
	return func(g *Gate) {
		if login != "" {
			g.gc.LoginRoute = login
		}
		if home != "" {
			g.gc.HomeRoute = home
		}
	}
}

// WithGateDenyHandler overrides how deny decisions are rendered. By default
// the error is returned to the router error handler.
func WithGateDenyHandler(handler DenyHandler) GateOption {
	return func(g *Gate) {
		if handler != nil {
			g.denyHandler = handler
		}
	}
}

// WithGateObserver registers a callback for predicate decisions
func WithGateObserver(observer GateObserver) GateOption {
	return func(g *Gate) {
		g.observer = observer
	}
}

// WithGateLogger overrides the logger
func WithGateLogger(logger Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate returns a gate redirecting to /auth/login and /
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		gc: GateContext{
			LoginRoute: "/auth/login",
			HomeRoute:  "/",
		},
		denyHandler: func(_ RequestContext, err error) error { return err },
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Pipeline is an ordered, validated list of predicates
type Pipeline struct {
	gate       *Gate
	predicates []Predicate
}

// Compose validates predicate order and returns a pipeline
func (g *Gate) Compose(predicates ...Predicate) (*Pipeline, error) {
	last := StageIdentity
	for i, p := range predicates {
		if p == nil {
			return nil, withMetadata(ErrPredicateOrder, map[string]any{"index": i, "reason": "nil predicate"})
		}
		if p.Stage() < last {
			return nil, withMetadata(ErrPredicateOrder, map[string]any{
				"index":     i,
				"predicate": p.Name(),
			})
		}
		last = p.Stage()
	}
	return &Pipeline{gate: g, predicates: predicates}, nil
}

// Chain is like Compose but panics on invalid order. Use it when wiring routes.
func (g *Gate) Chain(predicates ...Predicate) router.MiddlewareFunc {
	pipeline, err := g.Compose(predicates...)
	if err != nil {
		panic(err)
	}
	return pipeline.Middleware()
}

// Evaluate runs the predicates in order and returns the first non allow
// decision, or Allow when every predicate passes.
func (p *Pipeline) Evaluate(req RequestContext) Decision {
	raw, ok := req.Locals(IdentityLocalsKey).(*Identity)
	if !ok || raw == nil {
		return Deny(ErrIdentityNotResolved)
	}

	ctx := req.Context()
	for _, predicate := range p.predicates {
		decision := predicate.Evaluate(ctx, p.gate.gc, raw, req)
		if p.gate.observer != nil {
			p.gate.observer(predicate.Name(), decision.Kind)
		}
		if decision.Kind != DecisionAllow {
			p.gate.logger.Debug("gate %s: %s %s", predicate.Name(), decision.Kind, req.Path())
			return decision
		}
	}
	return Allow()
}

// Handle evaluates the pipeline and writes the response for a failed check.
// It reports whether the request may proceed.
func (p *Pipeline) Handle(req RequestContext) (bool, error) {
	decision := p.Evaluate(req)
	switch decision.Kind {
	case DecisionAllow:
		return true, nil
	case DecisionRedirect:
		if decision.RememberPath && p.gate.sessions != nil {
			p.gate.sessions.SetReturnTo(req)
		}
		// a notice queued by the resolver, such as a ban, wins over the gate's
		if p.gate.flasher != nil && !decision.Flash.IsZero() && !p.gate.flasher.Pending(req) {
			p.gate.flasher.Set(req, decision.Flash)
		}
		return false, req.Redirect(decision.Location, redirectStatus(req.Method()))
	default:
		return false, p.gate.denyHandler(req, decision.Err)
	}
}

// Middleware adapts the pipeline to a router middleware
func (p *Pipeline) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ok, err := p.Handle(ctx)
			if !ok {
				return err
			}
			return next(ctx)
		}
	}
}
