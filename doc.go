// Package market implements the core of a multi-role marketplace: a
// session/identity resolver, an authorization gate made of composable
// predicates, and the product moderation state machine.
//
// A request flows through the resolver first, which turns the session cookie
// into an identity attached to the request context:
//
//	resolver := market.NewIdentityResolver(sessions, market.WithResolverFlasher(flasher))
//	srv.Router().Use(resolver.Middleware())
//
// Routes then compose gate predicates into an ordered chain:
//
//	gate := market.NewGate(market.WithGateFlasher(flasher))
//	p.Post("/products/:id", ctrl.ProductUpdate,
//		gate.Chain(market.RequireAuthenticated(), market.RequireOwnerOrAdmin(repo.Products(), "id")),
//	)
//
// Listings move through pending, approved and rejected states via
// ModerationMachine, which persists status changes conditionally on the
// product version and publishes activity events to the configured sink.
package market
