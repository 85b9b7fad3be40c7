package market

import (
	"context"
	"fmt"
	"slices"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid product status transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrProductVersionConflict is returned when the product changed since it was read.
var ErrProductVersionConflict = goerrors.New("product was modified by another request", goerrors.CategoryConflict).
	WithTextCode(TextCodeVersionConflict).
	WithCode(goerrors.CodeConflict)

// DefaultVerifier is recorded when an admin creates an approved listing
// without naming a verifier.
const DefaultVerifier = "Marketplace Admin"

// ProductStatusStore persists status changes conditionally on the product version.
type ProductStatusStore interface {
	// UpdateStatus sets status and verifier when the stored version equals
	// version. It returns ErrProductVersionConflict otherwise.
	UpdateStatus(ctx context.Context, productID uuid.UUID, version int64, status ProductStatus, verifiedBy string) (*Product, error)
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Product *Product
	From    ProductStatus
	To      ProductStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithVerifier overrides the verifier recorded on approval.
func WithVerifier(name string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.verifier = name
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// ProductEdit lists the fields an edit changes. Nil fields are left untouched.
type ProductEdit struct {
	Name               *string
	Description        *string
	Price              *int64
	OriginalPrice      *int64
	ClearOriginalPrice bool
	Category           *string
	ImageURL           *string
	ImageHandle        *string
	Images             *[]MediaAsset
	Tags               *[]string
	Stock              *int
	VerifiedBy         *string
}

// EditResult reports what ApplyEdit changed.
type EditResult struct {
	Changed     []string
	CoreChanged bool
	StatusReset bool
	From        ProductStatus
}

// ModerationMachine owns the product moderation lifecycle.
type ModerationMachine interface {
	// InitialStatus returns the status and verifier of a product created by creator.
	InitialStatus(creator *User, verifier string) (ProductStatus, string)
	// CanTransition reports whether actor may move a product from one status to another.
	CanTransition(actor ActorRef, from, to ProductStatus) bool
	Transition(ctx context.Context, actor ActorRef, product *Product, target ProductStatus, opts ...TransitionOption) (*Product, error)
	Approve(ctx context.Context, actor ActorRef, product *Product, opts ...TransitionOption) (*Product, error)
	Reject(ctx context.Context, actor ActorRef, product *Product, opts ...TransitionOption) (*Product, error)
	// ApplyEdit mutates product in memory and resets moderation when a
	// non admin changes a core field of a reviewed listing.
	ApplyEdit(actor ActorRef, product *Product, edit ProductEdit) (EditResult, error)
	// EditPersisted publishes the status change produced by an edit once it is stored.
	EditPersisted(ctx context.Context, actor ActorRef, product *Product, result EditResult)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*moderationMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *moderationMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *moderationMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// By default the hook error is returned to the caller.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *moderationMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *moderationMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithDefaultVerifier sets the verifier recorded for admin created listings.
func WithDefaultVerifier(name string) StateMachineOption {
	return func(sm *moderationMachine) {
		if name != "" {
			sm.defaultVerifier = name
		}
	}
}

type transitionRule struct {
	adminOnly bool
}

// NewModerationMachine returns the default implementation backed by store.
func NewModerationMachine(store ProductStatusStore, opts ...StateMachineOption) ModerationMachine {
	sm := &moderationMachine{
		store: store,
		transitions: map[ProductStatus]map[ProductStatus]transitionRule{
			ProductStatusPending: {
				ProductStatusApproved: {adminOnly: true},
				ProductStatusRejected: {adminOnly: true},
			},
			ProductStatusApproved: {
				ProductStatusPending: {},
			},
		},
		now:             time.Now,
		activitySink:    noopActivitySink{},
		logger:          defLogger{},
		defaultVerifier: DefaultVerifier,
		hookErrorHandler: func(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
			return err
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type moderationMachine struct {
	store            ProductStatusStore
	transitions      map[ProductStatus]map[ProductStatus]transitionRule
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
	defaultVerifier  string
}

type transitionOptions struct {
	metadata    TransitionMetadata
	verifier    string
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}
	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *moderationMachine) InitialStatus(creator *User, verifier string) (ProductStatus, string) {
	if !creator.IsAdmin() {
		return ProductStatusPending, ""
	}
	if verifier == "" {
		verifier = sm.defaultVerifier
	}
	return ProductStatusApproved, verifier
}

func (sm *moderationMachine) CanTransition(actor ActorRef, from, to ProductStatus) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	rule, ok := allowed[to]
	if !ok {
		return false
	}
	if rule.adminOnly {
		return actor.IsAdmin()
	}
	return actor.IsAdmin() || actor.Type == ActorTypeSystem
}

func (sm *moderationMachine) Approve(ctx context.Context, actor ActorRef, product *Product, opts ...TransitionOption) (*Product, error) {
	return sm.Transition(ctx, actor, product, ProductStatusApproved, opts...)
}

func (sm *moderationMachine) Reject(ctx context.Context, actor ActorRef, product *Product, opts ...TransitionOption) (*Product, error) {
	return sm.Transition(ctx, actor, product, ProductStatusRejected, opts...)
}

func (sm *moderationMachine) Transition(ctx context.Context, actor ActorRef, product *Product, target ProductStatus, opts ...TransitionOption) (*Product, error) {
	if product == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "product is nil",
		})
	}

	if !target.IsValid() {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	from := product.Status
	if from == target {
		return product, nil
	}

	if !sm.isDefined(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !sm.CanTransition(actor, from, target) {
		return nil, NewForbidden(map[string]any{
			"from":     from,
			"to":       target,
			"actor_id": actor.ID,
		})
	}

	options := sm.buildTransitionOptions(opts...)
	tc := TransitionContext{
		Actor:   actor,
		Product: product,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	verifier := sm.verifierFor(actor, target, options)

	updated, err := sm.store.UpdateStatus(ctx, product.ID, product.Version, target, verifier)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(product, updated, target, verifier)

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventProductStatusChanged,
		Actor:      actor,
		UserID:     product.SellerID.String(),
		ProductID:  product.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(tc.Meta, product),
	})

	return product, nil
}

func (sm *moderationMachine) ApplyEdit(actor ActorRef, product *Product, edit ProductEdit) (EditResult, error) {
	result := EditResult{}
	if product == nil {
		return result, NewNotFound(nil)
	}
	result.From = product.Status

	isAdmin := actor.IsAdmin()
	if !isAdmin && actor.ID != product.SellerID.String() {
		return result, NewForbidden(map[string]any{
			"product_id": product.ID.String(),
			"actor_id":   actor.ID,
		})
	}

	core := func(field string, changed bool) {
		if changed {
			result.Changed = append(result.Changed, field)
			result.CoreChanged = true
		}
	}

	if edit.Name != nil {
		core("name", *edit.Name != product.Name)
		product.Name = *edit.Name
	}
	if edit.Description != nil {
		core("description", *edit.Description != product.Description)
		product.Description = *edit.Description
	}
	if edit.Price != nil {
		core("price", *edit.Price != product.Price)
		product.Price = *edit.Price
	}
	if edit.ClearOriginalPrice {
		core("original_price", product.OriginalPrice != nil)
		product.OriginalPrice = nil
	} else if edit.OriginalPrice != nil {
		core("original_price", product.OriginalPrice == nil || *product.OriginalPrice != *edit.OriginalPrice)
		value := *edit.OriginalPrice
		product.OriginalPrice = &value
	}
	if edit.Category != nil {
		core("category", *edit.Category != product.Category)
		product.Category = *edit.Category
	}
	if edit.ImageURL != nil {
		core("image_url", *edit.ImageURL != product.ImageURL)
		product.ImageURL = *edit.ImageURL
	}
	if edit.ImageHandle != nil {
		product.ImageHandle = *edit.ImageHandle
	}
	if edit.Images != nil {
		core("images", !slices.Equal(*edit.Images, product.Images))
		product.Images = slices.Clone(*edit.Images)
	}

	if edit.Tags != nil {
		if !slices.Equal(*edit.Tags, product.Tags) {
			result.Changed = append(result.Changed, "tags")
		}
		product.Tags = slices.Clone(*edit.Tags)
	}
	if edit.Stock != nil {
		if *edit.Stock != product.Stock {
			result.Changed = append(result.Changed, "stock")
		}
		product.Stock = *edit.Stock
	}

	if edit.VerifiedBy != nil && isAdmin && *edit.VerifiedBy != "" {
		product.VerifiedBy = *edit.VerifiedBy
	}

	if !isAdmin && result.CoreChanged && product.Status != ProductStatusPending {
		product.Status = ProductStatusPending
		product.VerifiedBy = ""
		result.StatusReset = true
	}

	return result, nil
}

func (sm *moderationMachine) EditPersisted(ctx context.Context, actor ActorRef, product *Product, result EditResult) {
	if !result.StatusReset || product == nil {
		return
	}
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventProductStatusChanged,
		Actor:      actor,
		UserID:     product.SellerID.String(),
		ProductID:  product.ID.String(),
		FromStatus: result.From,
		ToStatus:   product.Status,
		Metadata: map[string]any{
			"reason":  "edited",
			"changed": result.Changed,
			"name":    product.Name,
		},
	})
}

func (sm *moderationMachine) isDefined(from, to ProductStatus) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

func (sm *moderationMachine) verifierFor(actor ActorRef, target ProductStatus, opts *transitionOptions) string {
	if target != ProductStatusApproved {
		return ""
	}
	if opts.verifier != "" {
		return opts.verifier
	}
	if actor.Username != "" {
		return actor.Username
	}
	return sm.defaultVerifier
}

func (sm *moderationMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *moderationMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *moderationMachine) applyUpdates(product, updated *Product, target ProductStatus, verifier string) {
	if updated != nil {
		product.Status = updated.Status
		product.VerifiedBy = updated.VerifiedBy
		product.Version = updated.Version
		product.UpdatedAt = updated.UpdatedAt
		return
	}
	product.Status = target
	product.VerifiedBy = verifier
	product.Version++
}

func (sm *moderationMachine) transitionMetadata(meta TransitionMetadata, product *Product) map[string]any {
	result := map[string]any{
		"name": product.Name,
	}
	if product.VerifiedBy != "" {
		result["verified_by"] = product.VerifiedBy
	}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

// String renders the transition for logs
func (tc TransitionContext) String() string {
	id := ""
	if tc.Product != nil {
		id = tc.Product.ID.String()
	}
	return fmt.Sprintf("product=%s %s->%s actor=%s", id, tc.From, tc.To, tc.Actor.ID)
}
