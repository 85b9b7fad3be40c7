package market

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ModerateProductMessage struct {
	Actor      *User
	ProductID  uuid.UUID
	Target     ProductStatus
	Verifier   string
	Reason     string
	OnResponse func(*Product) `json:"-"`
}

func (e ModerateProductMessage) Type() string { return "product.moderate" }

// ModerateProductHandler approves or rejects a listing
type ModerateProductHandler struct {
	commandBase
	repo    RepositoryManager
	machine ModerationMachine
}

func NewModerateProductHandler(repo RepositoryManager, machine ModerationMachine, opts ...CommandOption) *ModerateProductHandler {
	return &ModerateProductHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		machine:     machine,
	}
}

func (h *ModerateProductHandler) Execute(ctx context.Context, event ModerateProductMessage) error {
	if err := guard(ctx, "product moderation"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *ModerateProductHandler) execute(ctx context.Context, event ModerateProductMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	product, err := h.repo.Products().GetByID(ctx, event.ProductID)
	if err != nil {
		return asRichError(err, "failed to load product")
	}

	opts := []TransitionOption{WithVerifier(event.Verifier)}
	if event.Reason != "" {
		opts = append(opts, WithTransitionReason(event.Reason))
	}

	product, err = h.machine.Transition(ctx, ActorFromUser(event.Actor), product, event.Target, opts...)
	if err != nil {
		return asRichError(err, "failed to moderate product")
	}

	if event.OnResponse != nil {
		event.OnResponse(product)
	}
	return nil
}

type SetUserBanMessage struct {
	Actor      *User
	UserID     uuid.UUID
	Banned     bool
	OnResponse func(*User) `json:"-"`
}

func (e SetUserBanMessage) Type() string {
	if e.Banned {
		return "user.ban"
	}
	return "user.unban"
}

// SetUserBanHandler bans or unbans an account. Sessions of a banned user are
// left in place so the resolver can show the ban notice on the next request.
type SetUserBanHandler struct {
	commandBase
	repo RepositoryManager
}

func NewSetUserBanHandler(repo RepositoryManager, opts ...CommandOption) *SetUserBanHandler {
	return &SetUserBanHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
	}
}

func (h *SetUserBanHandler) Execute(ctx context.Context, event SetUserBanMessage) error {
	if err := guard(ctx, "user ban"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *SetUserBanHandler) execute(ctx context.Context, event SetUserBanMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}
	if !event.Actor.IsAdmin() {
		return NewForbidden(map[string]any{"user_id": event.Actor.ID.String()})
	}
	if event.Banned && event.Actor.ID == event.UserID {
		return ErrCannotBanSelf.Clone()
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().SetBanned(ctx, event.UserID, event.Banned)
	if err != nil {
		if IsNotFound(err) {
			return NewNotFound(map[string]any{"user_id": event.UserID.String()})
		}
		return asRichError(err, "failed to update user")
	}

	eventType := ActivityEventUserUnbanned
	if event.Banned {
		eventType = ActivityEventUserBanned
	}

	h.record(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     ActorFromUser(event.Actor),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"username": user.Username,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(user.Sanitized())
	}
	return nil
}
