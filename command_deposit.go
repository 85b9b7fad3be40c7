package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CreateDepositMessage struct {
	Actor      *User
	Amount     int64  `json:"amount"`
	MethodCode string `json:"method_code"`
	OnResponse func(*Deposit, PaymentMethod) `json:"-"`
}

func (e CreateDepositMessage) Type() string { return "wallet.deposit.create" }

// CreateDepositHandler opens a deposit with the payment gateway and stores it
type CreateDepositHandler struct {
	commandBase
	repo    RepositoryManager
	gateway PaymentGateway
}

func NewCreateDepositHandler(repo RepositoryManager, gateway PaymentGateway, opts ...CommandOption) *CreateDepositHandler {
	return &CreateDepositHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		gateway:     gateway,
	}
}

func (h *CreateDepositHandler) Execute(ctx context.Context, event CreateDepositMessage) error {
	if err := guard(ctx, "deposit creation"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *CreateDepositHandler) execute(ctx context.Context, event CreateDepositMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	event.MethodCode = strings.TrimSpace(event.MethodCode)
	if event.MethodCode == "" || event.Amount <= 0 {
		return NewValidationError("Invalid amount or payment method.", map[string]any{
			"fields": map[string]string{"amount": "must be greater than zero", "method_code": "cannot be blank"},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	methods, err := h.gateway.Methods(ctx)
	if err != nil {
		return WrapUpstream(err, "Could not verify payment method. Please try again.")
	}

	method, ok := FindActiveMethod(methods, event.MethodCode)
	if !ok {
		return NewValidationError("Selected payment method is not available.", map[string]any{
			"method_code": event.MethodCode,
		})
	}
	if method.Minimum > 0 && event.Amount < method.Minimum {
		return NewValidationError(fmt.Sprintf("Minimum deposit for %s is %d.", method.Name, method.Minimum), map[string]any{
			"fields": map[string]string{"amount": "below minimum"},
		})
	}
	if method.Maximum > 0 && event.Amount > method.Maximum {
		return NewValidationError(fmt.Sprintf("Maximum deposit for %s is %d.", method.Name, method.Maximum), map[string]any{
			"fields": map[string]string{"amount": "above maximum"},
		})
	}

	reference := NewDepositReference(event.Actor.ID, h.now())

	receipt, err := h.gateway.CreateDeposit(ctx, DepositRequest{
		ReferenceID: reference,
		Method:      method.Code,
		PhoneNumber: event.Actor.WhatsappNumber,
		Amount:      event.Amount,
	})
	if err != nil {
		return asUpstream(err, "Payment initiation failed. Please try again.")
	}

	deposit := &Deposit{
		UserID:        event.Actor.ID,
		ReferenceID:   reference,
		Method:        method.Code,
		Amount:        receipt.Amount,
		Fee:           receipt.Fee,
		NetAmount:     receipt.NetAmount,
		QRImageURL:    receipt.QRImageURL,
		QRImageString: receipt.QRImageString,
		Status:        receipt.Status,
		ExpiresAt:     receipt.ExpiresAt,
		GatewayReply:  receipt.Raw,
	}
	if receipt.GatewayID != "" {
		id := receipt.GatewayID
		deposit.GatewayID = &id
	}
	if !isKnownDepositStatus(deposit.Status) {
		deposit.Status = DepositStatusPending
	}

	deposit, err = h.repo.Deposits().Create(ctx, deposit)
	if err != nil {
		return WrapInternal(err, "failed to store deposit")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventDepositCreated,
		Actor:     ActorFromUser(event.Actor),
		UserID:    event.Actor.ID.String(),
		Metadata: map[string]any{
			"deposit_id":   deposit.ID.String(),
			"reference_id": deposit.ReferenceID,
			"method":       deposit.Method,
			"amount":       deposit.Amount,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(deposit, method)
	}
	return nil
}

func asUpstream(err error, message string) error {
	if KindOf(err) == KindUpstream {
		return err
	}
	return WrapUpstream(err, message)
}

func isKnownDepositStatus(s DepositStatus) bool {
	switch s {
	case DepositStatusPending, DepositStatusProcessing, DepositStatusSuccess, DepositStatusFailed, DepositStatusExpired:
		return true
	default:
		return false
	}
}

// ConfirmOutcome is the result of a payment confirmation
type ConfirmOutcome string

const (
	ConfirmCredited         ConfirmOutcome = "credited"
	ConfirmAlreadyProcessed ConfirmOutcome = "already_processed"
	ConfirmNotConfirmable   ConfirmOutcome = "not_confirmable"
)

// DepositConfirmation describes what a confirmation did
type DepositConfirmation struct {
	Deposit *Deposit
	Outcome ConfirmOutcome
	Balance int64
}

// Flash renders the notice shown after a confirmation
func (c DepositConfirmation) Flash() Flash {
	switch c.Outcome {
	case ConfirmCredited:
		return SuccessFlash(fmt.Sprintf(
			"Deposit of %d successfully processed. Your new balance is %d.",
			c.Deposit.NetAmount, c.Balance,
		))
	case ConfirmAlreadyProcessed:
		return InfoFlash("This deposit has already been processed.")
	default:
		status := DepositStatus("")
		if c.Deposit != nil {
			status = c.Deposit.Status
		}
		return ErrorFlash(fmt.Sprintf("This deposit cannot be confirmed (status: %s).", status))
	}
}

type ConfirmDepositMessage struct {
	Actor      *User
	DepositID  uuid.UUID
	OnResponse func(DepositConfirmation) `json:"-"`
}

func (e ConfirmDepositMessage) Type() string { return "wallet.deposit.confirm" }

// ConfirmDepositHandler marks a deposit paid and credits the owner's balance
// in one transaction. Only the owner or an admin may confirm.
type ConfirmDepositHandler struct {
	commandBase
	repo RepositoryManager
}

func NewConfirmDepositHandler(repo RepositoryManager, opts ...CommandOption) *ConfirmDepositHandler {
	return &ConfirmDepositHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
	}
}

func (h *ConfirmDepositHandler) Execute(ctx context.Context, event ConfirmDepositMessage) error {
	if err := guard(ctx, "deposit confirmation"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *ConfirmDepositHandler) execute(ctx context.Context, event ConfirmDepositMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	result := DepositConfirmation{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		deposit, err := h.repo.Deposits().GetByIDTx(ctx, tx, event.DepositID)
		if err != nil {
			return err
		}

		if deposit.UserID != event.Actor.ID && !event.Actor.IsAdmin() {
			return NewForbidden(map[string]any{
				"deposit_id": deposit.ID.String(),
				"user_id":    event.Actor.ID.String(),
			})
		}

		result.Deposit = deposit

		switch {
		case deposit.Status == DepositStatusSuccess:
			result.Outcome = ConfirmAlreadyProcessed
			return nil
		case !deposit.Status.IsConfirmable():
			result.Outcome = ConfirmNotConfirmable
			return nil
		}

		moved, err := h.repo.Deposits().TransitionTx(ctx, tx, deposit.ID, DepositStatusSuccess,
			DepositStatusPending, DepositStatusProcessing)
		if err != nil {
			return err
		}
		if !moved {
			result.Outcome = ConfirmAlreadyProcessed
			return nil
		}

		if err := h.repo.Users().CreditBalanceTx(ctx, tx, deposit.UserID, deposit.NetAmount); err != nil {
			return err
		}

		owner, err := h.repo.Users().GetByIdentifierTx(ctx, tx, deposit.UserID.String())
		if err != nil {
			return err
		}

		deposit.Status = DepositStatusSuccess
		result.Outcome = ConfirmCredited
		result.Balance = owner.Balance
		return nil
	})
	if err != nil {
		return asRichError(err, "deposit confirmation transaction failed")
	}

	if result.Outcome == ConfirmCredited {
		h.record(ctx, ActivityEvent{
			EventType: ActivityEventDepositConfirmed,
			Actor:     ActorFromUser(event.Actor),
			UserID:    result.Deposit.UserID.String(),
			Metadata: map[string]any{
				"deposit_id": result.Deposit.ID.String(),
				"net_amount": result.Deposit.NetAmount,
				"balance":    result.Balance,
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}

type ExpireDepositsMessage struct {
	OnResponse func(int64) `json:"-"`
}

func (e ExpireDepositsMessage) Type() string { return "wallet.deposit.expire" }

// ExpireDepositsHandler expires unpaid deposits past their expiry time
type ExpireDepositsHandler struct {
	commandBase
	repo RepositoryManager
}

func NewExpireDepositsHandler(repo RepositoryManager, opts ...CommandOption) *ExpireDepositsHandler {
	return &ExpireDepositsHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
	}
}

func (h *ExpireDepositsHandler) Execute(ctx context.Context, event ExpireDepositsMessage) error {
	if err := guard(ctx, "deposit expiry"); err != nil {
		return err
	}

	n, err := h.repo.Deposits().ExpireStale(ctx, h.now())
	if err != nil {
		return WrapInternal(err, "failed to expire deposits")
	}
	if n > 0 {
		h.logger.Info("expired %d stale deposits", n)
	}
	if event.OnResponse != nil {
		event.OnResponse(n)
	}
	return nil
}

type PurgeSessionsMessage struct {
	OnResponse func(int64) `json:"-"`
}

func (e PurgeSessionsMessage) Type() string { return "session.purge" }

// PurgeSessionsHandler deletes expired sessions from the store
type PurgeSessionsHandler struct {
	commandBase
	store SessionStore
}

func NewPurgeSessionsHandler(store SessionStore, opts ...CommandOption) *PurgeSessionsHandler {
	return &PurgeSessionsHandler{
		commandBase: newCommandBase(opts...),
		store:       store,
	}
}

func (h *PurgeSessionsHandler) Execute(ctx context.Context, event PurgeSessionsMessage) error {
	if err := guard(ctx, "session purge"); err != nil {
		return err
	}

	n, err := h.store.PurgeExpired(ctx, h.now())
	if err != nil {
		return WrapInternal(err, "failed to purge sessions")
	}
	if n > 0 {
		h.logger.Info("purged %d expired sessions", n)
	}
	if event.OnResponse != nil {
		event.OnResponse(n)
	}
	return nil
}
