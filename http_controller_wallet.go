package market

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const depositFormRoute = "/wallet/deposit"

type WalletControllerViews struct {
	DepositForm  string
	Instructions string
	History      string
}

// WalletController serves deposits and the transaction history
type WalletController struct {
	Logger   Logger
	Repo     RepositoryManager
	Payments PaymentGateway
	Renderer *Views
	Errors   *ErrorHandler
	Views    *WalletControllerViews

	create  *CreateDepositHandler
	confirm *ConfirmDepositHandler
}

func NewWalletController(repo RepositoryManager, payments PaymentGateway, renderer *Views, errs *ErrorHandler, opts ...CommandOption) *WalletController {
	return &WalletController{
		Logger:   defLogger{},
		Repo:     repo,
		Payments: payments,
		Renderer: renderer,
		Errors:   errs,
		Views: &WalletControllerViews{
			DepositForm:  "wallet/deposit_form",
			Instructions: "wallet/payment_instruction",
			History:      "wallet/transaction_history",
		},
		create:  NewCreateDepositHandler(repo, payments, opts...),
		confirm: NewConfirmDepositHandler(repo, opts...),
	}
}

// DepositForm lists the active payment methods
func (c *WalletController) DepositForm(ctx router.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx.Context(), 15*time.Second)
	defer cancel()

	methods, err := c.Payments.Methods(reqCtx)
	if err != nil {
		c.Logger.Error("load payment methods: %v", err)
		return c.Renderer.Redirect(ctx, ErrorFlash("Could not load payment methods."), profileRoute)
	}

	active := make([]PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if m.Active {
			active = append(active, m)
		}
	}

	return c.Renderer.Render(ctx, c.Views.DepositForm, router.ViewContext{
		"title":   "Deposit Funds",
		"methods": active,
	})
}

// DepositPayload is the deposit form
type DepositPayload struct {
	Amount     string `form:"amount" json:"amount"`
	MethodCode string `form:"method_code" json:"method_code"`
}

func (c *WalletController) DepositCreate(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)

	payload := new(DepositPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("Invalid amount or payment method."), depositFormRoute)
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(payload.Amount), 10, 64)
	if err != nil {
		amount = 0
	}

	var (
		deposit *Deposit
		method  PaymentMethod
	)
	err = c.create.Execute(ctx.Context(), CreateDepositMessage{
		Actor:      user,
		Amount:     amount,
		MethodCode: payload.MethodCode,
		OnResponse: func(d *Deposit, m PaymentMethod) {
			deposit, method = d, m
		},
	})
	if err != nil {
		switch KindOf(err) {
		case KindValidation:
			return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), depositFormRoute)
		case KindUpstream:
			c.Logger.Error("deposit creation failed: %v", err)
			return c.Renderer.Redirect(ctx, ErrorFlash(rootMessage(err)), depositFormRoute)
		default:
			return c.Errors.Handle(ctx, err)
		}
	}

	return c.Renderer.RenderWithFlash(ctx, http.StatusOK,
		InfoFlash("Please complete your payment using the details below."),
		c.Views.Instructions, router.ViewContext{
			"title":       "Complete Your Payment",
			"deposit":     deposit,
			"method_name": method.Name,
		})
}

// DepositConfirm marks a deposit paid. There is no gateway callback, the
// owner or an admin confirms manually.
func (c *WalletController) DepositConfirm(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)

	id, err := uuid.Parse(idParam(ctx, "id"))
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash("Deposit not found."), profileRoute)
	}

	var result DepositConfirmation
	err = c.confirm.Execute(ctx.Context(), ConfirmDepositMessage{
		Actor:      user,
		DepositID:  id,
		OnResponse: func(r DepositConfirmation) { result = r },
	})
	if err != nil {
		switch KindOf(err) {
		case KindNotFound:
			return c.Renderer.Redirect(ctx, ErrorFlash("Deposit not found."), profileRoute)
		case KindForbidden:
			return c.Renderer.Redirect(ctx, ErrorFlash("Unauthorized."), profileRoute)
		default:
			return c.Errors.Handle(ctx, err)
		}
	}

	return c.Renderer.Redirect(ctx, result.Flash(), profileRoute)
}

// Transactions lists the user's deposits, newest first
func (c *WalletController) Transactions(ctx router.Context) error {
	user, _ := GetTemplateUser(ctx)

	records, err := c.Repo.Deposits().ListByUser(ctx.Context(), user.ID)
	if err != nil {
		c.Logger.Error("list deposits for %s: %v", user.ID, err)
		return c.Renderer.Redirect(ctx, ErrorFlash("Could not load transaction history."), profileRoute)
	}

	return c.Renderer.Render(ctx, c.Views.History, router.ViewContext{
		"title":    "My Transactions",
		"deposits": records,
	})
}
