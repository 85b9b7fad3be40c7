package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is a deposit channel offered by the payment gateway
type PaymentMethod struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Minimum int64  `json:"minimum"`
	Maximum int64  `json:"maximum"`
	Active  bool   `json:"active"`
}

// DepositRequest asks the gateway to open a deposit
type DepositRequest struct {
	ReferenceID string
	Method      string
	PhoneNumber string
	Amount      int64
}

// DepositReceipt is the gateway's answer to a DepositRequest
type DepositReceipt struct {
	GatewayID     string
	Amount        int64
	Fee           int64
	NetAmount     int64
	QRImageURL    string
	QRImageString string
	Status        DepositStatus
	ExpiresAt     *time.Time
	Raw           map[string]any
}

// PaymentGateway is the third party deposit provider
type PaymentGateway interface {
	Methods(ctx context.Context) ([]PaymentMethod, error)
	CreateDeposit(ctx context.Context, req DepositRequest) (*DepositReceipt, error)
}

// FindActiveMethod returns the active method with code
func FindActiveMethod(methods []PaymentMethod, code string) (PaymentMethod, bool) {
	for _, m := range methods {
		if m.Code == code && m.Active {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// NewDepositReference builds the reference id sent to the gateway
func NewDepositReference(userID uuid.UUID, now time.Time) string {
	id := userID.String()
	return fmt.Sprintf("DEP-%s-%d-%s", id[len(id)-4:], now.UnixMilli(), uuid.NewString()[:6])
}
