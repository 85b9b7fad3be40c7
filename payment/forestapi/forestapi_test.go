package forestapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	market "github.com/goliatone/go-market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: "key-123", HTTPClient: srv.Client()})
}

func TestMethods(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deposit/methods", r.URL.Path)
		assert.Equal(t, "key-123", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":[
			{"metode":"QRIS","name":"QRIS","minimum":"1000","maximum":5000000,"status":"active"},
			{"metode":"BCA","name":"BCA VA","minimum":10000,"maximum":"10000000","status":"inactive"}
		]}`))
	})

	methods, err := client.Methods(context.Background())
	require.NoError(t, err)
	require.Len(t, methods, 2)

	assert.Equal(t, market.PaymentMethod{Code: "QRIS", Name: "QRIS", Minimum: 1000, Maximum: 5000000, Active: true}, methods[0])
	assert.False(t, methods[1].Active)

	active, ok := market.FindActiveMethod(methods, "BCA")
	assert.False(t, ok)
	assert.Empty(t, active.Code)
}

func TestMethodsNonSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","message":"invalid api key"}`))
	})

	_, err := client.Methods(context.Background())
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))
}

func TestCreateDeposit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deposit/create", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "DEP-1", q.Get("reff_id"))
		assert.Equal(t, "QRIS", q.Get("method"))
		assert.Equal(t, "false", q.Get("fee_by_customer"))
		assert.Equal(t, "25000", q.Get("nominal"))
		assert.Equal(t, "0812", q.Get("phone_number"))
		_, _ = w.Write([]byte(`{"status":"success","data":{
			"id":"F-77","reff_id":"DEP-1","nominal":25000,"fee":"350","get_balance":24650,
			"qr_image_url":"https://qr.example/1.png","qr_image_string":"000201",
			"status":"pending","expired_at":"2026-10-18 12:30:00"}}`))
	})

	receipt, err := client.CreateDeposit(context.Background(), market.DepositRequest{
		ReferenceID: "DEP-1",
		Method:      "QRIS",
		PhoneNumber: "0812",
		Amount:      25000,
	})
	require.NoError(t, err)

	assert.Equal(t, "F-77", receipt.GatewayID)
	assert.Equal(t, int64(25000), receipt.Amount)
	assert.Equal(t, int64(350), receipt.Fee)
	assert.Equal(t, int64(24650), receipt.NetAmount)
	assert.Equal(t, market.DepositStatusPending, receipt.Status)
	require.NotNil(t, receipt.ExpiresAt)
	assert.Equal(t, time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC), *receipt.ExpiresAt)
	assert.Equal(t, "success", receipt.Raw["status"])
}

func TestCreateDepositRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"failed","message":"nominal too low"}`))
	})

	_, err := client.CreateDeposit(context.Background(), market.DepositRequest{ReferenceID: "DEP-2", Method: "QRIS", Amount: 1})
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "Payment initiation failed: nominal too low", richErr.Message)
}

func TestCreateDepositTransportFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.CreateDeposit(context.Background(), market.DepositRequest{ReferenceID: "DEP-3", Method: "QRIS", Amount: 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
