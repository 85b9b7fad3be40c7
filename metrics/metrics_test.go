package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	market "github.com/goliatone/go-market"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	c := New()

	resolve := c.ResolveObserver()
	resolve(market.OutcomeAuthenticated)
	resolve(market.OutcomeAuthenticated)
	resolve(market.OutcomeBanned)

	gate := c.GateObserver()
	gate("require_authenticated", market.DecisionRedirect)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.resolutions.WithLabelValues(string(market.OutcomeAuthenticated))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolutions.WithLabelValues(string(market.OutcomeBanned))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("require_authenticated", market.DecisionRedirect.String())))
}

func TestRecordCountsTransitions(t *testing.T) {
	c := New()

	require.NoError(t, c.Record(context.Background(), market.ActivityEvent{
		EventType:  market.ActivityEventProductStatusChanged,
		FromStatus: market.ProductStatusPending,
		ToStatus:   market.ProductStatusApproved,
	}))
	require.NoError(t, c.Record(context.Background(), market.ActivityEvent{
		EventType: market.ActivityEventUserBanned,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("pending", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activity.WithLabelValues(string(market.ActivityEventUserBanned))))
}

func TestHandlerExposesCounters(t *testing.T) {
	c := New()
	c.ResolveObserver()(market.OutcomeAnonymous)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `market_identity_resolutions_total{outcome="anonymous"} 1`)
}
