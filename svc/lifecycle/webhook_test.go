package lifecycle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/subscription"
	"github.com/trailpost/billing/svc/lifecycle"
)

type parserFunc func(r *http.Request) (gateway.Event, error)

func (f parserFunc) ParseEvent(r *http.Request) (gateway.Event, error) {
	return f(r)
}

func postEvent(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	t.Run("applies a confirmed payment", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.gw.Script(gateway.MockStep{Outcome: gateway.OutcomeSucceeded, Err: gateway.ErrTimeout})
		_, err := f.manager.CreateSubscription(context.Background(), "user-1", catalog.PlanBasic, catalog.CycleMonthly, card)
		var perr *subscription.PaymentError
		require.ErrorAs(t, err, &perr)

		ev, ok := f.gw.EventFor(perr.IdempotencyKey)
		require.True(t, ok)
		body, err := json.Marshal(ev)
		require.NoError(t, err)

		h := lifecycle.NewWebhookHandler(f.manager, f.gw)
		rec, resp := postEvent(t, h, string(body))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, string(lifecycle.ReconcileApplied), resp["result"])
		assert.Equal(t, catalog.PlanBasic, f.stored(t, "user-1").Plan)

		rec, resp = postEvent(t, h, string(body))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(lifecycle.ReconcileDuplicate), resp["result"])
	})

	t.Run("maps parse failures", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := lifecycle.NewWebhookHandler(f.manager, f.gw)

		tests := []struct {
			name   string
			body   string
			status int
			want   string
		}{
			{"malformed json", `{"id":`, http.StatusBadRequest, "error"},
			{"missing user", `{"id":"evt_1","type":"payment.succeeded","transaction_id":"txn_1"}`, http.StatusBadRequest, "error"},
			{"unsupported type", `{"id":"evt_1","type":"customer.updated","user_id":"user-1"}`, http.StatusOK, "ignored"},
			{"unknown user", `{"id":"evt_1","type":"payment.succeeded","user_id":"nobody","transaction_id":"txn_1"}`, http.StatusOK, "ok"},
		}
		for _, tt := range tests {
			rec, resp := postEvent(t, h, tt.body)
			assert.Equal(t, tt.status, rec.Code, tt.name)
			assert.Equal(t, tt.want, resp["status"], tt.name)
		}
	})

	t.Run("rejects bad signatures", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := lifecycle.NewWebhookHandler(f.manager, parserFunc(func(*http.Request) (gateway.Event, error) {
			return gateway.Event{}, gateway.ErrInvalidSignature
		}))

		rec, resp := postEvent(t, h, `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid signature", resp["error"])
	})

	t.Run("reports missing configuration", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := lifecycle.NewWebhookHandler(f.manager, parserFunc(func(*http.Request) (gateway.Event, error) {
			return gateway.Event{}, gateway.ErrMissingConfig
		}))

		rec, _ := postEvent(t, h, `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("only accepts POST", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := lifecycle.NewWebhookHandler(f.manager, f.gw)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/payments", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})
}
