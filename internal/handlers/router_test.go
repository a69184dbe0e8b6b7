package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/middleware"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "handler-secret"

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	logger := zap.NewNop()
	commissions := services.NewCommissionService(st, logger)
	ledger := services.NewLedgerService(st, lock.NewMemoryLocker(), commissions,
		services.NewJournal(st, logger), nil, time.Second, logger)

	ctx := context.Background()
	for _, acc := range []*models.Account{
		{ID: "hq", Name: "Head Office", Role: models.RoleAdmin, Balance: decimal.NewFromInt(1000)},
		{ID: "lagos", Name: "Lagos", Role: models.RoleAdmin, Balance: decimal.Zero},
		{ID: "agent", Name: "Kiosk", Role: models.RoleAgent, Balance: decimal.NewFromInt(100)},
		{ID: "bob", Name: "Bob", Role: models.RoleUser, Balance: decimal.NewFromInt(50)},
		{ID: "alice", Name: "Alice", Role: models.RoleUser, Balance: decimal.Zero},
	} {
		require.NoError(t, st.CreateAccount(ctx, acc))
	}

	h := NewRouter(RouterDeps{
		Ledger:         ledger,
		Commissions:    commissions,
		StatePushes:    services.NewStatePushService(ledger),
		Withdrawals:    services.NewWithdrawalService(ledger),
		Auth:           middleware.NewAuthenticator(testSecret),
		AllowedOrigins: []string{"*"},
	})
	return &testServer{handler: h, store: st}
}

func (s *testServer) do(t *testing.T, actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": actor,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (s *testServer) balance(t *testing.T, id string) string {
	t.Helper()
	acc, err := s.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance.StringFixed(2)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = s.do(t, "", http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentledger_http_requests_total")
}

func TestTransferEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("unauthenticated", func(t *testing.T) {
		w := s.do(t, "", http.MethodPost, "/api/v1/transfers", `{"receiverId":"alice","amount":"10"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("success", func(t *testing.T) {
		w := s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"receiverId":"alice","amount":"20.50"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		rec := decode[models.TransactionRecord](t, w)
		assert.Equal(t, models.KindTransfer, rec.Kind)
		assert.Equal(t, "20.50", rec.Amount.StringFixed(2))
		assert.Equal(t, "29.50", s.balance(t, "bob"))
		assert.Equal(t, "20.50", s.balance(t, "alice"))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		w := s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"receiverId":"alice","amount":500}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, string(services.KindInsufficientBalance), decode[services.ErrorResponse](t, w).Code)
	})

	t.Run("forbidden counterparty", func(t *testing.T) {
		w := s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"receiverId":"agent","amount":1}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("validation", func(t *testing.T) {
		w := s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"amount":1,"deductionMode":"half"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[services.ErrorResponse](t, w)
		assert.Contains(t, resp.Details, "ReceiverID")
		assert.Contains(t, resp.Details, "DeductionMode")

		w = s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"receiverId":"alice","amount":1,"extra":true}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, "bob", http.MethodPost, "/api/v1/transfers", `{"receiverId":"alice","amount":0}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(services.KindInvalidAmount), decode[services.ErrorResponse](t, w).Code)
	})
}

func TestStatePushEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "hq", http.MethodPost, "/api/v1/state-pushes", `{"receiverId":"lagos","amount":100,"commissionPercent":5,"deductionMode":"deducted"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[models.TransactionRecord](t, w)
	assert.Equal(t, models.TxStatusPending, rec.Status)
	assert.Equal(t, "900.00", s.balance(t, "hq"))

	w = s.do(t, "lagos", http.MethodGet, "/api/v1/state-pushes?direction=incoming", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.TransactionRecord](t, w), 1)

	w = s.do(t, "lagos", http.MethodPost, "/api/v1/state-pushes/"+rec.ID+"/cancel", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "lagos", http.MethodPost, "/api/v1/state-pushes/"+rec.ID+"/receive", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "95.00", s.balance(t, "lagos"))

	w = s.do(t, "lagos", http.MethodPost, "/api/v1/state-pushes/"+rec.ID+"/receive", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "hq", http.MethodPut, "/api/v1/state-pushes/"+rec.ID, `{"amount":10}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "hq", http.MethodPost, "/api/v1/state-pushes/missing/receive", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWithdrawalRequestEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "agent", http.MethodPost, "/api/v1/withdrawal-requests", `{"counterpartyId":"bob","amount":30}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[services.RequestResult](t, w)
	require.NotNil(t, res.Request)

	w = s.do(t, "bob", http.MethodGet, "/api/v1/withdrawal-requests?direction=incoming&status=pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.WithdrawalRequest](t, w), 1)

	w = s.do(t, "bob", http.MethodPost, "/api/v1/withdrawal-requests/"+res.Request.ID+"/reject", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RequestRejected, decode[models.WithdrawalRequest](t, w).Status)

	w = s.do(t, "agent", http.MethodPost, "/api/v1/withdrawal-requests", `{"counterpartyId":"bob","amount":20}`)
	require.Equal(t, http.StatusCreated, w.Code)
	res = decode[services.RequestResult](t, w)

	w = s.do(t, "bob", http.MethodPost, "/api/v1/withdrawal-requests/"+res.Request.ID+"/approve", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[services.RequestResult](t, w)
	assert.Equal(t, models.KindWithdrawal, approved.Transaction.Kind)
	assert.Equal(t, "30.00", s.balance(t, "bob"))
	assert.Equal(t, "120.00", s.balance(t, "agent"))

	w = s.do(t, "bob", http.MethodPost, "/api/v1/withdrawal-requests", `{"counterpartyId":"agent","amount":5}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "agent", http.MethodPost, "/api/v1/admin/accounts", `{"name":"Carol","role":"user"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "hq", http.MethodPost, "/api/v1/admin/accounts", `{"id":"carol","name":"Carol","role":"user","phone":"+2348012345678"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "carol", decode[models.Account](t, w).ID)

	w = s.do(t, "hq", http.MethodPost, "/api/v1/admin/accounts", `{"name":"Dan","role":"root"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "hq", http.MethodPut, "/api/v1/admin/commissions/tiers/withdraw",
		`{"tiers":[{"minAmount":500,"agentPercent":5,"companyPercent":0},{"minAmount":100,"agentPercent":1,"companyPercent":0}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "bob", http.MethodGet, "/api/v1/commissions/tiers/withdraw", "")
	require.Equal(t, http.StatusOK, w.Code)
	tiers := decode[models.TieredCommission](t, w)
	require.Len(t, tiers.Tiers, 2)
	assert.Equal(t, "100", tiers.Tiers[0].MinAmount.String())

	w = s.do(t, "bob", http.MethodGet, "/api/v1/commissions/tiers/refund", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "hq", http.MethodPut, "/api/v1/admin/commissions/rule", `{"sendPercent":1,"withdrawPercent":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "bob", http.MethodGet, "/api/v1/commissions/rule", "")
	assert.Equal(t, "2", decode[models.CommissionRule](t, w).WithdrawPercent.String())

	w = s.do(t, "hq", http.MethodPut, "/api/v1/admin/commissions/states/lagos", `{"defaultPercent":5}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, "agent", http.MethodPut, "/api/v1/accounts/agent/auto-cashout", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Account](t, w).AutoAdminCashout)

	w = s.do(t, "agent", http.MethodPut, "/api/v1/accounts/agent/auto-cashout", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccountQueries(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "bob", http.MethodGet, "/api/v1/accounts/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bob", decode[models.Account](t, w).Name)

	w = s.do(t, "ghost", http.MethodGet, "/api/v1/accounts/me", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "agent", http.MethodPost, "/api/v1/topups", `{"userId":"bob","amount":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, "bob", http.MethodPost, "/api/v1/withdrawals", `{"agentId":"agent","amount":5}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, "bob", http.MethodGet, "/api/v1/transactions?kind=topup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.TransactionRecord](t, w), 1)

	w = s.do(t, "bob", http.MethodGet, "/api/v1/transactions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "agent", http.MethodGet, "/api/v1/commissions/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[services.CommissionSummary](t, w).Transactions)
	assert.True(t, strings.Contains(w.Body.String(), `"accountId":"agent"`))
}
