package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"neobank/internal/config"
	"neobank/internal/infrastructure/lock"
	"neobank/internal/infrastructure/logger"
	"neobank/internal/repository"
	"neobank/internal/service"
	"neobank/internal/testutil"
	"neobank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewDB(t)
	log := logger.Discard()
	ledgerCfg := &config.LedgerConfig{
		MaxRetries:       3,
		OperationTimeout: 5 * time.Second,
		MaxAmount:        "1000000",
		DefaultPageSize:  10,
		MaxPageSize:      100,
	}

	authService := service.NewAuthService(
		repository.NewAccountRepository(db),
		&config.AuthConfig{JWTSecret: "handler-secret", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost},
		log,
	)
	transferService, err := service.NewTransferService(db, lock.NoopLocker{}, ledgerCfg, service.EventTopics{}, log)
	require.NoError(t, err)

	h := NewHandler(authService, transferService, ledgerCfg, db, log)
	return &testServer{router: SetupRouter(h, log, gin.TestMode), db: db}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) register(t *testing.T, name, email string) string {
	t.Helper()

	w, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": name, "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestBankingFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "Alice", "alice@example.com")
	s.register(t, "Bob", "bob@example.com")

	w, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": "alice@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, env.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/banking/add-money", alice, gin.H{"amount": 500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var deposit struct {
		NewBalance  string          `json:"new_balance"`
		Transaction TransactionView `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &deposit))
	assert.Equal(t, "500.00", deposit.NewBalance)
	assert.Equal(t, "deposit", deposit.Transaction.Type)
	assert.Equal(t, "500.00", deposit.Transaction.BalanceAfter)

	w, env = s.do(t, http.MethodPost, "/api/v1/banking/send-money", alice, gin.H{
		"email": "bob@example.com", "amount": "200.50",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var transfer struct {
		NewBalance  string          `json:"new_balance"`
		Transaction TransactionView `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &transfer))
	assert.Equal(t, "299.50", transfer.NewBalance)
	assert.Equal(t, "transfer_out", transfer.Transaction.Type)
	assert.Equal(t, "Transfer to Bob (bob@example.com)", transfer.Transaction.Description)

	w, env = s.do(t, http.MethodGet, "/api/v1/banking/profile", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		Account AccountView `json:"account"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "299.50", profile.Account.Balance)
	assert.Len(t, profile.Account.AccountNumber, 10)

	w, env = s.do(t, http.MethodGet, "/api/v1/banking/transactions?page=1&limit=1&scope=owned", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history struct {
		Transactions []TransactionView `json:"transactions"`
		Pagination   struct {
			Current int   `json:"current"`
			Pages   int   `json:"pages"`
			Total   int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, "transfer_out", history.Transactions[0].Type)
	require.NotNil(t, history.Transactions[0].Counterparty)
	assert.Equal(t, "bob@example.com", history.Transactions[0].Counterparty.Email)
	assert.Equal(t, 1, history.Pagination.Current)
	assert.Equal(t, 2, history.Pagination.Pages)
	assert.Equal(t, int64(2), history.Pagination.Total)
}

func TestTransactions_DefaultScopeCoversBothSides(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "Alice", "alice@example.com")
	bob := s.register(t, "Bob", "bob@example.com")

	_, _ = s.do(t, http.MethodPost, "/api/v1/banking/add-money", alice, gin.H{"amount": 500})
	_, _ = s.do(t, http.MethodPost, "/api/v1/banking/add-money", bob, gin.H{"amount": 1000})
	w, _ := s.do(t, http.MethodPost, "/api/v1/banking/send-money", alice, gin.H{
		"email": "bob@example.com", "amount": 200,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	type historyData struct {
		Transactions []TransactionView `json:"transactions"`
		Pagination   struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}

	w, env := s.do(t, http.MethodGet, "/api/v1/banking/transactions", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history historyData
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Equal(t, int64(3), history.Pagination.Total)
	require.Len(t, history.Transactions, 3)

	byType := make(map[string]TransactionView)
	for _, tx := range history.Transactions {
		byType[tx.Type] = tx
	}
	require.Contains(t, byType, "transfer_in")
	require.NotNil(t, byType["transfer_in"].Owner)
	assert.Equal(t, "bob@example.com", byType["transfer_in"].Owner.Email)
	assert.Empty(t, byType["transfer_in"].BalanceAfter, "the recipient's balance must not be shown to the sender")
	assert.Equal(t, "300.00", byType["transfer_out"].BalanceAfter)
	assert.Equal(t, "500.00", byType["deposit"].BalanceAfter)

	w, env = s.do(t, http.MethodGet, "/api/v1/banking/transactions?scope=owned", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var owned historyData
	require.NoError(t, json.Unmarshal(env.Data, &owned))
	assert.Equal(t, int64(2), owned.Pagination.Total)
	for _, tx := range owned.Transactions {
		assert.NotEmpty(t, tx.BalanceAfter)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "Alice", "alice@example.com")
	s.register(t, "Bob", "bob@example.com")

	_, _ = s.do(t, http.MethodPost, "/api/v1/banking/add-money", alice, gin.H{"amount": 10})

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       interface{}
		wantStatus int
		wantReason string
	}{
		{"insufficient funds", http.MethodPost, "/api/v1/banking/send-money", alice,
			gin.H{"email": "bob@example.com", "amount": 50}, http.StatusPaymentRequired, service.ErrCodeInsufficientFunds},
		{"self transfer", http.MethodPost, "/api/v1/banking/send-money", alice,
			gin.H{"email": "alice@example.com", "amount": 1}, http.StatusBadRequest, service.ErrCodeSelfTransfer},
		{"recipient not found", http.MethodPost, "/api/v1/banking/send-money", alice,
			gin.H{"email": "ghost@example.com", "amount": 1}, http.StatusNotFound, service.ErrCodeRecipientNotFound},
		{"invalid amount", http.MethodPost, "/api/v1/banking/add-money", alice,
			gin.H{"amount": -3}, http.StatusBadRequest, service.ErrCodeInvalidAmount},
		{"missing amount", http.MethodPost, "/api/v1/banking/add-money", alice,
			gin.H{}, http.StatusBadRequest, service.ErrCodeInvalidAmount},
		{"invalid page", http.MethodGet, "/api/v1/banking/transactions?page=0", alice,
			nil, http.StatusBadRequest, service.ErrCodeInvalidPage},
		{"non numeric limit", http.MethodGet, "/api/v1/banking/transactions?limit=ten", alice,
			nil, http.StatusBadRequest, service.ErrCodeInvalidPage},
		{"bad scope", http.MethodGet, "/api/v1/banking/transactions?scope=all", alice,
			nil, http.StatusBadRequest, "invalid_input"},
		{"no token", http.MethodGet, "/api/v1/banking/profile", "",
			nil, http.StatusUnauthorized, "unauthorized"},
		{"bad token", http.MethodGet, "/api/v1/banking/profile", "garbage",
			nil, http.StatusUnauthorized, "unauthorized"},
		{"wrong password", http.MethodPost, "/api/v1/auth/login", "",
			gin.H{"email": "alice@example.com", "password": "nope-nope"}, http.StatusUnauthorized, service.ErrCodeInvalidCredentials},
		{"duplicate email", http.MethodPost, "/api/v1/auth/register", "",
			gin.H{"name": "Again", "email": "alice@example.com", "password": "secret123"}, http.StatusConflict, service.ErrCodeEmailTaken},
		{"register bad email", http.MethodPost, "/api/v1/auth/register", "",
			gin.H{"name": "X", "email": "nope", "password": "secret123"}, http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantReason, env.Reason)
			assert.NotEmpty(t, env.Message)
		})
	}

	testutil.RequireBalance(t, s.db, 1, "10")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))
}
