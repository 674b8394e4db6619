package handler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/address"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/auth"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/events/logsink"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/ledger"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/lock/local"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mock implementations ----

type mockAccountService struct {
	initializeFn func(models.Caller, models.PublicKey) (*models.LedgerAccount, error)
	depositFn    func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error)
	withdrawFn   func(models.Caller, models.PublicKey) (*ledger.WithdrawResult, error)
	getFn        func(models.PublicKey) (*models.AccountView, error)
	airdropFn    func(models.Caller, models.PublicKey, uint64) (uint64, error)
}

func (m *mockAccountService) Initialize(ctx context.Context, caller models.Caller, owner models.PublicKey) (*models.LedgerAccount, error) {
	if m.initializeFn != nil {
		return m.initializeFn(caller, owner)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockAccountService) Deposit(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (*ledger.DepositResult, error) {
	if m.depositFn != nil {
		return m.depositFn(caller, owner, amount)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockAccountService) Withdraw(ctx context.Context, caller models.Caller, owner models.PublicKey) (*ledger.WithdrawResult, error) {
	if m.withdrawFn != nil {
		return m.withdrawFn(caller, owner)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockAccountService) GetAccount(ctx context.Context, owner models.PublicKey) (*models.AccountView, error) {
	if m.getFn != nil {
		return m.getFn(owner)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockAccountService) WalletBalance(ctx context.Context, owner models.PublicKey) (uint64, error) {
	return 42, nil
}
func (m *mockAccountService) Airdrop(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (uint64, error) {
	if m.airdropFn != nil {
		return m.airdropFn(caller, owner, amount)
	}
	return amount, nil
}

// ---- helpers ----

var (
	testOwner  = models.PublicKey{7}
	testCaller = models.Caller{Identity: testOwner, Signed: true}
)

func fakeAuth(caller models.Caller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(callerKey, caller)
		c.Next()
	}
}

func newTestRouter(svc AccountService, caller models.Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1", fakeAuth(caller))
	NewAccountHandler(svc, zap.NewNop()).Register(v1)
	return r
}

func doRequest(router *gin.Engine, method, url string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ---- tests ----

func TestInitializeAccount(t *testing.T) {
	tests := []struct {
		name           string
		initializeFn   func(models.Caller, models.PublicKey) (*models.LedgerAccount, error)
		expectedStatus int
	}{
		{
			name: "success - create sub-account",
			initializeFn: func(caller models.Caller, owner models.PublicKey) (*models.LedgerAccount, error) {
				return &models.LedgerAccount{Owner: owner}, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "conflict - already initialized",
			initializeFn: func(models.Caller, models.PublicKey) (*models.LedgerAccount, error) {
				return nil, ledger.ErrAlreadyExists
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "internal - derivation exhausted",
			initializeFn: func(models.Caller, models.PublicKey) (*models.LedgerAccount, error) {
				return nil, fmt.Errorf("derive address: %w", ledger.ErrDerivationExhausted)
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountService{initializeFn: tt.initializeFn}, testCaller)
			w := doRequest(router, http.MethodPost, "/v1/accounts", nil, nil)
			assert.Equalf(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}
}

func TestDepositHandler(t *testing.T) {
	tests := []struct {
		name           string
		owner          string
		body           any
		depositFn      func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error)
		expectedStatus int
	}{
		{
			name:  "success - deposit",
			owner: testOwner.String(),
			body:  map[string]any{"amount": 500},
			depositFn: func(caller models.Caller, owner models.PublicKey, amount uint64) (*ledger.DepositResult, error) {
				return &ledger.DepositResult{Account: &models.LedgerAccount{Owner: owner, Balance: amount}, Deposited: amount}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - zero amount",
			owner:          testOwner.String(),
			body:           map[string]any{"amount": 0},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - negative amount",
			owner:          testOwner.String(),
			body:           map[string]any{"amount": -5},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - invalid owner",
			owner:          "not-base58-0OIl",
			body:           map[string]any{"amount": 5},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "not found - account not initialized",
			owner: testOwner.String(),
			body:  map[string]any{"amount": 5},
			depositFn: func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error) {
				return nil, ledger.ErrNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:  "unprocessable - insufficient funds",
			owner: testOwner.String(),
			body:  map[string]any{"amount": 5},
			depositFn: func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error) {
				return nil, fmt.Errorf("%w: have 1, need 5", ledger.ErrInsufficientCallerFunds)
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:  "unauthorized - unsigned",
			owner: testOwner.String(),
			body:  map[string]any{"amount": 5},
			depositFn: func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error) {
				return nil, ledger.ErrSignatureRequired
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:  "forbidden - someone else's account",
			owner: testOwner.String(),
			body:  map[string]any{"amount": 5},
			depositFn: func(models.Caller, models.PublicKey, uint64) (*ledger.DepositResult, error) {
				return nil, ledger.ErrUnauthorized
			},
			expectedStatus: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountService{depositFn: tt.depositFn}, testCaller)
			w := doRequest(router, http.MethodPost, "/v1/accounts/"+tt.owner+"/deposit", tt.body, nil)
			assert.Equalf(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}
}

func TestWithdrawHandler(t *testing.T) {
	tests := []struct {
		name           string
		withdrawFn     func(models.Caller, models.PublicKey) (*ledger.WithdrawResult, error)
		expectedStatus int
	}{
		{
			name: "success - withdraw",
			withdrawFn: func(caller models.Caller, owner models.PublicKey) (*ledger.WithdrawResult, error) {
				return &ledger.WithdrawResult{Account: &models.LedgerAccount{Balance: 95}, Disbursed: 10}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "unprocessable - below reserve",
			withdrawFn: func(models.Caller, models.PublicKey) (*ledger.WithdrawResult, error) {
				return nil, ledger.ErrBelowReservedMinimum
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountService{withdrawFn: tt.withdrawFn}, testCaller)
			w := doRequest(router, http.MethodPost, "/v1/accounts/"+testOwner.String()+"/withdraw", nil, nil)
			assert.Equalf(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}
}

func TestWalletHandlers(t *testing.T) {
	router := newTestRouter(&mockAccountService{}, testCaller)

	w := doRequest(router, http.MethodGet, "/v1/wallets/"+testOwner.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var wallet WalletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wallet))
	assert.Equal(t, uint64(42), wallet.Lamports)
	assert.Equal(t, "0.000000042", wallet.SOL.String())

	w = doRequest(router, http.MethodPost, "/v1/wallets/"+testOwner.String()+"/airdrop", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAirdropHandler(t *testing.T) {
	tests := []struct {
		name           string
		airdropFn      func(models.Caller, models.PublicKey, uint64) (uint64, error)
		expectedStatus int
	}{
		{
			name: "success - airdrop",
			airdropFn: func(caller models.Caller, owner models.PublicKey, amount uint64) (uint64, error) {
				if caller != testCaller {
					return 0, ledger.ErrUnauthorized
				}
				return amount, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "forbidden - someone else's wallet",
			airdropFn: func(models.Caller, models.PublicKey, uint64) (uint64, error) {
				return 0, ledger.ErrUnauthorized
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "conflict - address holds a sub-account",
			airdropFn: func(models.Caller, models.PublicKey, uint64) (uint64, error) {
				return 0, ledger.ErrNotAWallet
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "bad request - same address",
			airdropFn: func(models.Caller, models.PublicKey, uint64) (uint64, error) {
				return 0, fmt.Errorf("move: %w", ledger.ErrSameAddress)
			},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountService{airdropFn: tt.airdropFn}, testCaller)
			w := doRequest(router, http.MethodPost, "/v1/wallets/"+testOwner.String()+"/airdrop", map[string]any{"amount": 5}, nil)
			assert.Equalf(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1", AuthMiddleware(auth.NewAuthenticator([]byte("secret"), "ledger")))
	NewAccountHandler(&mockAccountService{}, zap.NewNop()).Register(v1)

	w := doRequest(r, http.MethodPost, "/v1/accounts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/accounts", nil, map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/accounts", nil, map[string]string{"Authorization": "Bearer abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestEndToEnd drives the real ledger through signed HTTP requests.
func TestEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	programID, err := models.ParsePublicKey("GdWFYaqLPJUuFoHMztLQQKqbyq1tWxXnRot2ckfavHTT")
	require.NoError(t, err)
	deriver, err := address.NewDeriver(programID, "my_account")
	require.NoError(t, err)
	logger := zap.NewNop()
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), local.NewLocker(), deriver,
		transfer.NewExecutor(logger), logsink.NewPublisher(logger), logger, ledger.WithAirdrop(true))

	authenticator := auth.NewAuthenticator([]byte("secret"), "ledger")
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger))
	v1 := r.Group("/v1", AuthMiddleware(authenticator))
	NewAccountHandler(l, logger).Register(v1)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner, err := models.PublicKeyFromBytes(pub)
	require.NoError(t, err)
	token, err := authenticator.IssueToken(owner, time.Minute)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}
	signed := func(method, path string, body []byte) map[string]string {
		req := auth.SignRequest(priv, method, path, body, time.Now())
		return map[string]string{
			"Authorization": "Bearer " + token,
			signatureHeader: req.Signature,
			timestampHeader: req.Timestamp,
			nonceHeader:     req.Nonce,
		}
	}
	base := "/v1/accounts/" + owner.String()

	w := doRequest(r, http.MethodPost, "/v1/accounts", nil, bearer)
	require.Equalf(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = doRequest(r, http.MethodPost, "/v1/accounts", nil, bearer)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+owner.String()+"/airdrop", map[string]any{"amount": 1000}, bearer)
	require.Equal(t, http.StatusOK, w.Code)

	body := []byte(`{"amount":105}`)

	// Unsigned deposit moves nothing.
	w = doRequest(r, http.MethodPost, base+"/deposit", json.RawMessage(body), bearer)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	depositHeaders := signed(http.MethodPost, base+"/deposit", body)
	w = doRequest(r, http.MethodPost, base+"/deposit", json.RawMessage(body), depositHeaders)
	require.Equalf(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var dep ledger.DepositResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dep))
	assert.Equal(t, uint64(105), dep.Account.Balance)

	// A captured signed deposit cannot be sent again.
	for i := 0; i < 2; i++ {
		w = doRequest(r, http.MethodPost, base+"/deposit", json.RawMessage(body), depositHeaders)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// A signature for one route does not carry over to another.
	w = doRequest(r, http.MethodPost, "/v1/wallets/"+owner.String()+"/airdrop", json.RawMessage(body),
		signed(http.MethodPost, base+"/deposit", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, base+"/withdraw", nil, bearer)
	require.Equalf(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var wd ledger.WithdrawResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wd))
	assert.Equal(t, uint64(10), wd.Disbursed)
	assert.Equal(t, uint64(95), wd.Account.Balance)

	w = doRequest(r, http.MethodGet, base, nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.AccountView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, uint64(95), view.Balance)
	assert.Equal(t, view.Reserve+95, view.HeldFunds)

	// Another identity cannot withdraw from this account.
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := models.PublicKeyFromBytes(otherPub)
	require.NoError(t, err)
	otherToken, err := authenticator.IssueToken(other, time.Minute)
	require.NoError(t, err)
	otherBearer := map[string]string{"Authorization": "Bearer " + otherToken}
	w = doRequest(r, http.MethodPost, base+"/withdraw", nil, otherBearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Nor can it credit the sub-account's address directly.
	w = doRequest(r, http.MethodPost, "/v1/wallets/"+view.Address.String()+"/airdrop", map[string]any{"amount": 777}, otherBearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodGet, base, nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, uint64(95), view.Balance)
	assert.Equal(t, view.Reserve+95, view.HeldFunds)
}
