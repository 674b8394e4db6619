package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/ledger"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountService is the ledger as seen by the HTTP layer.
type AccountService interface {
	Initialize(ctx context.Context, caller models.Caller, owner models.PublicKey) (*models.LedgerAccount, error)
	Deposit(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (*ledger.DepositResult, error)
	Withdraw(ctx context.Context, caller models.Caller, owner models.PublicKey) (*ledger.WithdrawResult, error)
	GetAccount(ctx context.Context, owner models.PublicKey) (*models.AccountView, error)
	WalletBalance(ctx context.Context, owner models.PublicKey) (uint64, error)
	Airdrop(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (uint64, error)
}

type AccountHandler struct {
	accounts AccountService
	logger   *zap.Logger
}

type AmountRequest struct {
	Amount uint64 `json:"amount" validate:"required,gt=0"`
}

type WalletResponse struct {
	Owner    string          `json:"owner"`
	Lamports uint64          `json:"lamports"`
	SOL      decimal.Decimal `json:"sol"`
}

func NewAccountHandler(accounts AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// Register mounts the account routes on an authenticated group.
func (h *AccountHandler) Register(v1 *gin.RouterGroup) {
	v1.POST("/accounts", h.Initialize)
	v1.GET("/accounts/:owner", h.GetAccount)
	v1.POST("/accounts/:owner/deposit", h.Deposit)
	v1.POST("/accounts/:owner/withdraw", h.Withdraw)
	v1.GET("/wallets/:owner", h.GetWallet)
	v1.POST("/wallets/:owner/airdrop", h.Airdrop)
}

func (h *AccountHandler) Initialize(c *gin.Context) {
	caller, _ := GetCaller(c)

	account, err := h.accounts.Initialize(c.Request.Context(), caller, caller.Identity)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}

	view, err := h.accounts.GetAccount(c.Request.Context(), owner)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *AccountHandler) Deposit(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	req, ok := bindAmount(c)
	if !ok {
		return
	}
	caller, _ := GetCaller(c)

	result, err := h.accounts.Deposit(c.Request.Context(), caller, owner, req.Amount)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AccountHandler) Withdraw(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	caller, _ := GetCaller(c)

	result, err := h.accounts.Withdraw(c.Request.Context(), caller, owner)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AccountHandler) GetWallet(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}

	lamports, err := h.accounts.WalletBalance(c.Request.Context(), owner)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, WalletResponse{
		Owner:    owner.String(),
		Lamports: lamports,
		SOL:      models.LamportsToSOL(lamports),
	})
}

func (h *AccountHandler) Airdrop(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	req, ok := bindAmount(c)
	if !ok {
		return
	}
	caller, _ := GetCaller(c)

	lamports, err := h.accounts.Airdrop(c.Request.Context(), caller, owner, req.Amount)
	if err != nil {
		h.respondWithLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, WalletResponse{
		Owner:    owner.String(),
		Lamports: lamports,
		SOL:      models.LamportsToSOL(lamports),
	})
}

func ownerParam(c *gin.Context) (models.PublicKey, bool) {
	owner, err := models.ParsePublicKey(c.Param("owner"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid owner key")
		return models.PublicKey{}, false
	}
	return owner, true
}

func bindAmount(c *gin.Context) (AmountRequest, bool) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if validationErrors := ValidateRequest(req); validationErrors != nil {
		RespondWithValidationError(c, validationErrors)
		return req, false
	}
	return req, true
}

func (h *AccountHandler) respondWithLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		RespondWithError(c, http.StatusForbidden, "You can only operate on your own account")
	case errors.Is(err, ledger.ErrSignatureRequired):
		RespondWithError(c, http.StatusUnauthorized, "Request must be signed by the account owner")
	case errors.Is(err, ledger.ErrNotFound):
		RespondWithError(c, http.StatusNotFound, "Account not found")
	case errors.Is(err, ledger.ErrAlreadyExists):
		RespondWithError(c, http.StatusConflict, "Account already exists")
	case errors.Is(err, ledger.ErrNotAWallet):
		RespondWithError(c, http.StatusConflict, "Address holds a sub-account")
	case errors.Is(err, ledger.ErrInsufficientCallerFunds):
		RespondWithError(c, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.Is(err, ledger.ErrBelowReservedMinimum):
		RespondWithError(c, http.StatusUnprocessableEntity, "Held funds cannot cover the withdrawal")
	case errors.Is(err, ledger.ErrOverflow):
		RespondWithError(c, http.StatusUnprocessableEntity, "Amount would overflow the balance")
	case errors.Is(err, ledger.ErrInvalidAmount):
		RespondWithError(c, http.StatusBadRequest, "Amount must be positive")
	case errors.Is(err, ledger.ErrSameAddress):
		RespondWithError(c, http.StatusBadRequest, "Source and destination must differ")
	case errors.Is(err, ledger.ErrAirdropDisabled):
		RespondWithError(c, http.StatusForbidden, "Airdrop is disabled")
	default:
		h.logger.Error("ledger operation failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", ledger.Kind(err).String()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		RespondWithError(c, http.StatusInternalServerError, "Internal error")
	}
}
