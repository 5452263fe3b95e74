package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"neobank/internal/config"
	"neobank/internal/model"
	"neobank/internal/service"
	"neobank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler serves the HTTP API on top of the auth and transfer services.
type Handler struct {
	authService     *service.AuthService
	transferService *service.TransferService
	ledgerCfg       *config.LedgerConfig
	db              *gorm.DB
	log             *logrus.Logger
}

func NewHandler(
	authService *service.AuthService,
	transferService *service.TransferService,
	ledgerCfg *config.LedgerConfig,
	db *gorm.DB,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		authService:     authService,
		transferService: transferService,
		ledgerCfg:       ledgerCfg,
		db:              db,
		log:             log,
	}
}

// ============================================================
// Views
// ============================================================

type AccountView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Balance       string `json:"balance"`
	AccountNumber string `json:"account_number"`
}

type PartyView struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type TransactionView struct {
	ID            int64      `json:"id"`
	TransactionNo string     `json:"transaction_no"`
	TransferNo    string     `json:"transfer_no,omitempty"`
	Type          string     `json:"type"`
	Amount        string     `json:"amount"`
	BalanceAfter  string     `json:"balance_after,omitempty"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"created_at"`
	Owner         *PartyView `json:"owner,omitempty"`
	Counterparty  *PartyView `json:"counterparty,omitempty"`
}

func newAccountView(a *model.Account) AccountView {
	return AccountView{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		Balance:       a.Balance.StringFixed(2),
		AccountNumber: a.AccountNumber,
	}
}

func newPartyView(a *model.Account) *PartyView {
	if a == nil {
		return nil
	}
	return &PartyView{Name: a.Name, Email: a.Email}
}

// newTransactionView renders a record for viewerID. balance_after is only
// shown to the record's owner.
func newTransactionView(t *model.AccountTransaction, viewerID int64) TransactionView {
	view := TransactionView{
		ID:            t.ID,
		TransactionNo: t.TransactionNo,
		TransferNo:    t.TransferNo,
		Type:          t.Type,
		Amount:        t.Amount.StringFixed(2),
		BalanceAfter:  t.BalanceAfter.StringFixed(2),
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
		Owner:         newPartyView(t.Owner),
		Counterparty:  newPartyView(t.Counterparty),
	}
	if t.OwnerID != viewerID {
		view.BalanceAfter = ""
	}
	return view
}

// ============================================================
// Auth
// ============================================================

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// Register creates an account and logs it in.
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.authService.Register(c.Request.Context(), service.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	token, err := h.authService.IssueToken(account.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, gin.H{
		"token":   token,
		"account": newAccountView(account),
	})
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	token, account, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":   token,
		"account": newAccountView(account),
	})
}

// ============================================================
// Banking
// ============================================================

// Profile returns the caller's account and current balance.
// GET /api/v1/banking/profile
func (h *Handler) Profile(c *gin.Context) {
	response.Success(c, gin.H{
		"account": newAccountView(currentAccount(c)),
	})
}

// AddMoneyRequest amount accepts a JSON number or string.
type AddMoneyRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AddMoney deposits into the caller's account.
// POST /api/v1/banking/add-money
func (h *Handler) AddMoney(c *gin.Context) {
	var req AddMoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	accountID := currentAccount(c).ID
	result, err := h.transferService.ExecuteDeposit(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":     "money added successfully",
		"new_balance": result.NewBalance.StringFixed(2),
		"transaction": newTransactionView(result.Record, accountID),
	})
}

type SendMoneyRequest struct {
	Email  string          `json:"email" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// SendMoney transfers from the caller to the account registered under email.
// POST /api/v1/banking/send-money
//
// Key point: the debit, the credit and both history records commit as one
// database transaction; the reply is either a full success or one error.
func (h *Handler) SendMoney(c *gin.Context) {
	var req SendMoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	accountID := currentAccount(c).ID
	result, err := h.transferService.ExecuteTransfer(c.Request.Context(), accountID, req.Email, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":     "money sent successfully",
		"new_balance": result.NewBalance.StringFixed(2),
		"transaction": newTransactionView(result.Record, accountID),
	})
}

// Transactions pages through the caller's history, newest first.
// GET /api/v1/banking/transactions?page=1&limit=10&scope=involved|owned
func (h *Handler) Transactions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		h.fail(c, service.ErrInvalidPage)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.ledgerCfg.DefaultPageSize)))
	if err != nil {
		h.fail(c, service.ErrInvalidPage)
		return
	}

	var ownedOnly bool
	switch c.DefaultQuery("scope", "involved") {
	case "involved":
	case "owned":
		ownedOnly = true
	default:
		response.ParamError(c, "scope must be owned or involved")
		return
	}

	accountID := currentAccount(c).ID
	result, err := h.transferService.History(c.Request.Context(), service.HistoryQuery{
		AccountID: accountID,
		Page:      page,
		PageSize:  limit,
		OwnedOnly: ownedOnly,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]TransactionView, 0, len(result.Records))
	for _, rec := range result.Records {
		views = append(views, newTransactionView(rec, accountID))
	}

	response.Success(c, gin.H{
		"transactions": views,
		"pagination": gin.H{
			"current": result.CurrentPage,
			"pages":   result.TotalPages,
			"total":   result.TotalCount,
			"limit":   result.PageSize,
		},
	})
}

// Health pings the database.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Error("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ============================================================
// Errors
// ============================================================

type errorMapping struct {
	status int
	code   int
}

var serviceErrorMappings = map[string]errorMapping{
	service.ErrCodeInvalidAmount:      {http.StatusBadRequest, response.CodeInvalidAmount},
	service.ErrCodeSelfTransfer:       {http.StatusBadRequest, response.CodeSelfTransfer},
	service.ErrCodeInvalidPage:        {http.StatusBadRequest, response.CodeInvalidPage},
	service.ErrCodeInvalidInput:       {http.StatusBadRequest, response.CodeParamError},
	service.ErrCodeRecipientNotFound:  {http.StatusNotFound, response.CodeRecipientNotFound},
	service.ErrCodeAccountNotFound:    {http.StatusNotFound, response.CodeAccountNotFound},
	service.ErrCodeInsufficientFunds:  {http.StatusPaymentRequired, response.CodeInsufficientFunds},
	service.ErrCodeUnauthorized:       {http.StatusUnauthorized, response.CodeUnauthorized},
	service.ErrCodeInvalidCredentials: {http.StatusUnauthorized, response.CodeInvalidCredentials},
	service.ErrCodeEmailTaken:         {http.StatusConflict, response.CodeEmailTaken},
	service.ErrCodeBusy:               {http.StatusServiceUnavailable, response.CodeBusy},
	service.ErrCodePersistenceFailure: {http.StatusInternalServerError, response.CodePersistenceFailure},
}

// fail writes err as an error envelope. Internal details of persistence
// failures are logged, not returned.
func (h *Handler) fail(c *gin.Context, err error) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("unhandled error")
		response.ServerError(c, "internal server error")
		return
	}

	mapping, ok := serviceErrorMappings[svcErr.Code]
	if !ok {
		mapping = errorMapping{http.StatusInternalServerError, response.CodeServerError}
	}

	message := svcErr.Error()
	if mapping.status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		message = svcErr.Message
	}

	response.Fail(c, mapping.status, mapping.code, svcErr.Code, message)
}
