package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AfshinJalili/tradingplatform/libs/auth"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/marketdata"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/ratelimit"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const adminRole = "admin"

type Settler interface {
	ProcessOrder(ctx context.Context, coin service.Coin, quantity decimal.Decimal, orderType string, userID uuid.UUID) (*storage.Order, error)
}

type OrderReader interface {
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error)
	List(ctx context.Context, userID uuid.UUID, orderType, assetSymbol string) ([]storage.Order, error)
}

type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error)
	History(ctx context.Context, userID uuid.UUID) ([]storage.WalletTransaction, error)
	Transfer(ctx context.Context, senderUserID, recipientWalletID uuid.UUID, amount decimal.Decimal, purpose string) (*storage.Wallet, error)
}

type WithdrawalService interface {
	Request(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*storage.Withdrawal, error)
	Proceed(ctx context.Context, withdrawalID uuid.UUID, accept bool) (*storage.Withdrawal, error)
	History(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error)
	All(ctx context.Context) ([]storage.Withdrawal, error)
}

type PaymentService interface {
	CreatePendingOrder(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method string) (*storage.PaymentOrder, error)
	GetForUser(ctx context.Context, userID, paymentOrderID uuid.UUID) (*storage.PaymentOrder, error)
	Confirm(ctx context.Context, paymentOrderID uuid.UUID, gatewayPaymentID string) (bool, error)
	SaveDetails(ctx context.Context, userID uuid.UUID, in service.PaymentDetailsInput) (*storage.PaymentDetails, error)
	Details(ctx context.Context, userID uuid.UUID) (*storage.PaymentDetails, error)
}

type PositionReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]storage.Asset, error)
	Get(ctx context.Context, userID, assetID uuid.UUID) (*storage.Asset, error)
	FindByUserAndCoin(ctx context.Context, userID uuid.UUID, coinID string) (*storage.Asset, error)
}

type WatchlistService interface {
	Get(ctx context.Context, userID uuid.UUID) (*storage.Watchlist, error)
	Toggle(ctx context.Context, userID uuid.UUID, coin service.Coin) (bool, error)
}

type Handler struct {
	Settlement  Settler
	Orders      OrderReader
	Wallets     WalletService
	Withdrawals WithdrawalService
	Payments    PaymentService
	Positions   PositionReader
	Watchlists  WatchlistService
	Coins       marketdata.Resolver
	Logger      *slog.Logger
}

type errorResponse struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Reasons   []string `json:"reasons,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

func New(h Handler) *Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	return &h
}

// Register mounts every route behind bearer auth. Mutating routes are
// throttled per user when limiter is non-nil; /admin requires the admin role.
func (h *Handler) Register(r *gin.Engine, jwtSecret []byte, limiter ratelimit.Limiter) {
	authed := r.Group("/", auth.Middleware(jwtSecret))
	authed.GET("/orders", h.ListOrders)
	authed.GET("/orders/:id", h.GetOrder)
	authed.GET("/wallet", h.GetWallet)
	authed.GET("/wallet/transactions", h.WalletHistory)
	authed.GET("/withdrawals", h.WithdrawalHistory)
	authed.GET("/assets", h.ListAssets)
	authed.GET("/assets/:id", h.GetAsset)
	authed.GET("/assets/coin/:coinId", h.GetAssetByCoin)
	authed.GET("/payment-details", h.GetPaymentDetails)
	authed.GET("/watchlist", h.GetWatchlist)

	mutating := authed.Group("/", ratelimit.PerUser(limiter, "mutate", h.Logger))
	mutating.POST("/orders", h.CreateOrder)
	mutating.PUT("/wallet/:walletId/transfer", h.Transfer)
	mutating.POST("/withdrawals", h.RequestWithdrawal)
	mutating.POST("/payments", h.CreatePayment)
	mutating.POST("/payments/:id/confirm", h.ConfirmPayment)
	mutating.POST("/payment-details", h.SavePaymentDetails)
	mutating.PATCH("/watchlist/coin/:coinId", h.ToggleWatchlistCoin)

	admin := authed.Group("/admin", auth.RequireRole(adminRole))
	admin.GET("/withdrawals", h.AllWithdrawals)
	admin.PATCH("/withdrawals/:id/proceed/:accept", h.ProceedWithdrawal)
}

func (h *Handler) requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return uuid.Nil, false
	}
	return userID, true
}

// writeServiceError maps a domain failure to its HTTP form. Anything that is
// not a domain error is logged and reported as internal.
func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	var domainErr *service.Error
	if !errors.As(err, &domainErr) {
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	switch domainErr.Kind {
	case service.KindInvalidInput:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", domainErr.Msg, nil)
	case service.KindNotFound:
		writeError(c, http.StatusNotFound, notFoundCode(err), domainErr.Msg, nil)
	case service.KindInsufficientFunds:
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance", []string{"insufficient_funds"})
	case service.KindInsufficientQuantity:
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_QUANTITY", "insufficient quantity", []string{"insufficient_quantity"})
	case service.KindAlreadyResolved:
		writeError(c, http.StatusConflict, "ALREADY_RESOLVED", domainErr.Msg, nil)
	case service.KindConcurrencyConflict:
		c.JSON(http.StatusConflict, errorResponse{Code: "CONFLICT", Message: "concurrent update, retry", Retryable: true})
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, service.ErrAssetNotFound), errors.Is(err, service.ErrPositionNotFound):
		return "ASSET_NOT_FOUND"
	case errors.Is(err, service.ErrWalletNotFound):
		return "WALLET_NOT_FOUND"
	case errors.Is(err, service.ErrWithdrawalNotFound):
		return "WITHDRAWAL_NOT_FOUND"
	case errors.Is(err, service.ErrPaymentOrderNotFound):
		return "PAYMENT_NOT_FOUND"
	default:
		return "NOT_FOUND"
	}
}

func writeError(c *gin.Context, status int, code, message string, reasons []string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Reasons: reasons,
	})
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func parseDecimal(value string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
