package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// WalletService defines the methods that the wallet handler requires from the
// service layer.
type WalletService interface {
	Get(ctx context.Context, userID string) (domain.Wallet, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error)
	Transactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error)
}

// WalletHandler serves the caller's wallet endpoints.
type WalletHandler struct {
	wallets WalletService
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallets WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger.With(slog.String("handler", "wallet"))}
}

// GetWallet returns the caller's wallet.
// GET /api/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.Get(r.Context(), id.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

type depositRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
}

// Deposit credits the caller's wallet.
// POST /api/wallet/deposit
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := strings.TrimSpace(req.PaymentReference)
	if ref == "" {
		ref = "MANUAL"
	}

	wallet, err := h.wallets.Deposit(r.Context(), id.UserID, req.Amount, ref)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

type withdrawRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Withdraw debits the caller's available balance.
// POST /api/wallet/withdraw
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.wallets.Withdraw(r.Context(), id.UserID, req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

// Transactions returns the caller's journal, newest first.
// GET /api/wallet/transactions?limit=50&offset=0
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	txns, err := h.wallets.Transactions(r.Context(), id.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": newTransactionViews(txns)})
}
