package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// WalletLedger is what the wallet endpoints need from the ledger.
type WalletLedger interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	History(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error)
	Deposit(ctx context.Context, account common.Address, amount *big.Int, memo string) error
}

// WalletHandler serves account balances and operator deposits.
type WalletHandler struct {
	ledger WalletLedger
	logger *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger WalletLedger, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, logger: logger.With(slog.String("handler", "wallets"))}
}

type ledgerView struct {
	Pool      string    `json:"pool"`
	Amount    string    `json:"amount"`
	Memo      string    `json:"memo"`
	CreatedAt time.Time `json:"created_at"`
}

// GetWallet returns an account's credited balance and recent payouts.
// GET /api/wallets/{account}
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "wallet balance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	entries, err := h.ledger.History(r.Context(), account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "wallet history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	views := make([]ledgerView, 0, len(entries))
	for _, e := range entries {
		views = append(views, ledgerView{
			Pool:      e.Pool.Hex(),
			Amount:    weiString(e.Amount),
			Memo:      e.Memo,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"balance": weiString(balance),
		"entries": views,
	})
}

type depositRequest struct {
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// Deposit credits an account so it can stake. Only mounted behind the API
// key.
// POST /api/wallets/{account}/deposit
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	memo := req.Memo
	if memo == "" {
		memo = "deposit"
	}
	if err := h.ledger.Deposit(r.Context(), account, amount, memo); err != nil {
		h.logger.ErrorContext(r.Context(), "deposit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to deposit")
		return
	}
	balance, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "wallet balance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	h.logger.InfoContext(r.Context(), "deposit credited",
		slog.String("account", account.Hex()),
		slog.String("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"balance": weiString(balance),
	})
}
