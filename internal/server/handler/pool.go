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

// PoolService is what the pool endpoints need from the service layer.
type PoolService interface {
	List(state *domain.PoolState) []domain.PoolSnapshot
	Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
	Events(ctx context.Context, address common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error)
	CheckUpkeep(address common.Address) (bool, error)
	DuePools(ctx context.Context) ([]common.Address, error)
	PlaceBet(ctx context.Context, address, bettor common.Address, outcome domain.Outcome, value *big.Int) (domain.PoolSnapshot, error)
	CancelBet(ctx context.Context, address, bettor common.Address) (domain.PoolSnapshot, error)
	Withdraw(ctx context.Context, address, account common.Address) (*big.Int, error)
	FundFeeToken(ctx context.Context, address, from common.Address, amount *big.Int) (domain.PoolSnapshot, error)
	PerformUpkeep(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
}

// PoolHandler serves the pool endpoints.
type PoolHandler struct {
	pools             PoolService
	requireSignatures bool
	nonces            NonceStore
	now               func() time.Time
	logger            *slog.Logger
}

// PoolHandlerOption configures a PoolHandler.
type PoolHandlerOption func(*PoolHandler)

// WithNonceStore shares nonce bookkeeping between API nodes.
func WithNonceStore(n NonceStore) PoolHandlerOption {
	return func(h *PoolHandler) { h.nonces = n }
}

// NewPoolHandler creates a PoolHandler. With requireSignatures set, every
// participant action must carry the account's personal signature and a
// nonce it has not used before.
func NewPoolHandler(pools PoolService, requireSignatures bool, logger *slog.Logger, opts ...PoolHandlerOption) *PoolHandler {
	h := &PoolHandler{
		pools:             pools,
		requireSignatures: requireSignatures,
		now:               time.Now,
		logger:            logger.With(slog.String("handler", "pools")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.nonces == nil {
		h.nonces = newLocalNonces(func() time.Time { return h.now() })
	}
	return h
}

// actionRequest is the body shared by participant endpoints.
type actionRequest struct {
	Account   string `json:"account"`
	Outcome   string `json:"outcome,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ListPools returns every pool, optionally filtered by state.
// GET /api/pools?state=open
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps := h.pools.List(state)
	views := make([]poolView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, newPoolView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": views})
}

// GetPool returns the getter surface of one pool.
// GET /api/pools/{address}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.Snapshot(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(snap))
}

// GetAccount returns the stakes and reward of an account.
// GET /api/pools/{address}/accounts/{account}
func (h *PoolHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.Snapshot(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(snap, account))
}

// ListEvents returns the event log of a pool.
// GET /api/pools/{address}/events?limit=50&offset=0
func (h *PoolHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.pools.Events(r.Context(), addr, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, newEventView(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// CheckUpkeep reports whether upkeep is due.
// GET /api/pools/{address}/upkeep
func (h *PoolHandler) CheckUpkeep(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	needed, err := h.pools.CheckUpkeep(addr)
	if err != nil {
		h.fail(w, r, "check upkeep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upkeep_needed": needed})
}

// DueUpkeeps lists the pools whose upkeep is due on this node. External
// keepers poll it.
// GET /api/upkeep
func (h *PoolHandler) DueUpkeeps(w http.ResponseWriter, r *http.Request) {
	due, err := h.pools.DuePools(r.Context())
	if err != nil {
		h.fail(w, r, "due upkeeps", err)
		return
	}
	addrs := make([]string, 0, len(due))
	for _, a := range due {
		addrs = append(addrs, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{"due": addrs})
}

// PerformUpkeep runs one upkeep cycle.
// POST /api/pools/{address}/upkeep
func (h *PoolHandler) PerformUpkeep(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.PerformUpkeep(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "perform upkeep", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(snap))
}

// PlaceBet stakes on an outcome.
// POST /api/pools/{address}/bets
func (h *PoolHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := h.readAction(w, r, "bet")
	if !ok {
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account := common.HexToAddress(req.Account)
	snap, err := h.pools.PlaceBet(r.Context(), addr, account, outcome, amount)
	if err != nil {
		h.fail(w, r, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(snap, account))
}

// CancelBet refunds every stake of the account.
// POST /api/pools/{address}/cancel
func (h *PoolHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := h.readAction(w, r, "cancel")
	if !ok {
		return
	}
	account := common.HexToAddress(req.Account)
	snap, err := h.pools.CancelBet(r.Context(), addr, account)
	if err != nil {
		h.fail(w, r, "cancel bet", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(snap, account))
}

// Withdraw pays out the account's reward.
// POST /api/pools/{address}/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := h.readAction(w, r, "withdraw")
	if !ok {
		return
	}
	account := common.HexToAddress(req.Account)
	amount, err := h.pools.Withdraw(r.Context(), addr, account)
	if err != nil {
		h.fail(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":    addr.Hex(),
		"account": account.Hex(),
		"amount":  amount.String(),
	})
}

// FundFeeToken credits oracle fee token to the pool.
// POST /api/pools/{address}/fund
func (h *PoolHandler) FundFeeToken(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := h.readAction(w, r, "fund")
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.FundFeeToken(r.Context(), addr, common.HexToAddress(req.Account), amount)
	if err != nil {
		h.fail(w, r, "fund fee token", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(snap))
}

// readAction decodes and, when required, authenticates a participant
// request. It writes the error response itself and reports false on
// failure.
func (h *PoolHandler) readAction(w http.ResponseWriter, r *http.Request, name string) (common.Address, actionRequest, bool) {
	var req actionRequest
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return addr, req, false
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return addr, req, false
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return addr, req, false
	}
	if !h.requireSignatures {
		return addr, req, true
	}

	action := Action{
		Name:      name,
		Pool:      addr,
		Account:   account,
		Amount:    req.Amount,
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
	}
	if req.Outcome != "" {
		action.Outcome, _ = domain.ParseOutcome(req.Outcome)
	}
	sig, err := decodeSignature(req.Signature)
	if err == nil {
		err = verifyAction(action, sig, h.now())
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected unsigned action",
			slog.String("action", name),
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidSignature.Error())
		return addr, req, false
	}

	fresh, err := h.nonces.Claim(r.Context(), nonceKey(action), nonceTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "claim nonce failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "nonce store unavailable")
		return addr, req, false
	}
	if !fresh {
		h.logger.WarnContext(r.Context(), "rejected replayed action",
			slog.String("action", name),
			slog.String("account", account.Hex()),
		)
		writeError(w, http.StatusConflict, domain.ErrNonceUsed.Error())
		return addr, req, false
	}
	return addr, req, true
}

func (h *PoolHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, status, errorMessage(err, status))
}
