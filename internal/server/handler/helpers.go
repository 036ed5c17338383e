package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

const maxBodyBytes = 1 << 16

// writeJSON marshals v with the given status. Marshal failures become a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps pool and service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPoolNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSendMoreFunds),
		errors.Is(err, domain.ErrInvalidBetValue),
		errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorizedOracle),
		errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMatchStarted),
		errors.Is(err, domain.ErrUpkeepNotNeeded),
		errors.Is(err, domain.ErrUnknownRequest),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrNonceUsed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrZeroBalance),
		errors.Is(err, domain.ErrNoReward),
		errors.Is(err, domain.ErrInsufficientFeeToken),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal errors from clients.
func errorMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	for _, sentinel := range []error{
		domain.ErrPoolNotFound, domain.ErrNotFound, domain.ErrSendMoreFunds,
		domain.ErrInvalidBetValue, domain.ErrInvalidSignature, domain.ErrUnauthorizedOracle,
		domain.ErrMatchStarted, domain.ErrUpkeepNotNeeded, domain.ErrUnknownRequest,
		domain.ErrAlreadyExists, domain.ErrZeroBalance, domain.ErrNoReward,
		domain.ErrInsufficientFeeToken, domain.ErrInsufficientFunds, domain.ErrNotOwner,
		domain.ErrNonceUsed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseAddress validates a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(r.PathValue(name))
}

// parseAmount accepts a decimal or 0x-hex wei amount.
func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(s)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// decodeSignature parses an optional 0x-hex signature.
func decodeSignature(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", domain.ErrInvalidSignature)
	}
	return sig, nil
}

func parseState(s string) (*domain.PoolState, error) {
	if s == "" {
		return nil, nil
	}
	st, err := domain.ParsePoolState(s)
	if err != nil {
		return nil, fmt.Errorf("unknown state %q", s)
	}
	return &st, nil
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
