package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/oracle"
)

const maxHMACSkew = 2 * time.Minute

// MockOracle is the in-process oracle exposed for local resolution.
type MockOracle interface {
	Requests() []domain.OracleRequest
	Resolve(ctx context.Context, id common.Hash, result int64) error
}

// OracleHandler receives fulfillments and, in development, exposes the
// mock oracle.
type OracleHandler struct {
	fulfiller domain.Fulfiller
	auth      *crypto.HMACAuth
	mock      MockOracle
	now       func() time.Time
	logger    *slog.Logger
}

// NewOracleHandler creates an OracleHandler. auth and mock may be nil.
func NewOracleHandler(fulfiller domain.Fulfiller, auth *crypto.HMACAuth, mock MockOracle, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		fulfiller: fulfiller,
		auth:      auth,
		mock:      mock,
		now:       time.Now,
		logger:    logger.With(slog.String("handler", "oracle")),
	}
}

// HasMock reports whether the mock endpoints should be mounted.
func (h *OracleHandler) HasMock() bool { return h.mock != nil }

// Fulfill delivers an oracle callback.
// POST /api/pools/{address}/fulfill
func (h *OracleHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.auth != nil {
		if err := h.auth.Verify(r.Method, r.URL.Path, string(raw), r.Header, h.now(), maxHMACSkew); err != nil {
			h.logger.WarnContext(r.Context(), "fulfillment rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, "invalid request signature")
			return
		}
	}

	var body oracle.FulfillBody
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := decodeSignature(body.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := domain.Fulfillment{
		RequestID: common.HexToHash(body.RequestID),
		Pool:      addr,
		Result:    body.Result,
		Signature: sig,
	}
	if err := h.fulfiller.Fulfill(r.Context(), f); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "fulfill failed", slog.String("error", err.Error()))
		}
		writeError(w, status, errorMessage(err, status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": f.RequestID.Hex(), "result": f.Result})
}

type mockRequestView struct {
	ID          string    `json:"id"`
	Pool        string    `json:"pool"`
	MatchID     string    `json:"match_id"`
	APIURL      string    `json:"api_url"`
	JobID       string    `json:"job_id"`
	Fee         string    `json:"fee"`
	RequestedAt time.Time `json:"requested_at"`
}

// ListRequests lists the requests received by the mock oracle.
// GET /api/oracle/requests
func (h *OracleHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs := h.mock.Requests()
	views := make([]mockRequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, mockRequestView{
			ID:          req.ID.Hex(),
			Pool:        req.Pool.Hex(),
			MatchID:     req.MatchID,
			APIURL:      req.APIURL,
			JobID:       req.JobID,
			Fee:         weiString(req.Fee),
			RequestedAt: req.RequestedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

// Resolve answers a mock oracle request.
// POST /api/oracle/requests/{id}/resolve {"result": 1}
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Result int64 `json:"result"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := common.HexToHash(r.PathValue("id"))
	if err := h.mock.Resolve(r.Context(), id, body.Result); err != nil {
		status := statusFor(err)
		writeError(w, status, errorMessage(err, status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id.Hex(), "result": body.Result})
}
