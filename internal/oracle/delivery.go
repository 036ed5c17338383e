package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// FulfillBody is the JSON body of POST /api/pools/{address}/fulfill.
type FulfillBody struct {
	RequestID string `json:"request_id"`
	Result    int64  `json:"result"`
	Signature string `json:"signature,omitempty"`
}

// HTTPFulfiller delivers fulfillments to a remote pool API. Requests carry
// HMAC headers when auth is set.
type HTTPFulfiller struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewHTTPFulfiller creates a fulfiller for the API rooted at baseURL.
func NewHTTPFulfiller(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *HTTPFulfiller {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFulfiller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fulfill posts f. Status 409 maps to domain.ErrUnknownRequest and 403 to
// domain.ErrUnauthorizedOracle.
func (h *HTTPFulfiller) Fulfill(ctx context.Context, f domain.Fulfillment) error {
	body, err := json.Marshal(FulfillBody{
		RequestID: f.RequestID.Hex(),
		Result:    f.Result,
		Signature: crypto.EncodeSignature(f.Signature),
	})
	if err != nil {
		return fmt.Errorf("oracle/delivery: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/api/pools/%s/fulfill", h.baseURL, f.Pool.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("oracle/delivery: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.auth != nil {
		h.auth.Apply(req, body)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oracle/delivery: http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("oracle/delivery: %s: %w", f.RequestID.Hex(), domain.ErrUnknownRequest)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("oracle/delivery: %s: %w", f.RequestID.Hex(), domain.ErrUnauthorizedOracle)
	default:
		return fmt.Errorf("oracle/delivery: %s: status %d: %s", f.RequestID.Hex(), resp.StatusCode, truncate(respBody, 200))
	}
}

var _ domain.Fulfiller = (*HTTPFulfiller)(nil)
