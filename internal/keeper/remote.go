package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// RemotePools is an Upkeeper backed by the HTTP API of the node that hosts
// the pools. Upkeep runs inside that node, so the pool state it mutates is
// always the live one.
type RemotePools struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemotePools creates a RemotePools for the API rooted at baseURL.
// apiKey is sent as X-API-Key when set.
func NewRemotePools(baseURL, apiKey string, timeout time.Duration) *RemotePools {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemotePools{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DuePools lists the pools the host reports as due.
func (r *RemotePools) DuePools(ctx context.Context) ([]common.Address, error) {
	var body struct {
		Due []string `json:"due"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/upkeep", &body); err != nil {
		return nil, fmt.Errorf("keeper/remote: due pools: %w", err)
	}
	due := make([]common.Address, 0, len(body.Due))
	for _, s := range body.Due {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("keeper/remote: bad address %q", s)
		}
		due = append(due, common.HexToAddress(s))
	}
	return due, nil
}

// PerformUpkeep asks the host to run one cycle. Only the fields the keeper
// logs are decoded from the response.
func (r *RemotePools) PerformUpkeep(ctx context.Context, address common.Address) (domain.PoolSnapshot, error) {
	var body struct {
		State string `json:"state"`
		Cycle int    `json:"perform_upkeep_count"`
	}
	if err := r.do(ctx, http.MethodPost, "/api/pools/"+address.Hex()+"/upkeep", &body); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("keeper/remote: upkeep %s: %w", address.Hex(), err)
	}
	state, err := domain.ParsePoolState(body.State)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("keeper/remote: upkeep %s: %w", address.Hex(), err)
	}
	return domain.PoolSnapshot{Address: address, State: state, PerformUpkeepCount: body.Cycle}, nil
}

// apiErrors maps the API's error messages back to their sentinels.
var apiErrors = []error{
	domain.ErrUpkeepNotNeeded,
	domain.ErrInsufficientFeeToken,
	domain.ErrPoolNotFound,
}

func (r *RemotePools) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		for _, sentinel := range apiErrors {
			if apiErr.Error == sentinel.Error() {
				return sentinel
			}
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Upkeeper = (*RemotePools)(nil)
