package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// ResultFetcher reads a match result from the data API named by a request.
// The API answers GET {apiURL}?matchId=..&jobId=.. with {"result": n}.
type ResultFetcher struct {
	httpClient *http.Client
}

// NewResultFetcher creates a fetcher. A zero timeout uses 15 seconds.
func NewResultFetcher(timeout time.Duration) *ResultFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ResultFetcher{httpClient: &http.Client{Timeout: timeout}}
}

type resultResponse struct {
	Result *int64 `json:"result"`
}

// Fetch returns the result code for req.
func (f *ResultFetcher) Fetch(ctx context.Context, req domain.OracleRequest) (int64, error) {
	u, err := url.Parse(req.APIURL)
	if err != nil {
		return 0, fmt.Errorf("oracle/fetcher: parse api url: %w", err)
	}
	q := u.Query()
	q.Set("matchId", req.MatchID)
	if req.JobID != "" {
		q.Set("jobId", req.JobID)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("oracle/fetcher: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("oracle/fetcher: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("oracle/fetcher: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("oracle/fetcher: match %s: status %d: %s", req.MatchID, resp.StatusCode, truncate(body, 200))
	}

	var out resultResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("oracle/fetcher: decode response: %w", err)
	}
	if out.Result == nil {
		return 0, fmt.Errorf("oracle/fetcher: match %s: response has no result", req.MatchID)
	}
	return *out.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
