package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OracleRequest asks an oracle operator for the result of a match. The
// operator answers later, out of band, with a Fulfillment carrying the
// same ID.
type OracleRequest struct {
	ID          common.Hash    `json:"id"`
	Pool        common.Address `json:"pool"`
	Oracle      common.Address `json:"oracle"`
	MatchID     string         `json:"match_id"`
	APIURL      string         `json:"api_url"`
	JobID       string         `json:"job_id"`
	Fee         *big.Int       `json:"fee"`
	FeeToken    common.Address `json:"fee_token"`
	Callback    string         `json:"callback"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Fulfillment is the oracle callback. Signature is a 65-byte secp256k1
// signature by the oracle key over FulfillmentDigest.
type Fulfillment struct {
	RequestID common.Hash    `json:"request_id"`
	Pool      common.Address `json:"pool"`
	Result    int64          `json:"result"`
	Signature []byte         `json:"signature,omitempty"`
}

// Oracle accepts result requests. Implementations must not call back into
// the pool synchronously: the request is issued while the pool is held.
type Oracle interface {
	Request(ctx context.Context, req OracleRequest) error
}

// Fulfiller receives oracle callbacks.
type Fulfiller interface {
	Fulfill(ctx context.Context, f Fulfillment) error
}

// Transferer moves funds out of a pool to an account.
type Transferer interface {
	Transfer(ctx context.Context, pool, to common.Address, amount *big.Int, memo string) error
}

// Collector moves funds from an account into a pool. It returns
// ErrInsufficientFunds when the account cannot cover amount.
type Collector interface {
	Collect(ctx context.Context, pool, from common.Address, amount *big.Int, memo string) error
}
