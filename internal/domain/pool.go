package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolParams are the immutable deployment parameters of a wager pool.
type PoolParams struct {
	MatchID         string         `json:"match_id"`
	MatchTimestamp  time.Time      `json:"match_timestamp"`
	Timeout         time.Duration  `json:"timeout"` // base polling window, added again after every cycle
	MinimumBet      *big.Int       `json:"minimum_bet"`
	FeeBps          uint64         `json:"fee_bps"`
	MaxUpkeepCycles int            `json:"max_upkeep_cycles"`
	Owner           common.Address `json:"owner"`
	Oracle          common.Address `json:"oracle"`
	APIURL          string         `json:"api_url"`
	JobID           string         `json:"job_id"`
	RequestFee      *big.Int       `json:"request_fee"`
	FeeToken        common.Address `json:"fee_token"`
}

// StakeRecord is one (account, outcome) entry of the escrow ledger.
type StakeRecord struct {
	Account common.Address `json:"account"`
	Outcome Outcome        `json:"outcome"`
	Amount  *big.Int       `json:"amount"`
}

// RewardRecord is a withdrawable entitlement.
type RewardRecord struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// PoolSnapshot is a complete, serialisable copy of a pool. It is what gets
// persisted, cached and served, and it is enough to rebuild the pool.
// Version grows with every accepted mutation; stores and caches keep the
// highest version they have seen.
type PoolSnapshot struct {
	Address            common.Address `json:"address"`
	Version            uint64         `json:"version"`
	Params             PoolParams     `json:"params"`
	State              PoolState      `json:"state"`
	Winner             Outcome        `json:"winner"`
	Timeout            time.Duration  `json:"timeout"`
	HomeTotal          *big.Int       `json:"home_total"`
	AwayTotal          *big.Int       `json:"away_total"`
	DrawTotal          *big.Int       `json:"draw_total"`
	HomeBettors        int            `json:"home_bettors"`
	AwayBettors        int            `json:"away_bettors"`
	DrawBettors        int            `json:"draw_bettors"`
	PerformUpkeepCount int            `json:"perform_upkeep_count"`
	PendingRequestID   common.Hash    `json:"pending_request_id"`
	RequestNonce       uint64         `json:"request_nonce"`
	FeeTokenBalance    *big.Int       `json:"fee_token_balance"`
	FeeCollected       *big.Int       `json:"fee_collected"`
	Balance            *big.Int       `json:"balance"`
	Stakes             []StakeRecord  `json:"stakes"`
	Rewards            []RewardRecord `json:"rewards"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Total returns the sum of the three outcome aggregates.
func (s PoolSnapshot) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{s.HomeTotal, s.AwayTotal, s.DrawTotal} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// SettlementReport is written to cold storage once a pool reaches a
// terminal state.
type SettlementReport struct {
	Pool         common.Address `json:"pool"`
	MatchID      string         `json:"match_id"`
	State        PoolState      `json:"state"`
	Winner       Outcome        `json:"winner"`
	HomeTotal    *big.Int       `json:"home_total"`
	AwayTotal    *big.Int       `json:"away_total"`
	DrawTotal    *big.Int       `json:"draw_total"`
	FeeCollected *big.Int       `json:"fee_collected"`
	Rewards      []RewardRecord `json:"rewards"`
	SettledAt    time.Time      `json:"settled_at"`
}
