package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a pool ledger event.
type EventType string

const (
	EventBetPlaced       EventType = "bet_placed"
	EventBetCancelled    EventType = "bet_cancelled"
	EventUpkeepPerformed EventType = "upkeep_performed"
	EventOracleRequested EventType = "oracle_requested"
	EventOracleFulfilled EventType = "oracle_fulfilled"
	EventPoolEnded       EventType = "pool_ended"
	EventPoolCancelled   EventType = "pool_cancelled"
	EventRewardWithdrawn EventType = "reward_withdrawn"
	EventFeeTokenFunded  EventType = "fee_token_funded"
)

// PoolEvent is emitted by every accepted pool operation. ID is assigned
// by the service layer when the event is published.
type PoolEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Pool      common.Address `json:"pool"`
	Account   common.Address `json:"account,omitempty"`
	Outcome   Outcome        `json:"outcome,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	RequestID common.Hash    `json:"request_id,omitempty"`
	State     PoolState      `json:"state"`
	Cycle     int            `json:"cycle,omitempty"`
	At        time.Time      `json:"at"`
}

// Terminal reports whether the event moved the pool into ENDED or CANCELLED.
func (e PoolEvent) Terminal() bool {
	return e.Type == EventPoolEnded || e.Type == EventPoolCancelled
}
