package handler

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// poolView is the public getter surface of a pool. Wei amounts are decimal
// strings.
type poolView struct {
	Address               string    `json:"address"`
	MatchID               string    `json:"match_id"`
	MatchTimestamp        time.Time `json:"match_timestamp"`
	Timeout               int64     `json:"timeout_seconds"`
	Deadline              time.Time `json:"upkeep_deadline"`
	MinimumBet            string    `json:"minimum_bet"`
	Fee                   uint64    `json:"fee_bps"`
	State                 string    `json:"state"`
	Winner                string    `json:"winner"`
	HomeBetAmount         string    `json:"home_bet_amount"`
	AwayBetAmount         string    `json:"away_bet_amount"`
	DrawBetAmount         string    `json:"draw_bet_amount"`
	BetAmount             string    `json:"bet_amount"`
	NumberOfPlayersOnHome int       `json:"home_bettors"`
	NumberOfPlayersOnAway int       `json:"away_bettors"`
	NumberOfPlayersOnDraw int       `json:"draw_bettors"`
	PerformUpkeepCount    int       `json:"perform_upkeep_count"`
	MaxUpkeepCycles       int       `json:"max_upkeep_cycles"`
	PendingRequestID      string    `json:"pending_request_id,omitempty"`
	FeeTokenBalance       string    `json:"fee_token_balance"`
	RequestFee            string    `json:"request_fee"`
	FeeCollected          string    `json:"fee_collected"`
	Balance               string    `json:"balance"`
	Owner                 string    `json:"owner"`
	Oracle                string    `json:"oracle"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newPoolView(s domain.PoolSnapshot) poolView {
	v := poolView{
		Address:               s.Address.Hex(),
		MatchID:               s.Params.MatchID,
		MatchTimestamp:        s.Params.MatchTimestamp,
		Timeout:               int64(s.Timeout / time.Second),
		Deadline:              s.Params.MatchTimestamp.Add(s.Timeout),
		MinimumBet:            weiString(s.Params.MinimumBet),
		Fee:                   s.Params.FeeBps,
		State:                 s.State.String(),
		Winner:                s.Winner.String(),
		HomeBetAmount:         weiString(s.HomeTotal),
		AwayBetAmount:         weiString(s.AwayTotal),
		DrawBetAmount:         weiString(s.DrawTotal),
		BetAmount:             s.Total().String(),
		NumberOfPlayersOnHome: s.HomeBettors,
		NumberOfPlayersOnAway: s.AwayBettors,
		NumberOfPlayersOnDraw: s.DrawBettors,
		PerformUpkeepCount:    s.PerformUpkeepCount,
		MaxUpkeepCycles:       s.Params.MaxUpkeepCycles,
		FeeTokenBalance:       weiString(s.FeeTokenBalance),
		RequestFee:            weiString(s.Params.RequestFee),
		FeeCollected:          weiString(s.FeeCollected),
		Balance:               weiString(s.Balance),
		Owner:                 s.Params.Owner.Hex(),
		Oracle:                s.Params.Oracle.Hex(),
		UpdatedAt:             s.UpdatedAt,
	}
	if s.PendingRequestID != (common.Hash{}) {
		v.PendingRequestID = s.PendingRequestID.Hex()
	}
	return v
}

// accountView is one account's position in a pool.
type accountView struct {
	Pool    string `json:"pool"`
	Account string `json:"account"`
	Home    string `json:"home"`
	Away    string `json:"away"`
	Draw    string `json:"draw"`
	Reward  string `json:"reward"`
}

func newAccountView(s domain.PoolSnapshot, account common.Address) accountView {
	v := accountView{
		Pool:    s.Address.Hex(),
		Account: account.Hex(),
		Home:    "0",
		Away:    "0",
		Draw:    "0",
		Reward:  "0",
	}
	for _, st := range s.Stakes {
		if st.Account != account {
			continue
		}
		switch st.Outcome {
		case domain.OutcomeHome:
			v.Home = weiString(st.Amount)
		case domain.OutcomeAway:
			v.Away = weiString(st.Amount)
		case domain.OutcomeDraw:
			v.Draw = weiString(st.Amount)
		}
	}
	for _, rw := range s.Rewards {
		if rw.Account == account {
			v.Reward = weiString(rw.Amount)
		}
	}
	return v
}

type eventView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Account   string    `json:"account,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	State     string    `json:"state"`
	Cycle     int       `json:"cycle,omitempty"`
	At        time.Time `json:"at"`
}

func newEventView(ev domain.PoolEvent) eventView {
	v := eventView{
		ID:    ev.ID,
		Type:  string(ev.Type),
		State: ev.State.String(),
		Cycle: ev.Cycle,
		At:    ev.At,
	}
	if ev.Account != (common.Address{}) {
		v.Account = ev.Account.Hex()
	}
	if ev.Outcome != domain.OutcomeNone {
		v.Outcome = ev.Outcome.String()
	}
	if ev.Amount != nil {
		v.Amount = ev.Amount.String()
	}
	if ev.RequestID != (common.Hash{}) {
		v.RequestID = ev.RequestID.Hex()
	}
	return v
}
