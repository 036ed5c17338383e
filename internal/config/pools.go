package config

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// PoolConfig is one [[pools]] deployment table. Amounts are decimal wei
// strings. Empty fields take the pool defaults.
type PoolConfig struct {
	Address         string   `toml:"address"`
	MatchID         string   `toml:"match_id"`
	MatchTime       string   `toml:"match_time"` // RFC 3339
	Timeout         duration `toml:"timeout"`
	MinimumBet      string   `toml:"minimum_bet"`
	FeeBps          *uint64  `toml:"fee_bps"`
	MaxUpkeepCycles int      `toml:"max_upkeep_cycles"`
	Owner           string   `toml:"owner"`
	Oracle          string   `toml:"oracle"`
	APIURL          string   `toml:"api_url"`
	JobID           string   `toml:"job_id"`
	RequestFee      string   `toml:"request_fee"`
	FeeToken        string   `toml:"fee_token"`
	FundAmount      string   `toml:"fund_amount"`
}

const (
	defaultFeeBps  uint64 = 200
	defaultTimeout        = 24 * time.Hour
)

// PoolAddress returns the configured address, or one derived from the
// match id when none is set.
func (p PoolConfig) PoolAddress() common.Address {
	if p.Address != "" {
		return common.HexToAddress(p.Address)
	}
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("wagerpool:" + p.MatchID)))
}

// Params converts the table into deployment parameters and the initial
// fee-token funding.
func (p PoolConfig) Params() (domain.PoolParams, *big.Int, error) {
	if err := p.validate(); err != nil {
		return domain.PoolParams{}, nil, err
	}
	params := domain.PoolParams{
		MatchID:         p.MatchID,
		Timeout:         p.Timeout.Duration,
		FeeBps:          defaultFeeBps,
		MaxUpkeepCycles: p.MaxUpkeepCycles,
		Owner:           common.HexToAddress(p.Owner),
		Oracle:          common.HexToAddress(p.Oracle),
		APIURL:          p.APIURL,
		JobID:           p.JobID,
		FeeToken:        common.HexToAddress(p.FeeToken),
	}
	if params.Timeout == 0 {
		params.Timeout = defaultTimeout
	}
	if p.FeeBps != nil {
		params.FeeBps = *p.FeeBps
	}
	if p.MatchTime != "" {
		t, _ := time.Parse(time.RFC3339, p.MatchTime)
		params.MatchTimestamp = t
	}
	params.MinimumBet, _ = parseWei(p.MinimumBet)
	params.RequestFee, _ = parseWei(p.RequestFee)
	fund, _ := parseWei(p.FundAmount)
	return params, fund, nil
}

func (p PoolConfig) validate() error {
	var errs []error
	if p.MatchID == "" {
		errs = append(errs, errors.New("match_id must not be empty"))
	}
	if p.MatchTime != "" {
		if _, err := time.Parse(time.RFC3339, p.MatchTime); err != nil {
			errs = append(errs, fmt.Errorf("match_time: %w", err))
		}
	}
	if p.Timeout.Duration < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if p.Owner == "" {
		errs = append(errs, errors.New("owner must be set; it receives the fee and funds the oracle fee token"))
	}
	if p.FeeBps != nil && *p.FeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("fee_bps %d exceeds 10000", *p.FeeBps))
	}
	for name, v := range map[string]string{"address": p.Address, "owner": p.Owner, "oracle": p.Oracle, "fee_token": p.FeeToken} {
		if v != "" && !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s %q is not a hex address", name, v))
		}
	}
	for name, v := range map[string]string{"minimum_bet": p.MinimumBet, "request_fee": p.RequestFee, "fund_amount": p.FundAmount} {
		if _, err := parseWei(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// parseWei parses a non-negative decimal amount. Empty means nil.
func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}
