package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "serve"
log_level = "debug"

[oracle]
driver = "mock"
poll_interval = "2s"

[keeper]
interval = "10s"
lock_ttl = "1m"

[server]
port = 9090
require_signatures = true

[[pools]]
match_id = "wc-final"
owner = "0x00000000000000000000000000000000000000fe"
match_time = "2026-07-19T19:00:00Z"
timeout = "2h"
minimum_bet = "1000"
fee_bps = 0
oracle = "0x00000000000000000000000000000000000000c1"
request_fee = "100"
fund_amount = "1000"

[[pools]]
address = "0x00000000000000000000000000000000000000b2"
match_id = "semi-2"
owner = "0x00000000000000000000000000000000000000fe"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wagerpool.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDecodesPools(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mode != "serve" || cfg.Server.Port != 9090 || !cfg.Server.RequireSignatures {
		t.Fatalf("unexpected top-level config: %+v", cfg.Server)
	}
	if cfg.Keeper.Interval.Duration != 10*time.Second {
		t.Fatalf("keeper interval = %s", cfg.Keeper.Interval.Duration)
	}
	if len(cfg.Pools) != 2 {
		t.Fatalf("pools = %d", len(cfg.Pools))
	}

	params, fund, err := cfg.Pools[0].Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if params.FeeBps != 0 {
		t.Fatalf("explicit zero fee lost: %d", params.FeeBps)
	}
	if params.Timeout != 2*time.Hour || params.MinimumBet.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("params = %+v", params)
	}
	if !params.MatchTimestamp.Equal(time.Date(2026, 7, 19, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("match time = %s", params.MatchTimestamp)
	}
	if fund.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("fund = %s", fund)
	}

	second, _, err := cfg.Pools[1].Params()
	if err != nil {
		t.Fatal(err)
	}
	if second.FeeBps != 200 || second.Timeout != 24*time.Hour || second.MinimumBet != nil {
		t.Fatalf("defaults not applied: %+v", second)
	}
	if cfg.Pools[1].PoolAddress().Hex() != "0x00000000000000000000000000000000000000b2" {
		t.Fatalf("address = %s", cfg.Pools[1].PoolAddress().Hex())
	}
}

func TestDerivedPoolAddressIsStable(t *testing.T) {
	a := PoolConfig{MatchID: "m-1"}.PoolAddress()
	b := PoolConfig{MatchID: "m-1"}.PoolAddress()
	c := PoolConfig{MatchID: "m-2"}.PoolAddress()
	if a != b || a == c {
		t.Fatalf("derived addresses: %s %s %s", a.Hex(), b.Hex(), c.Hex())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAGERPOOL_MODE", "keeper")
	t.Setenv("WAGERPOOL_KEEPER_INTERVAL", "45s")
	t.Setenv("WAGERPOOL_KEEPER_API_BASE", "http://pools:8080")
	t.Setenv("WAGERPOOL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WAGERPOOL_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "keeper" || cfg.Keeper.Interval.Duration != 45*time.Second || cfg.Keeper.APIBase != "http://pools:8080" {
		t.Fatalf("overrides not applied: mode=%s interval=%s api_base=%q", cfg.Mode, cfg.Keeper.Interval.Duration, cfg.Keeper.APIBase)
	}
	if cfg.RunsPools() {
		t.Fatal("keeper mode must not host pools")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unparsable override replaced port: %d", cfg.Server.Port)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Redis.Addr = ""
	fee := uint64(20_000)
	cfg.Pools = []PoolConfig{
		{MatchID: "", FeeBps: &fee},
		{MatchID: "x", MinimumBet: "-5"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		"redis: addr",
		"pools[0]",
		"match_id must not be empty",
		"fee_bps 20000",
		"minimum_bet",
		"owner must be set",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateRequiresPoolOwner(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.Driver = "mock"
	zero := uint64(0)
	cfg.Pools = []PoolConfig{{MatchID: "m-1", FeeBps: &zero}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "pools[0]: owner must be set") {
		t.Fatalf("err = %v, want missing owner", err)
	}
	cfg.Pools[0].Owner = "0x00000000000000000000000000000000000000fe"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("owned pool: %v", err)
	}
}

func TestValidateKeeperModeNeedsAPIBase(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.Driver = "mock"
	cfg.Mode = "keeper"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "keeper: api_base") {
		t.Fatalf("err = %v, want api_base error", err)
	}
	cfg.Keeper.APIBase = "http://localhost:8080"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("keeper mode with api_base: %v", err)
	}
}

func TestValidateDuplicatePools(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.Driver = "mock"
	owner := "0x00000000000000000000000000000000000000fe"
	cfg.Pools = []PoolConfig{{MatchID: "same", Owner: owner}, {MatchID: "same", Owner: owner}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate pool address") {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "k"
	cfg.Notify.Events = []string{"pool_ended"}

	red := RedactedConfig(&cfg)
	if red.Oracle.PrivateKey != redacted || red.Postgres.Password != redacted || red.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", red.Oracle)
	}
	if red.S3.SecretKey != "" {
		t.Fatal("empty secret should stay empty")
	}
	red.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "pool_ended" {
		t.Fatal("redacted copy aliases original slice")
	}
	if cfg.Oracle.PrivateKey != "deadbeef" {
		t.Fatal("original mutated")
	}
}

func TestValidateDefaultsWithMockOracle(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.Driver = "mock"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with mock oracle should validate: %v", err)
	}
	cfg.Oracle.Driver = "carrier-pigeon"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "oracle: driver") {
		t.Fatalf("err = %v, want driver error", err)
	}

	cfg.Oracle.Driver = "stream"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "oracle: either private_key") {
		t.Fatalf("err = %v, want missing oracle key", err)
	}
}
