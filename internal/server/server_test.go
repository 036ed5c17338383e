package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/keeper"
	"github.com/alanyoungcy/wagerpool/internal/oracle"
	"github.com/alanyoungcy/wagerpool/internal/server/handler"
	"github.com/alanyoungcy/wagerpool/internal/service"
)

var (
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	dave     = common.HexToAddress("0x0000000000000000000000000000000000000004")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	oneEther = big.NewInt(1_000_000_000_000_000_000)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ts     *httptest.Server
	clock  *clock
	mock   *oracle.Mock
	svc    *service.PoolService
	ledger *service.MemoryLedger
}

func newFixture(t *testing.T, cfg Config, signer *crypto.Signer, auth *crypto.HMACAuth) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{t: time.Now().Add(-time.Hour).Truncate(time.Second)}

	mock := oracle.NewMock(signer)
	ledger := service.NewMemoryLedger()
	svc := service.NewPoolService(mock, ledger, service.Deps{}, logger,
		service.WithClock(clk.Now),
		service.WithSignedFulfillments(signer != nil),
	)
	mock.SetFulfiller(svc)

	params := domain.PoolParams{
		MatchID:        "match-1",
		MatchTimestamp: clk.Now().Add(time.Hour),
		Timeout:        time.Hour,
		MinimumBet:     big.NewInt(1000),
		FeeBps:         200,
		Owner:          owner,
		Oracle:         mock.Address(),
	}
	if _, err := svc.Deploy(context.Background(), poolAddr, params, nil); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	for _, who := range []common.Address{alice, bob, carol} {
		if err := ledger.Deposit(context.Background(), who, oneEther, "deposit"); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	status := func() domain.ServiceStatus { return svc.Status("serve", false) }
	handlers := Handlers{
		Health:  handler.NewHealthHandler(status, logger),
		Pools:   handler.NewPoolHandler(svc, false, logger),
		Oracle:  handler.NewOracleHandler(svc, auth, mock, logger),
		Wallets: handler.NewWalletHandler(ledger, logger),
	}
	ts := httptest.NewServer(Routes(cfg, handlers, nil, nil, logger))
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, clock: clk, mock: mock, svc: svc, ledger: ledger}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func bet(account common.Address, outcome, amount string) map[string]any {
	return map[string]any{"account": account.Hex(), "outcome": outcome, "amount": amount}
}

func TestPoolLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	base := "/api/pools/" + poolAddr.Hex()
	stake := oneEther.String()

	for _, b := range []map[string]any{
		bet(alice, "home", stake),
		bet(bob, "away", stake),
		bet(carol, "draw", "0xde0b6b3a7640000"),
	} {
		if code, body := f.do(t, http.MethodPost, base+"/bets", b, nil); code != http.StatusCreated {
			t.Fatalf("bet: status %d body %v", code, body)
		}
	}

	code, body := f.do(t, http.MethodGet, base, nil, nil)
	if code != http.StatusOK {
		t.Fatalf("get pool: %d", code)
	}
	if body["bet_amount"] != "3000000000000000000" || body["state"] != "open" {
		t.Fatalf("unexpected pool view: %v", body)
	}

	if _, body := f.do(t, http.MethodGet, base+"/upkeep", nil, nil); body["upkeep_needed"] != false {
		t.Fatalf("upkeep should not be due yet: %v", body)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/upkeep", nil, nil); code != http.StatusConflict {
		t.Fatalf("early upkeep: status %d, want 409", code)
	}

	f.clock.Advance(2 * time.Hour)
	code, body = f.do(t, http.MethodPost, base+"/upkeep", nil, nil)
	if code != http.StatusOK || body["state"] != "calculating" {
		t.Fatalf("upkeep: status %d body %v", code, body)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/bets", bet(alice, "home", stake), nil); code != http.StatusConflict {
		t.Fatalf("late bet: status %d, want 409", code)
	}

	_, body = f.do(t, http.MethodGet, "/api/oracle/requests", nil, nil)
	reqs, _ := body["requests"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 oracle request, got %v", body)
	}
	id := reqs[0].(map[string]any)["id"].(string)
	if code, body := f.do(t, http.MethodPost, "/api/oracle/requests/"+id+"/resolve", map[string]any{"result": 1}, nil); code != http.StatusOK {
		t.Fatalf("resolve: status %d body %v", code, body)
	}

	_, body = f.do(t, http.MethodGet, base, nil, nil)
	if body["state"] != "ended" || body["winner"] != "home" {
		t.Fatalf("pool not settled: %v", body)
	}

	// Losing side is 2e18; 2% fee leaves 1.96e18 for alice on top of her stake.
	// Her deposit went entirely into the stake, so the wallet holds only the payout.
	code, body = f.do(t, http.MethodPost, base+"/withdraw", map[string]any{"account": alice.Hex()}, nil)
	if code != http.StatusOK || body["amount"] != "2960000000000000000" {
		t.Fatalf("withdraw: status %d body %v", code, body)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/withdraw", map[string]any{"account": bob.Hex()}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("loser withdraw: status %d, want 422", code)
	}

	_, body = f.do(t, http.MethodGet, "/api/wallets/"+alice.Hex(), nil, nil)
	if body["balance"] != "2960000000000000000" {
		t.Fatalf("wallet: %v", body)
	}

	_, body = f.do(t, http.MethodGet, "/api/pools?state=ended", nil, nil)
	if pools, _ := body["pools"].([]any); len(pools) != 1 {
		t.Fatalf("list ended pools: %v", body)
	}
}

func TestRejectsBadRequests(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	base := "/api/pools/" + poolAddr.Hex()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad address", http.MethodGet, "/api/pools/nothex", nil, http.StatusBadRequest},
		{"unknown pool", http.MethodGet, "/api/pools/0x00000000000000000000000000000000000000bb", nil, http.StatusNotFound},
		{"below minimum", http.MethodPost, base + "/bets", bet(alice, "home", "10"), http.StatusBadRequest},
		{"bad outcome", http.MethodPost, base + "/bets", bet(alice, "sideways", "5000"), http.StatusBadRequest},
		{"bad amount", http.MethodPost, base + "/bets", bet(alice, "home", "lots"), http.StatusBadRequest},
		{"unknown field", http.MethodPost, base + "/bets", map[string]any{"account": alice.Hex(), "extra": 1}, http.StatusBadRequest},
		{"cancel without stake", http.MethodPost, base + "/cancel", map[string]any{"account": bob.Hex()}, http.StatusUnprocessableEntity},
		{"bad state filter", http.MethodGet, "/api/pools?state=weird", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := f.do(t, tc.method, tc.path, tc.body, nil); code != tc.want {
				t.Fatalf("status %d, want %d (body %v)", code, tc.want, body)
			}
		})
	}
}

func TestAPIKeyProtectsEverythingButHealth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil, nil)

	if code, _ := f.do(t, http.MethodGet, "/api/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/pools", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("pools without key: %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/pools", nil, map[string]string{"X-API-Key": "secret"}); code != http.StatusOK {
		t.Fatalf("pools with key: %d", code)
	}
	code, body := f.do(t, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Bearer secret"})
	if code != http.StatusOK || body["pools"] != float64(1) {
		t.Fatalf("status: %d %v", code, body)
	}
}

func TestSignedFulfillmentOverHMAC(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	auth := &crypto.HMACAuth{Key: "node-1", Secret: "shh"}
	f := newFixture(t, Config{APIKey: "secret"}, signer, auth)
	base := "/api/pools/" + poolAddr.Hex()
	key := map[string]string{"X-API-Key": "secret"}

	for _, b := range []map[string]any{
		bet(alice, "home", "5000"),
		bet(bob, "away", "5000"),
		bet(carol, "draw", "5000"),
	} {
		if code, _ := f.do(t, http.MethodPost, base+"/bets", b, key); code != http.StatusCreated {
			t.Fatalf("bet: %d", code)
		}
	}
	f.clock.Advance(2 * time.Hour)
	if code, _ := f.do(t, http.MethodPost, base+"/upkeep", nil, key); code != http.StatusOK {
		t.Fatalf("upkeep: %d", code)
	}
	req, ok := f.mock.Latest(poolAddr)
	if !ok {
		t.Fatal("no oracle request recorded")
	}

	ctx := context.Background()
	fl := domain.Fulfillment{RequestID: req.ID, Pool: poolAddr, Result: 2}

	// Unsigned callbacks are refused by the service.
	err = oracle.NewHTTPFulfiller(f.ts.URL, auth, time.Second).Fulfill(ctx, fl)
	if !errors.Is(err, domain.ErrUnauthorizedOracle) {
		t.Fatalf("unsigned fulfill: got %v", err)
	}

	if err := signer.SignFulfillment(&fl); err != nil {
		t.Fatalf("sign: %v", err)
	}
	wrongAuth := &crypto.HMACAuth{Key: "node-1", Secret: "wrong"}
	if err := oracle.NewHTTPFulfiller(f.ts.URL, wrongAuth, time.Second).Fulfill(ctx, fl); err == nil {
		t.Fatal("expected HMAC rejection")
	}

	if err := oracle.NewHTTPFulfiller(f.ts.URL, auth, time.Second).Fulfill(ctx, fl); err != nil {
		t.Fatalf("signed fulfill: %v", err)
	}
	p, err := f.svc.Pool(poolAddr)
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != domain.PoolStateEnded || p.Winner() != domain.OutcomeAway {
		t.Fatalf("state %s winner %s", p.State(), p.Winner())
	}

	err = oracle.NewHTTPFulfiller(f.ts.URL, auth, time.Second).Fulfill(ctx, fl)
	if !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("replayed fulfill: got %v", err)
	}
}

func TestUnfundedBetRejected(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	base := "/api/pools/" + poolAddr.Hex()

	code, body := f.do(t, http.MethodPost, base+"/bets", bet(dave, "home", "5000"), nil)
	if code != http.StatusUnprocessableEntity || body["error"] != domain.ErrInsufficientFunds.Error() {
		t.Fatalf("unfunded bet: status %d body %v", code, body)
	}
	_, body = f.do(t, http.MethodGet, base, nil, nil)
	if body["bet_amount"] != "0" {
		t.Fatalf("pool took an unfunded stake: %v", body)
	}

	// Bob cannot stake more than he deposited.
	tooMuch := new(big.Int).Add(oneEther, big.NewInt(1)).String()
	if code, _ := f.do(t, http.MethodPost, base+"/bets", bet(bob, "away", tooMuch), nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("overdrawn bet: status %d, want 422", code)
	}
}

func TestDepositRequiresAPIKey(t *testing.T) {
	open := newFixture(t, Config{}, nil, nil)
	resp, err := http.Post(open.ts.URL+"/api/wallets/"+dave.Hex()+"/deposit", "application/json", bytes.NewReader([]byte(`{"amount":"5000"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deposit without operator key configured: status %d, want 404", resp.StatusCode)
	}

	deposit := map[string]any{"amount": "5000"}

	f := newFixture(t, Config{APIKey: "secret"}, nil, nil)
	path := "/api/wallets/" + dave.Hex() + "/deposit"
	if code, _ := f.do(t, http.MethodPost, path, deposit, nil); code != http.StatusUnauthorized {
		t.Fatalf("deposit without key: status %d", code)
	}
	key := map[string]string{"X-API-Key": "secret"}
	if code, _ := f.do(t, http.MethodPost, path, map[string]any{"amount": "0"}, key); code != http.StatusBadRequest {
		t.Fatalf("zero deposit: status %d", code)
	}
	code, body := f.do(t, http.MethodPost, path, deposit, key)
	if code != http.StatusOK || body["balance"] != "5000" {
		t.Fatalf("deposit: status %d body %v", code, body)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/pools/"+poolAddr.Hex()+"/bets", bet(dave, "home", "5000"), key); code != http.StatusCreated {
		t.Fatalf("bet after deposit: status %d", code)
	}
}

func TestKeeperDrivesUpkeepThroughAPI(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil, nil)
	key := map[string]string{"X-API-Key": "secret"}
	base := "/api/pools/" + poolAddr.Hex()
	for _, b := range []map[string]any{
		bet(alice, "home", "5000"),
		bet(bob, "away", "5000"),
		bet(carol, "draw", "5000"),
	} {
		if code, _ := f.do(t, http.MethodPost, base+"/bets", b, key); code != http.StatusCreated {
			t.Fatalf("bet: %d", code)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	remote := keeper.NewRemotePools(f.ts.URL, "secret", time.Second)
	keepers := []*keeper.Keeper{
		keeper.New(remote, nil, keeper.Config{}, logger),
		keeper.New(remote, nil, keeper.Config{}, logger),
	}
	ctx := context.Background()
	if n := keepers[0].Tick(ctx); n != 0 {
		t.Fatalf("early tick performed %d", n)
	}

	f.clock.Advance(2 * time.Hour)
	if n := keepers[0].Tick(ctx); n != 1 {
		t.Fatalf("tick performed %d, want 1", n)
	}
	// The host is calculating now, so the second keeper finds nothing due.
	if n := keepers[1].Tick(ctx); n != 0 {
		t.Fatalf("second keeper performed %d", n)
	}
	if got := len(f.mock.Requests()); got != 1 {
		t.Fatalf("oracle requests = %d, want 1", got)
	}

	_, body := f.do(t, http.MethodGet, base, nil, key)
	if body["state"] != "calculating" || body["bet_amount"] != "15000" {
		t.Fatalf("pool after keeper upkeep: %v", body)
	}

	wrong := keeper.New(keeper.NewRemotePools(f.ts.URL, "nope", time.Second), nil, keeper.Config{}, logger)
	if n := wrong.Tick(ctx); n != 0 {
		t.Fatalf("keeper with a bad key performed %d", n)
	}
}
