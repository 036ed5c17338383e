package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
)

var testPool = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// stubPools records the last bet and returns canned snapshots.
type stubPools struct {
	bets int
	last struct {
		bettor  common.Address
		outcome domain.Outcome
		value   *big.Int
	}
}

func (s *stubPools) List(*domain.PoolState) []domain.PoolSnapshot { return nil }
func (s *stubPools) Snapshot(context.Context, common.Address) (domain.PoolSnapshot, error) {
	return domain.PoolSnapshot{Address: testPool}, nil
}
func (s *stubPools) Events(context.Context, common.Address, domain.ListOpts) ([]domain.PoolEvent, error) {
	return nil, nil
}
func (s *stubPools) CheckUpkeep(common.Address) (bool, error) { return false, nil }
func (s *stubPools) DuePools(context.Context) ([]common.Address, error) {
	return []common.Address{testPool}, nil
}
func (s *stubPools) PlaceBet(_ context.Context, addr, bettor common.Address, outcome domain.Outcome, value *big.Int) (domain.PoolSnapshot, error) {
	s.bets++
	s.last.bettor, s.last.outcome, s.last.value = bettor, outcome, value
	return domain.PoolSnapshot{
		Address: addr,
		Stakes:  []domain.StakeRecord{{Account: bettor, Outcome: outcome, Amount: value}},
	}, nil
}
func (s *stubPools) CancelBet(context.Context, common.Address, common.Address) (domain.PoolSnapshot, error) {
	return domain.PoolSnapshot{}, domain.ErrZeroBalance
}
func (s *stubPools) Withdraw(context.Context, common.Address, common.Address) (*big.Int, error) {
	return nil, fmt.Errorf("ledger offline")
}
func (s *stubPools) FundFeeToken(context.Context, common.Address, common.Address, *big.Int) (domain.PoolSnapshot, error) {
	return domain.PoolSnapshot{}, nil
}
func (s *stubPools) PerformUpkeep(context.Context, common.Address) (domain.PoolSnapshot, error) {
	return domain.PoolSnapshot{}, domain.ErrUpkeepNotNeeded
}

func newTestHandler(pools PoolService, requireSigs bool, now time.Time) (*PoolHandler, *http.ServeMux) {
	h := NewPoolHandler(pools, requireSigs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return now }
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pools/{address}/bets", h.PlaceBet)
	mux.HandleFunc("POST /api/pools/{address}/cancel", h.CancelBet)
	mux.HandleFunc("POST /api/pools/{address}/withdraw", h.Withdraw)
	mux.HandleFunc("POST /api/pools/{address}/upkeep", h.PerformUpkeep)
	mux.HandleFunc("GET /api/upkeep", h.DueUpkeeps)
	return h, mux
}

func post(mux http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func signedBet(t *testing.T, signer *crypto.Signer, ts int64, amount, nonce string) string {
	t.Helper()
	action := Action{
		Name:      "bet",
		Pool:      testPool,
		Account:   signer.Address(),
		Outcome:   domain.OutcomeAway,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: ts,
	}
	sig, err := signer.SignMessage(action.Message())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	body, _ := json.Marshal(map[string]any{
		"account":   signer.Address().Hex(),
		"outcome":   "away",
		"amount":    amount,
		"nonce":     nonce,
		"timestamp": ts,
		"signature": crypto.EncodeSignature(sig),
	})
	return string(body)
}

func TestPlaceBetRequiresAccountSignature(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	other, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	pools := &stubPools{}
	_, mux := newTestHandler(pools, true, now)
	path := "/api/pools/" + testPool.Hex() + "/bets"

	rec := post(mux, path, signedBet(t, signer, now.Unix(), "5000", "n-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signed bet: %d %s", rec.Code, rec.Body)
	}
	if pools.last.bettor != signer.Address() || pools.last.outcome != domain.OutcomeAway || pools.last.value.Int64() != 5000 {
		t.Fatalf("unexpected bet recorded: %+v", pools.last)
	}
	var view accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Away != "5000" || view.Home != "0" {
		t.Fatalf("account view: %+v", view)
	}

	// Signature by someone else over the same account.
	body := signedBet(t, other, now.Unix(), "5000", "n-2")
	body = strings.Replace(body, other.Address().Hex(), signer.Address().Hex(), 1)
	if rec := post(mux, path, body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign signature: %d", rec.Code)
	}

	// Stale timestamp.
	if rec := post(mux, path, signedBet(t, signer, now.Add(-10*time.Minute).Unix(), "5000", "n-3")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale signature: %d", rec.Code)
	}

	// Amount tampered after signing.
	body = strings.Replace(signedBet(t, signer, now.Unix(), "5000", "n-4"), `"amount":"5000"`, `"amount":"9000"`, 1)
	if rec := post(mux, path, body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered amount: %d", rec.Code)
	}

	// Signed but without a nonce.
	if rec := post(mux, path, signedBet(t, signer, now.Unix(), "5000", "")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing nonce: %d", rec.Code)
	}

	unsigned := fmt.Sprintf(`{"account":%q,"outcome":"away","amount":"5000"}`, signer.Address().Hex())
	if rec := post(mux, path, unsigned); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: %d", rec.Code)
	}
	if pools.bets != 1 {
		t.Fatalf("rejected bets reached the service: %d", pools.bets)
	}
}

type countingNonces struct {
	claims int
	used   map[string]bool
}

func (c *countingNonces) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.claims++
	if c.used[key] {
		return false, nil
	}
	c.used[key] = true
	return true, nil
}

func TestSignedActionReplayRejected(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	pools := &stubPools{}
	path := "/api/pools/" + testPool.Hex() + "/bets"

	// Default in-process nonce tracking.
	_, mux := newTestHandler(pools, true, now)
	body := signedBet(t, signer, now.Unix(), "5000", "once")
	if rec := post(mux, path, body); rec.Code != http.StatusCreated {
		t.Fatalf("first bet: %d %s", rec.Code, rec.Body)
	}
	rec := post(mux, path, body)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), domain.ErrNonceUsed.Error()) {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body)
	}
	if rec := post(mux, path, signedBet(t, signer, now.Unix(), "5000", "twice")); rec.Code != http.StatusCreated {
		t.Fatalf("fresh nonce: %d %s", rec.Code, rec.Body)
	}
	if pools.bets != 2 {
		t.Fatalf("bets = %d, want 2", pools.bets)
	}

	// A shared store sees the replay even from another handler.
	shared := &countingNonces{used: map[string]bool{}}
	h1 := NewPoolHandler(pools, true, slog.New(slog.NewTextHandler(io.Discard, nil)), WithNonceStore(shared))
	h2 := NewPoolHandler(pools, true, slog.New(slog.NewTextHandler(io.Discard, nil)), WithNonceStore(shared))
	h1.now = func() time.Time { return now }
	h2.now = func() time.Time { return now }
	body = signedBet(t, signer, now.Unix(), "5000", "shared")
	r1 := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r1.SetPathValue("address", testPool.Hex())
	w1 := httptest.NewRecorder()
	h1.PlaceBet(w1, r1)
	r2 := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r2.SetPathValue("address", testPool.Hex())
	w2 := httptest.NewRecorder()
	h2.PlaceBet(w2, r2)
	if w1.Code != http.StatusCreated || w2.Code != http.StatusConflict {
		t.Fatalf("shared store: %d then %d", w1.Code, w2.Code)
	}
	if shared.claims != 2 {
		t.Fatalf("claims = %d, want 2", shared.claims)
	}
}

func TestLocalNoncesExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	n := newLocalNonces(func() time.Time { return now })
	ctx := context.Background()
	if ok, _ := n.Claim(ctx, "a:1", time.Minute); !ok {
		t.Fatal("first claim refused")
	}
	if ok, _ := n.Claim(ctx, "a:1", time.Minute); ok {
		t.Fatal("second claim accepted")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := n.Claim(ctx, "a:1", time.Minute); !ok {
		t.Fatal("claim after expiry refused")
	}
}

func TestDueUpkeeps(t *testing.T) {
	_, mux := newTestHandler(&stubPools{}, false, time.Now())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/upkeep", nil))
	var body struct {
		Due []string `json:"due"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || len(body.Due) != 1 || body.Due[0] != testPool.Hex() {
		t.Fatalf("due upkeeps: %d %s", rec.Code, rec.Body)
	}
}

func TestErrorResponses(t *testing.T) {
	_, mux := newTestHandler(&stubPools{}, false, time.Now())
	base := "/api/pools/" + testPool.Hex()
	account := `{"account":"0x0000000000000000000000000000000000000001"}`

	rec := post(mux, base+"/cancel", account)
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), domain.ErrZeroBalance.Error()) {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body)
	}
	rec = post(mux, base+"/withdraw", account)
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "ledger offline") {
		t.Fatalf("withdraw should hide internal errors: %d %s", rec.Code, rec.Body)
	}
	if rec := post(mux, base+"/upkeep", ""); rec.Code != http.StatusConflict {
		t.Fatalf("upkeep: %d", rec.Code)
	}
	if rec := post(mux, base+"/cancel", `{"account":"bob"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad account: %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrPoolNotFound:                          http.StatusNotFound,
		fmt.Errorf("wrap: %w", domain.ErrSendMoreFunds): http.StatusBadRequest,
		domain.ErrUnauthorizedOracle:                    http.StatusForbidden,
		fmt.Errorf("pool: %w", domain.ErrMatchStarted):  http.StatusConflict,
		domain.ErrUnknownRequest:                        http.StatusConflict,
		domain.ErrNoReward:                              http.StatusUnprocessableEntity,
		domain.ErrInsufficientFeeToken:                  http.StatusUnprocessableEntity,
		domain.ErrInsufficientFunds:                     http.StatusUnprocessableEntity,
		domain.ErrNotOwner:                              http.StatusForbidden,
		domain.ErrNonceUsed:                             http.StatusConflict,
		fmt.Errorf("boom"):                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	for in, want := range map[string]int64{
		"1000":  1000,
		" 42 ":  42,
		"0x3e8": 1000,
		"0X10":  16,
	} {
		got, err := parseAmount(in)
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", in, err)
		}
		if got.Int64() != want {
			t.Errorf("parseAmount(%q) = %s, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "ten", "0xzz", "1.5"} {
		if _, err := parseAmount(bad); err == nil {
			t.Errorf("parseAmount(%q) should fail", bad)
		}
	}
}
