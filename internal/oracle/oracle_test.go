package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type memBus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
}

func newMemBus() *memBus { return &memBus{streams: make(map[string][]domain.StreamMessage)} }

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, _ := strconv.Atoi(lastID)
	msgs := b.streams[stream]
	if start >= len(msgs) {
		return nil, nil
	}
	end := start + count
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]domain.StreamMessage(nil), msgs[start:end]...), nil
}

type recordingFulfiller struct {
	mu   sync.Mutex
	got  []domain.Fulfillment
	errs []error
}

func (r *recordingFulfiller) Fulfill(_ context.Context, f domain.Fulfillment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return err
		}
	}
	r.got = append(r.got, f)
	return nil
}

type stubFetcher struct {
	result int64
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(context.Context, domain.OracleRequest) (int64, error) {
	s.calls++
	return s.result, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest(oracle common.Address, apiURL string) domain.OracleRequest {
	return domain.OracleRequest{
		ID:      common.HexToHash("0x1234"),
		Pool:    common.HexToAddress("0xaa"),
		Oracle:  oracle,
		MatchID: "match-7",
		APIURL:  apiURL,
		JobID:   "job-1",
		Fee:     big.NewInt(1),
	}
}

func TestResultFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("matchId") != "match-7" || r.URL.Query().Get("jobId") != "job-1" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"result": 2}`))
	}))
	defer srv.Close()

	got, err := NewResultFetcher(time.Second).Fetch(context.Background(), testRequest(common.Address{}, srv.URL+"/results"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != 2 {
		t.Fatalf("result = %d, want 2", got)
	}
}

func TestResultFetcherErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"server error", http.StatusInternalServerError, "oops"},
		{"missing result", http.StatusOK, `{}`},
		{"not json", http.StatusOK, `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			if _, err := NewResultFetcher(time.Second).Fetch(context.Background(), testRequest(common.Address{}, srv.URL)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNodeDeliversSignedFulfillment(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	other, _ := crypto.GenerateSigner()
	bus := newMemBus()
	pub := NewStreamPublisher(bus)

	mine := testRequest(signer.Address(), "http://unused")
	foreign := testRequest(other.Address(), "http://unused")
	foreign.ID = common.HexToHash("0x9999")
	for _, req := range []domain.OracleRequest{mine, foreign} {
		if err := pub.Request(context.Background(), req); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}

	ful := &recordingFulfiller{}
	node := NewNode(bus, &stubFetcher{result: 3}, signer, ful, NodeConfig{}, discardLogger())
	if err := node.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(ful.got) != 1 {
		t.Fatalf("delivered %d fulfillments, want 1", len(ful.got))
	}
	f := ful.got[0]
	if f.RequestID != mine.ID || f.Result != 3 || f.Pool != mine.Pool {
		t.Fatalf("unexpected fulfillment: %+v", f)
	}
	addr, err := crypto.RecoverFulfillment(f)
	if err != nil || addr != signer.Address() {
		t.Fatalf("recovered %s, %v", addr.Hex(), err)
	}
	if node.Pending() != 0 {
		t.Fatalf("pending = %d", node.Pending())
	}
}

func TestNodeRetriesAndDropsStale(t *testing.T) {
	signer, _ := crypto.GenerateSigner()
	bus := newMemBus()
	if err := NewStreamPublisher(bus).Request(context.Background(), testRequest(signer.Address(), "x")); err != nil {
		t.Fatal(err)
	}
	fetcher := &stubFetcher{err: errors.New("api down")}
	ful := &recordingFulfiller{}
	node := NewNode(bus, fetcher, signer, ful, NodeConfig{}, discardLogger())

	node.Tick(context.Background())
	if node.Pending() != 1 {
		t.Fatalf("pending = %d after fetch failure", node.Pending())
	}
	fetcher.err = nil
	fetcher.result = 1
	ful.errs = []error{domain.ErrUnknownRequest}
	node.Tick(context.Background())
	if node.Pending() != 0 {
		t.Fatalf("stale request kept: pending = %d", node.Pending())
	}
	if fetcher.calls != 2 {
		t.Fatalf("fetch calls = %d", fetcher.calls)
	}
	node.Tick(context.Background())
	if fetcher.calls != 2 {
		t.Fatal("request re-read from stream")
	}
}

func TestNodeGivesUpAfterMaxAttempts(t *testing.T) {
	signer, _ := crypto.GenerateSigner()
	bus := newMemBus()
	NewStreamPublisher(bus).Request(context.Background(), testRequest(common.Address{}, "x"))
	node := NewNode(bus, &stubFetcher{err: errors.New("down")}, signer, &recordingFulfiller{}, NodeConfig{MaxAttempts: 2}, discardLogger())
	node.Tick(context.Background())
	node.Tick(context.Background())
	if node.Pending() != 0 {
		t.Fatalf("pending = %d", node.Pending())
	}
}

func TestHTTPFulfiller(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "node", Secret: "secret"}
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := auth.Verify(r.Method, r.URL.Path, string(body), r.Header, time.Now(), time.Minute); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var fb FulfillBody
		if err := json.Unmarshal(body, &fb); err != nil || fb.Result != 4 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	h := NewHTTPFulfiller(srv.URL+"/", auth, time.Second)
	f := domain.Fulfillment{RequestID: common.HexToHash("0x01"), Pool: common.HexToAddress("0xaa"), Result: 4, Signature: make([]byte, 65)}

	status = http.StatusOK
	if err := h.Fulfill(context.Background(), f); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	status = http.StatusConflict
	if err := h.Fulfill(context.Background(), f); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("409: err = %v", err)
	}
	status = http.StatusForbidden
	if err := h.Fulfill(context.Background(), f); !errors.Is(err, domain.ErrUnauthorizedOracle) {
		t.Fatalf("403: err = %v", err)
	}
}

func TestMockResolve(t *testing.T) {
	signer, _ := crypto.GenerateSigner()
	m := NewMock(signer)
	req := testRequest(signer.Address(), "x")
	if err := m.Request(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if err := m.Resolve(context.Background(), req.ID, 1); err == nil {
		t.Fatal("resolve without fulfiller succeeded")
	}
	ful := &recordingFulfiller{}
	m.SetFulfiller(ful)
	if err := m.Resolve(context.Background(), common.HexToHash("0xdead"), 1); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("unknown id: err = %v", err)
	}
	if err := m.Resolve(context.Background(), req.ID, 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ful.got) != 1 || len(ful.got[0].Signature) != 65 {
		t.Fatalf("unexpected fulfillments: %+v", ful.got)
	}
	if latest, ok := m.Latest(req.Pool); !ok || latest.ID != req.ID {
		t.Fatalf("Latest = %+v, %v", latest, ok)
	}
}
