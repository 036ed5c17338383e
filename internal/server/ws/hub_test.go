package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }
func (b *chanBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func startHub(t *testing.T) (*Hub, *chanBus, string) {
	t.Helper()
	bus := &chanBus{ch: make(chan []byte, 8)}
	status := func() domain.ServiceStatus { return domain.ServiceStatus{Mode: "serve", Pools: 2} }
	hub := NewHub(bus, status, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return hub, bus, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func firstClient(h *Hub) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		return c
	}
	return nil
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func publish(t *testing.T, bus *chanBus, ev domain.PoolEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	bus.ch <- data
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame kind %d, want text", kind)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHubFiltersByPool(t *testing.T) {
	_, bus, url := startHub(t)
	conn := dial(t, url+"/ws?pool="+poolA.Hex())

	if msg := readJSON(t, conn); msg["type"] != "status" {
		t.Fatalf("first frame %v", msg)
	}

	publish(t, bus, domain.PoolEvent{ID: "1", Type: domain.EventBetPlaced, Pool: poolB, At: time.Now()})
	publish(t, bus, domain.PoolEvent{
		ID:      "2",
		Type:    domain.EventBetPlaced,
		Pool:    poolA,
		Account: common.HexToAddress("0x01"),
		Outcome: domain.OutcomeHome,
		Amount:  new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil),
		At:      time.Now(),
	})

	msg := readJSON(t, conn)
	payload := msg["payload"].(map[string]any)
	if msg["type"] != string(domain.EventBetPlaced) || payload["id"] != "2" {
		t.Fatalf("unexpected frame %v", msg)
	}
	if payload["amount"] != "1000000000000000000000000" || payload["outcome"] != "home" {
		t.Fatalf("payload %v", payload)
	}
}

func TestHubSubscribeMessage(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, url+"/ws?pool="+poolA.Hex())
	readJSON(t, conn)

	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Pools: []string{poolB.Hex()}}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Pools: []string{poolA.Hex()}}); err != nil {
		t.Fatal(err)
	}
	// Give the read pump a moment to apply both changes.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := firstClient(hub); c != nil && c.wants(poolB) && !c.wants(poolA) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	publish(t, bus, domain.PoolEvent{ID: "a", Type: domain.EventPoolEnded, Pool: poolA, At: time.Now()})
	publish(t, bus, domain.PoolEvent{ID: "b", Type: domain.EventPoolEnded, Pool: poolB, At: time.Now()})
	msg := readJSON(t, conn)
	if msg["payload"].(map[string]any)["id"] != "b" {
		t.Fatalf("unexpected frame %v", msg)
	}
}

func TestHubBinaryFrames(t *testing.T) {
	_, bus, url := startHub(t)
	conn := dial(t, url+"/ws?format=binary")

	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("frame kind %d, want binary", kind)
	}
	status, err := DecodeBinary(data)
	if err != nil {
		t.Fatal(err)
	}
	if status["type"] != "status" || status["payload"].(map[string]any)["pools"] != float64(2) {
		t.Fatalf("status %v", status)
	}

	publish(t, bus, domain.PoolEvent{
		ID:        "x",
		Type:      domain.EventOracleRequested,
		Pool:      poolB,
		RequestID: common.HexToHash("0xabc"),
		Cycle:     1,
		State:     domain.PoolStateCalculating,
		At:        time.Now(),
	})
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeBinary(data)
	if err != nil {
		t.Fatal(err)
	}
	payload := msg["payload"].(map[string]any)
	if payload["state"] != "calculating" || payload["request_id"] != common.HexToHash("0xabc").Hex() || payload["cycle"] != float64(1) {
		t.Fatalf("payload %v", payload)
	}
}
