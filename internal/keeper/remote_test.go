package keeper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// fakeHost serves the two upkeep endpoints of a pool node.
func fakeHost(t *testing.T, key string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var performed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/upkeep", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"due":["` + poolA.Hex() + `","` + poolB.Hex() + `"]}`))
	})
	mux.HandleFunc("POST /api/pools/{address}/upkeep", func(w http.ResponseWriter, r *http.Request) {
		addr := r.PathValue("address")
		if addr == poolB.Hex() {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"` + domain.ErrUpkeepNotNeeded.Error() + `"}`))
			return
		}
		performed.Add(1)
		w.Write([]byte(`{"address":"` + addr + `","state":"calculating","perform_upkeep_count":1}`))
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != key {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &performed
}

func TestRemotePoolsDrivesHost(t *testing.T) {
	srv, performed := fakeHost(t, "secret")
	remote := NewRemotePools(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	due, err := remote.DuePools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0] != poolA || due[1] != poolB {
		t.Fatalf("due = %v", due)
	}

	snap, err := remote.PerformUpkeep(ctx, poolA)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != domain.PoolStateCalculating || snap.PerformUpkeepCount != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := remote.PerformUpkeep(ctx, poolB); !errors.Is(err, domain.ErrUpkeepNotNeeded) {
		t.Fatalf("err = %v, want ErrUpkeepNotNeeded", err)
	}

	k := New(remote, nil, Config{}, discard())
	if n := k.Tick(ctx); n != 1 {
		t.Fatalf("tick performed %d, want 1", n)
	}
	if n := performed.Load(); n != 2 {
		t.Fatalf("host ran %d cycles, want 2", n)
	}
}

func TestRemotePoolsRejectedKey(t *testing.T) {
	srv, _ := fakeHost(t, "secret")
	remote := NewRemotePools(srv.URL, "wrong", time.Second)
	if _, err := remote.DuePools(context.Background()); err == nil {
		t.Fatal("expected error for rejected key")
	}
}
