package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/server/handler"
	"github.com/alanyoungcy/wagerpool/internal/server/middleware"
	"github.com/alanyoungcy/wagerpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // mutating requests per client per minute; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Oracle and Wallets may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Pools   *handler.PoolHandler
	Oracle  *handler.OracleHandler
	Wallets *handler.WalletHandler
}

// Server is the HTTP + WebSocket API of a wagerpool node.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Routes builds the full handler tree. It is exported so tests can drive
// the API through httptest without binding a port.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.Status)

	// Pool reads.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{address}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{address}/accounts/{account}", handlers.Pools.GetAccount)
	mux.HandleFunc("GET /api/pools/{address}/events", handlers.Pools.ListEvents)
	mux.HandleFunc("GET /api/pools/{address}/upkeep", handlers.Pools.CheckUpkeep)
	mux.HandleFunc("GET /api/upkeep", handlers.Pools.DueUpkeeps)

	// Pool writes.
	mux.HandleFunc("POST /api/pools/{address}/upkeep", handlers.Pools.PerformUpkeep)
	mux.HandleFunc("POST /api/pools/{address}/bets", handlers.Pools.PlaceBet)
	mux.HandleFunc("POST /api/pools/{address}/cancel", handlers.Pools.CancelBet)
	mux.HandleFunc("POST /api/pools/{address}/withdraw", handlers.Pools.Withdraw)
	mux.HandleFunc("POST /api/pools/{address}/fund", handlers.Pools.FundFeeToken)

	if handlers.Oracle != nil {
		mux.HandleFunc("POST /api/pools/{address}/fulfill", handlers.Oracle.Fulfill)
		if handlers.Oracle.HasMock() {
			mux.HandleFunc("GET /api/oracle/requests", handlers.Oracle.ListRequests)
			mux.HandleFunc("POST /api/oracle/requests/{id}/resolve", handlers.Oracle.Resolve)
		}
	}
	if handlers.Wallets != nil {
		mux.HandleFunc("GET /api/wallets/{account}", handlers.Wallets.GetWallet)
		// Deposits mint balance, so they need the operator key.
		if cfg.APIKey != "" {
			mux.HandleFunc("POST /api/wallets/{account}/deposit", handlers.Wallets.Deposit)
		}
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	h = middleware.Auth(cfg.APIKey, skipAuth)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// skipAuth exempts health checks and oracle callbacks, which carry their
// own HMAC authentication.
func skipAuth(r *http.Request) bool {
	if r.URL.Path == "/api/health" {
		return true
	}
	return r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/fulfill")
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
