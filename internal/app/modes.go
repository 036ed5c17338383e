package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/keeper"
	"github.com/alanyoungcy/wagerpool/internal/oracle"
	"github.com/alanyoungcy/wagerpool/internal/pipeline"
	"github.com/alanyoungcy/wagerpool/internal/server"
	"github.com/alanyoungcy/wagerpool/internal/server/handler"
	"github.com/alanyoungcy/wagerpool/internal/server/ws"
	"github.com/alanyoungcy/wagerpool/internal/service"
)

// poolNode is the pool registry of this process together with the oracle
// it issues requests to.
type poolNode struct {
	svc  *service.PoolService
	mock *oracle.Mock // nil unless oracle.driver is "mock"
}

// ServeMode hosts the pools behind the HTTP API. The keeper runs alongside
// when keeper.enabled is set.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	node, err := a.buildPoolNode(ctx, deps, nil)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps, node.svc)
	}
	a.startBackfill(ctx, g, deps, node.svc)
	a.startHTTPServer(ctx, g, deps, node)
	return g.Wait()
}

// KeeperMode performs upkeep on the pools of the node at keeper.api_base.
// It hosts no pools, so any number of keepers may point at one host.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode", slog.String("api_base", a.cfg.Keeper.APIBase))

	apiKey := a.cfg.Keeper.APIKey
	if apiKey == "" {
		apiKey = a.cfg.Server.APIKey
	}
	remote := keeper.NewRemotePools(a.cfg.Keeper.APIBase, apiKey, a.cfg.Oracle.HTTPTimeout.Duration)

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, remote)
	return g.Wait()
}

// OracleMode runs only the oracle node, delivering fulfillments to the
// pool API at oracle.api_base.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode", slog.String("api_base", a.cfg.Oracle.APIBase))

	signer, err := a.loadOracleSigner()
	if err != nil {
		return fmt.Errorf("oracle mode: %w", err)
	}
	fulfiller := oracle.NewHTTPFulfiller(a.cfg.Oracle.APIBase, a.hmacAuth(), a.cfg.Oracle.HTTPTimeout.Duration)

	g, ctx := errgroup.WithContext(ctx)
	a.startOracleNode(ctx, g, deps, signer, fulfiller)
	return g.Wait()
}

// FullMode runs the pools, the API, the keeper and, with the stream
// driver, an oracle node that fulfills in-process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	var signer *crypto.Signer
	if a.cfg.RunsOracleNode() {
		var err error
		if signer, err = a.loadOracleSigner(); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	node, err := a.buildPoolNode(ctx, deps, signer)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if signer != nil {
		a.startOracleNode(ctx, g, deps, signer, node.svc)
	}
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps, node.svc)
	}
	a.startBackfill(ctx, g, deps, node.svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, node)
	}
	return g.Wait()
}

// buildPoolNode creates the pool registry, restores persisted pools and
// deploys the configured ones. The local oracle key, when there is one,
// becomes the oracle of pools that do not name one.
func (a *App) buildPoolNode(ctx context.Context, deps *Dependencies, signer *crypto.Signer) (*poolNode, error) {
	node := &poolNode{}

	if signer == nil && (a.cfg.Oracle.PrivateKey != "" || a.cfg.Oracle.EncryptedKeyPath != "") {
		s, err := a.loadOracleSigner()
		if err != nil {
			return nil, err
		}
		signer = s
	}

	var orc domain.Oracle
	switch a.cfg.Oracle.Driver {
	case "mock":
		// With a key the mock signs what it resolves.
		node.mock = oracle.NewMock(signer)
		orc = node.mock
	default:
		orc = oracle.NewStreamPublisher(deps.SignalBus)
	}

	svcDeps := service.Deps{
		Store:    deps.PoolStore,
		Events:   deps.EventStore,
		Audit:    deps.AuditStore,
		Cache:    deps.PoolCache,
		Bus:      deps.SignalBus,
		Archiver: deps.Archiver,
	}
	if deps.Notifier.Enabled() {
		svcDeps.Notifier = deps.Notifier
	}
	// Results from remote nodes must carry the pool oracle's signature.
	svc := service.NewPoolService(orc, deps.Ledger, svcDeps, a.logger,
		service.WithSignedFulfillments(a.cfg.Oracle.Driver == "stream"),
	)
	if node.mock != nil {
		node.mock.SetFulfiller(svc)
	}
	node.svc = svc

	if _, err := svc.Load(ctx); err != nil {
		return nil, err
	}

	var defaultOracle common.Address
	if signer != nil {
		defaultOracle = signer.Address()
	}
	for _, pc := range a.cfg.Pools {
		params, fund, err := pc.Params()
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pc.MatchID, err)
		}
		if params.Oracle == (common.Address{}) {
			params.Oracle = defaultOracle
		}
		addr := pc.PoolAddress()
		if _, err := svc.Deploy(ctx, addr, params, fund); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				a.logger.DebugContext(ctx, "pool already restored", slog.String("pool", addr.Hex()))
				continue
			}
			return nil, err
		}
	}

	a.logger.InfoContext(ctx, "pool registry ready",
		slog.Int("pools", len(svc.Addresses())),
		slog.String("oracle_driver", a.cfg.Oracle.Driver),
	)
	return node, nil
}

func (a *App) loadOracleSigner() (*crypto.Signer, error) {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Oracle.PrivateKey,
		EncryptedKeyPath: a.cfg.Oracle.EncryptedKeyPath,
		KeyPassword:      a.cfg.Oracle.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load oracle key: %w", err)
	}
	return signer, nil
}

func (a *App) hmacAuth() *crypto.HMACAuth {
	if a.cfg.Oracle.HMACKey == "" {
		return nil
	}
	return &crypto.HMACAuth{Key: a.cfg.Oracle.HMACKey, Secret: a.cfg.Oracle.HMACSecret}
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, pools keeper.Upkeeper) {
	k := keeper.New(pools, deps.LockManager, keeper.Config{
		Interval: a.cfg.Keeper.Interval.Duration,
		LockTTL:  a.cfg.Keeper.LockTTL.Duration,
	}, a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startBackfill schedules settlement re-archiving when S3 is wired.
func (a *App) startBackfill(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.PoolService) {
	if deps.Archiver == nil || a.cfg.S3.BackfillCron == "" {
		return
	}
	b := pipeline.NewBackfill(svc, deps.Archiver, a.logger)
	g.Go(func() error {
		return b.RunCron(ctx, a.cfg.S3.BackfillCron)
	})
}

func (a *App) startOracleNode(ctx context.Context, g *errgroup.Group, deps *Dependencies, signer *crypto.Signer, fulfiller domain.Fulfiller) {
	n := oracle.NewNode(deps.SignalBus,
		oracle.NewResultFetcher(a.cfg.Oracle.HTTPTimeout.Duration),
		signer,
		fulfiller,
		oracle.NodeConfig{
			PollInterval: a.cfg.Oracle.PollInterval.Duration,
			BatchSize:    a.cfg.Oracle.BatchSize,
			MaxAttempts:  a.cfg.Oracle.MaxAttempts,
		},
		a.logger,
	)
	g.Go(func() error {
		return n.Run(ctx)
	})
}

// startHTTPServer adds the API server and the WebSocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, node *poolNode) {
	mode := strings.ToLower(a.cfg.Mode)
	status := func() domain.ServiceStatus {
		return node.svc.Status(mode, a.cfg.Keeper.Enabled)
	}

	hub := ws.NewHub(deps.SignalBus, status, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var mock handler.MockOracle
	if node.mock != nil {
		mock = node.mock
	}
	var poolOpts []handler.PoolHandlerOption
	if deps.NonceStore != nil {
		poolOpts = append(poolOpts, handler.WithNonceStore(deps.NonceStore))
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(status, a.logger),
		Pools:   handler.NewPoolHandler(node.svc, a.cfg.Server.RequireSignatures, a.logger, poolOpts...),
		Oracle:  handler.NewOracleHandler(node.svc, a.hmacAuth(), mock, a.logger),
		Wallets: handler.NewWalletHandler(deps.Ledger, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
