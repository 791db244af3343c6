package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/chain"
	"github.com/fystack/eth-disburser/internal/disburser"
	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/oracle"
	"github.com/fystack/eth-disburser/internal/poller"
	"github.com/fystack/eth-disburser/internal/rpc"
	"github.com/fystack/eth-disburser/internal/rpc/evm"
	"github.com/fystack/eth-disburser/internal/signer"
	"github.com/fystack/eth-disburser/internal/txcache"
	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/enum"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/kvstore"
	"github.com/fystack/eth-disburser/pkg/ratelimiter"
	"github.com/fystack/eth-disburser/pkg/repository"
	"github.com/fystack/eth-disburser/pkg/store/runlock"
)

// app holds every wired collaborator of one process.
type app struct {
	cfg     *config.Config
	network domain.Network
	chain   *chain.Ethereum
	oracle  oracle.GasOracle
	cache   *txcache.Cache
	service *disburser.Service

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, network: cfg.Network.Network()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	nodeClient := func(url string) *evm.Client {
		return evm.NewEthereumClient(
			url,
			rpc.NodeToAuthConfig(cfg.Node),
			cfg.Node.Timeout,
			ratelimiter.NewPooledRateLimiterFromRPS(cfg.Node.Throttle.RPS, cfg.Node.Throttle.Burst),
		)
	}
	fallbacks := make([]chain.Endpoint, 0, len(cfg.Node.FallbackURLs))
	for _, url := range cfg.Node.FallbackURLs {
		fallbacks = append(fallbacks, chain.Endpoint{Name: url, Client: nodeClient(url)})
	}
	a.chain = chain.NewEthereum(nodeClient(cfg.Node.URL), cfg.Node.Retry.Attempts, cfg.Node.Retry.Interval, fallbacks...)

	gasOracle, err := oracle.New(cfg.GasOracle, a.chain)
	if err != nil {
		return nil, fmt.Errorf("gas oracle: %w", err)
	}
	a.oracle = gasOracle

	store, err := kvstore.NewFromConfig(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	a.onClose(func() { _ = store.Close() })
	codec, err := infra.CodecByName(cfg.Cache.Codec)
	if err != nil {
		return nil, err
	}
	receipts := poller.New(a.chain)
	a.cache = txcache.New(store, codec, receipts)

	opts, err := a.optionalCollaborators(ctx)
	if err != nil {
		return nil, err
	}
	a.service = disburser.NewService(
		a.network,
		a.chain,
		signer.NewEIP155Signer(a.network.ChainID),
		a.oracle,
		a.cache,
		receipts,
		opts...,
	)

	logger.Info("Disburser initialised",
		"network", a.network.Name,
		"chain_id", a.network.ChainID,
		"cache", store.GetName(),
		"gas_oracle", cfg.GasOracle.Type,
		"lock", cfg.Lock.Backend,
	)
	ok = true
	return a, nil
}

func (a *app) optionalCollaborators(ctx context.Context) ([]disburser.Option, error) {
	var opts []disburser.Option

	if a.cfg.Lock.Backend == enum.LockBackendRedis {
		client, err := infra.NewRedisClient(ctx, a.cfg.Lock.Redis.URL, a.cfg.Lock.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		opts = append(opts, disburser.WithLocker(runlock.NewRedis(client, a.cfg.Lock.TTL)))
	}

	if a.cfg.Nats.URL != "" {
		nc, err := infra.GetNATSConnection(a.cfg.Nats, a.cfg.Environment)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(nc.Close)
		queue, err := infra.NewJetStreamQueue(ctx, nc, a.cfg.Nats.Stream, []string{a.cfg.Nats.SubjectPrefix + ".>"})
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		emitter := events.NewEmitter(queue, a.cfg.Nats.SubjectPrefix)
		a.onClose(emitter.Close)
		opts = append(opts, disburser.WithEmitter(emitter))
	}

	if a.cfg.Database.URL != "" {
		db, err := infra.NewDBConnection(a.cfg.Database.URL, a.cfg.Environment)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.onClose(func() { _ = sqlDB.Close() })
		}
		history, err := repository.NewDisbursementHistory(db, a.network, a.cfg.Database.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("disbursement history: %w", err)
		}
		opts = append(opts, disburser.WithHistory(history))
	}
	return opts, nil
}

// checkChainID refuses to sign for a node that serves another chain.
func (a *app) checkChainID(ctx context.Context) error {
	id, err := a.chain.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if id != a.network.ChainID {
		return fmt.Errorf("node serves chain %d, config expects %d (%s)", id, a.network.ChainID, a.network.Name)
	}
	return nil
}

// runOnce performs a batch and then evicts old confirmed cache entries when a retention is set.
func (a *app) runOnce(ctx context.Context, tasks []*domain.TaskWallet, policy disburser.Policy) (*disburser.Report, error) {
	report, err := a.service.Run(ctx, tasks, policy)
	if err != nil {
		return report, err
	}
	if a.cfg.Cache.Retention > 0 {
		removed, perr := a.cache.Prune(time.Now(), a.cfg.Cache.Retention)
		if perr != nil {
			logger.Warn("Cache prune failed", "err", perr)
		} else if removed > 0 {
			logger.Info("Pruned confirmed cache entries", "removed", removed, "retention", a.cfg.Cache.Retention)
		}
	}
	return report, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
