package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/api"
	"github.com/cuemby/anchor/pkg/batch"
	"github.com/cuemby/anchor/pkg/cas"
	"github.com/cuemby/anchor/pkg/config"
	"github.com/cuemby/anchor/pkg/download"
	"github.com/cuemby/anchor/pkg/events"
	"github.com/cuemby/anchor/pkg/fee"
	"github.com/cuemby/anchor/pkg/health"
	"github.com/cuemby/anchor/pkg/ledger"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/observer"
	"github.com/cuemby/anchor/pkg/resolver"
	"github.com/cuemby/anchor/pkg/spending"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
	"github.com/cuemby/anchor/pkg/versions"
	v1 "github.com/cuemby/anchor/pkg/versions/v1"
)

// Node wires every component of the anchoring service together and owns
// their start/stop ordering
type Node struct {
	cfg   *config.Config
	store *store.BoltStore

	broker         *events.Broker
	healthMonitor  *health.Monitor
	observer       *observer.Observer
	batchScheduler *batch.Scheduler
	apiServer      *api.Server
	metricsServer  *http.Server

	logger zerolog.Logger
}

// processorProvider adapts the dispatcher lookup for the resolver. The
// dispatcher is constructed after the resolver, so the lookup is late-bound
// through a closure.
type processorProvider func(height uint64) (versions.OperationProcessor, error)

func (f processorProvider) OperationProcessorAt(height uint64) (versions.OperationProcessor, error) {
	return f(height)
}

// New builds a node from configuration
func New(cfg *config.Config, version string) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	boltStore, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerEndpoint, cfg.MaxLedgerRetries)
	casClient := cas.NewHTTPClient(cfg.CASEndpoint, cfg.MaxLedgerRetries)
	downloads := download.NewManager(casClient, cfg.MaxConcurrentCasDownloads)
	feeCalculator := fee.NewCalculator(boltStore, cfg.GenesisHeight, cfg.FeeLookBackBlocks,
		cfg.InitialNormalizedFee, cfg.FeeMaxFluctuationMultiplier)
	spendingMonitor := spending.NewMonitor(boltStore, cfg.SpendingCap, cfg.SpendingPeriodBlocks)
	broker := events.NewBroker()

	// The resolver needs the dispatcher for versioned operation processors
	// and the dispatcher's request handlers need the resolver; the cycle is
	// broken by handing the resolver a late-bound lookup.
	var dispatcher *versions.Dispatcher
	didResolver := resolver.New(boltStore, processorProvider(func(height uint64) (versions.OperationProcessor, error) {
		return dispatcher.OperationProcessorAt(height)
	}))

	dispatcher, err = versions.NewDispatcher(
		[]versions.VersionConfig{
			{StartingHeight: cfg.GenesisHeight, Factory: v1.New},
		},
		versions.Dependencies{
			Config: versions.ProtocolConfig{
				DidMethodName:               cfg.DidMethodName,
				MaxOperationsPerBatch:       cfg.MaxOperationsPerBatch,
				MaxTransactionsPerHeight:    cfg.MaxTransactionsPerHeight,
				MaxOperationsPerHeight:      cfg.MaxOperationsPerHeight,
				ValueTimeLockDurationBlocks: cfg.ValueTimeLockDurationBlocks,
			},
			Transactions:    boltStore,
			Operations:      boltStore,
			Blocks:          boltStore,
			Queue:           boltStore,
			Ledger:          ledgerClient,
			Cas:             casClient,
			Downloads:       downloads,
			FeeCalculator:   feeCalculator,
			SpendingMonitor: spendingMonitor,
			Resolver:        didResolver,
		})
	if err != nil {
		boltStore.Close()
		return nil, err
	}

	if err := initServiceState(boltStore, version); err != nil {
		boltStore.Close()
		return nil, err
	}

	obs := observer.NewObserver(ledgerClient, boltStore, boltStore, boltStore, boltStore, boltStore,
		dispatcher, broker, observer.Config{
			ObservingInterval:      time.Duration(cfg.ObservingIntervalSeconds) * time.Second,
			MaxConcurrentDownloads: cfg.MaxConcurrentCasDownloads,
		})

	batchScheduler := batch.NewScheduler(dispatcher, ledgerClient, broker,
		time.Duration(cfg.BatchingIntervalSeconds)*time.Second)

	healthRegistry := health.NewRegistry(version, boltStore)
	healthMonitor := health.NewMonitor(healthRegistry, []health.Checker{
		health.NewHTTPChecker("ledger", cfg.LedgerEndpoint+"/time", 5*time.Second),
		health.NewHTTPChecker("cas", cfg.CASEndpoint+"/", 5*time.Second),
	}, 30*time.Second)

	apiServer := api.NewServer(cfg.APIAddr, dispatcher, boltStore, healthRegistry, cfg.GenesisHeight, version)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/health", healthRegistry.Handler())

	return &Node{
		cfg:            cfg,
		store:          boltStore,
		broker:         broker,
		healthMonitor:  healthMonitor,
		observer:       obs,
		batchScheduler: batchScheduler,
		apiServer:      apiServer,
		metricsServer: &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		},
		logger: log.WithComponent("node"),
	}, nil
}

// initServiceState seeds the service state record on first start and stamps
// the running version
func initServiceState(states store.ServiceStateStore, version string) error {
	state, err := states.GetServiceState()
	if errors.Is(err, store.ErrNotFound) {
		state = &types.ServiceState{}
	} else if err != nil {
		return err
	}
	state.ServiceVersion = version
	return states.PutServiceState(*state)
}

// Start launches every component
func (n *Node) Start() {
	n.healthMonitor.Start()

	go func() {
		n.logger.Info().Str("addr", n.metricsServer.Addr).Msg("Metrics server listening")
		if err := n.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	n.observer.Start()
	n.batchScheduler.Start()
	n.apiServer.Start()
	n.logger.Info().Msg("Anchor node started")
}

// Stop shuts every component down in reverse order
func (n *Node) Stop(ctx context.Context) {
	if err := n.apiServer.Stop(ctx); err != nil {
		n.logger.Error().Err(err).Msg("API server shutdown failed")
	}
	n.batchScheduler.Stop()
	n.observer.Stop()
	if err := n.metricsServer.Shutdown(ctx); err != nil {
		n.logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	n.healthMonitor.Stop()
	n.broker.Close()
	if err := n.store.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Store close failed")
	}
	n.logger.Info().Msg("Anchor node stopped")
}
