package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/config"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/ledger"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/priceguard"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/relay"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/state"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/Genius-Foundation/genius-contracts-sub003/pkg/ethutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Custom formatter that outputs only the message
type cleanFormatter struct{}

func (f *cleanFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg)
	logger.Infof("🏦 Settlement ledger for %s (chain %d)", cfg.Network.Name, cfg.Network.ChainID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event sinks: NATS when configured, structured logs always
	sinks := events.Multi{events.LogSink{Log: logger}}
	var natsSink *events.NATSSink
	if cfg.NATSURL != "" {
		natsSink, err = events.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Fatalf("❌ %v", err)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
		logger.Infof("📡 Publishing events to %s", cfg.NATSURL)
	}

	opts := []ledger.Option{ledger.WithLogger(logger), ledger.WithSink(sinks)}

	var client *ethclient.Client
	if cfg.Network.RPCURL != "" && cfg.Network.Stablecoin.IsEVM() {
		client, err = ethclient.Dial(cfg.Network.RPCURL)
		if err != nil {
			logger.Warnf("⚠️  Failed to connect to %s at %s: %v", cfg.Network.Name, cfg.Network.RPCURL, err)
		} else {
			defer client.Close()
			logger.Infof("📡 Connected to %s", cfg.Network.Name)
			if err := checkStablecoinDecimals(ctx, client, cfg); err != nil {
				logger.Fatalf("❌ %v", err)
			}
		}
	}

	if cfg.PriceGuardEnabled() {
		if client == nil {
			logger.Fatalf("❌ %s has a price feed but no RPC connection", cfg.Network.Name)
		}
		guard, err := newPriceGuard(ctx, client, cfg)
		if err != nil {
			logger.Fatalf("❌ Failed to set up price guard: %v", err)
		}
		opts = append(opts, ledger.WithPriceGuard(guard))
	}

	l, err := ledger.New(ledger.Config{
		ChainID:               cfg.Network.ChainID,
		Token:                 cfg.Network.Stablecoin,
		Custody:               cfg.Custody,
		Decimals:              cfg.Network.StablecoinDecimals,
		Admin:                 cfg.Admin,
		RebalanceThresholdBps: cfg.RebalanceThresholdBps,
		RevertGracePeriod:     cfg.RevertGracePeriod,
	}, token.NewMemory(), opts...)
	if err != nil {
		logger.Fatalf("❌ Failed to create ledger: %v", err)
	}

	store, err := state.NewFile(cfg.StateFile, logger)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}
	if err := restore(ctx, l, store); err != nil {
		logger.Fatalf("❌ Failed to restore ledger: %v", err)
	}
	if err := registerChains(ctx, l, cfg, logger); err != nil {
		logger.Fatalf("❌ Failed to register chain decimals: %v", err)
	}

	if client != nil {
		logCustodyBalance(ctx, client, cfg, logger)
	}

	metrics := serveMetrics(cfg.MetricsAddr, logger)

	stopRelay := func() {}
	if cfg.RelayEnabled() {
		stopRelay, err = startRelay(ctx, l, cfg, natsSink, logger)
		if err != nil {
			logger.Fatalf("❌ Failed to start relay: %v", err)
		}
	}

	go runEvery(ctx, cfg.SnapshotInterval, func() { save(ctx, l, store, logger) })
	if cfg.PriceGuardEnabled() {
		go runEvery(ctx, cfg.PriceCheckInterval, func() {
			if err := l.VerifyPrice(ctx); err != nil {
				logger.Warnf("⚠️  Price check failed: %v", err)
			}
		})
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("🔄 Received shutdown signal, shutting down...")

	stopRelay()
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Metrics server shutdown: %v", err)
	}
	save(context.Background(), l, store, logger)
	logger.Info("✅ Ledger shutdown complete")
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %s, using info: %v", cfg.LogLevel, err)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&cleanFormatter{})
	}

	return logger
}

func newPriceGuard(ctx context.Context, client *ethclient.Client, cfg *config.Config) (*priceguard.Guard, error) {
	feedAddr, err := cfg.Network.PriceFeed.EVM()
	if err != nil {
		return nil, err
	}
	feed, err := ethutil.NewChainlinkFeed(ctx, client, feedAddr)
	if err != nil {
		return nil, err
	}
	return priceguard.New(feed, cfg.PriceHeartbeat, cfg.PriceLower, cfg.PriceUpper)
}

func restore(ctx context.Context, l *ledger.Ledger, store *state.File) error {
	data, exists, err := store.Load()
	if err != nil || !exists {
		return err
	}
	return l.Restore(ctx, data)
}

func save(ctx context.Context, l *ledger.Ledger, store *state.File, logger logrus.FieldLogger) {
	data, err := l.Snapshot(ctx)
	if err != nil {
		logger.Errorf("❌ Failed to snapshot ledger: %v", err)
		return
	}
	if err := store.Save(data); err != nil {
		logger.Errorf("❌ Failed to save snapshot: %v", err)
	}
}

// registerChains makes every configured network a valid counterparty.
func registerChains(ctx context.Context, l *ledger.Ledger, cfg *config.Config, logger logrus.FieldLogger) error {
	for chainID, decimals := range config.ChainDecimals() {
		if chainID == cfg.Network.ChainID {
			continue
		}
		if current, ok := l.ChainDecimals(ctx, chainID); ok && current == decimals {
			continue
		}
		if err := l.RegisterChainDecimals(ctx, cfg.Admin, chainID, decimals); err != nil {
			return err
		}
		logger.Debugf("Registered chain %d with %d decimals", chainID, decimals)
	}
	return nil
}

// checkStablecoinDecimals refuses to run a ledger whose configured decimals
// disagree with the deployed token.
func checkStablecoinDecimals(ctx context.Context, client *ethclient.Client, cfg *config.Config) error {
	tokenAddr, err := cfg.Network.Stablecoin.EVM()
	if err != nil {
		return err
	}
	return ethutil.CheckERC20Decimals(ctx, client, tokenAddr, cfg.Network.StablecoinDecimals)
}

func logCustodyBalance(ctx context.Context, client *ethclient.Client, cfg *config.Config, logger logrus.FieldLogger) {
	tokenAddr, err := cfg.Network.Stablecoin.EVM()
	if err != nil {
		return
	}
	custody, err := cfg.Custody.EVM()
	if err != nil {
		logger.Debugf("Custody %s is not an EVM account", cfg.Custody)
		return
	}
	bal, err := ethutil.ERC20Balance(ctx, client, tokenAddr, custody)
	if err != nil {
		logger.Warnf("⚠️  Could not read on-chain custody balance: %v", err)
		return
	}
	amount, overflow := uint256.FromBig(bal)
	if overflow {
		logger.Warnf("⚠️  On-chain custody balance %s overflows 256 bits", bal)
		return
	}
	logger.Infof("💰 On-chain custody balance: %s", types.FormatUnits(amount, cfg.Network.StablecoinDecimals))
}

func serveMetrics(addr string, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("❌ Metrics server: %v", err)
		}
	}()
	logger.Infof("📊 Metrics on %s/metrics", addr)
	return srv
}

func startRelay(ctx context.Context, l *ledger.Ledger, cfg *config.Config, natsSink *events.NATSSink, logger logrus.FieldLogger) (func(), error) {
	if natsSink == nil {
		return nil, errors.New("relay needs SETTLEMENT_NATS_URL")
	}
	if !l.HasRole(ctx, auth.RoleOrchestrator, cfg.RelayOrchestrator) {
		if err := l.GrantRole(ctx, cfg.Admin, auth.RoleOrchestrator, cfg.RelayOrchestrator); err != nil {
			return nil, err
		}
	}

	rules := []relay.Rule{
		relay.DeadlineMargin(time.Now, cfg.RelayDeadlineMargin),
		relay.EnoughLiquidityOnDestination(),
	}
	if cfg.RelayMaxAmount != nil {
		rules = append(rules, relay.MaxAmountIn(cfg.RelayMaxAmount))
	}

	r := relay.New(cfg.RelayOrchestrator, relay.WithLogger(logger), relay.WithRules(rules...))
	r.Register(l)
	if err := r.SubscribeNATS(natsSink.Conn(), cfg.NATSSubjectPrefix); err != nil {
		return nil, err
	}
	logger.Infof("🔁 Relay running as %s", cfg.RelayOrchestrator)
	return r.Start(ctx), nil
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
