package app

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/api"
	"marketplace-ledger/internal/broker"
	"marketplace-ledger/internal/cashback"
	"marketplace-ledger/internal/fulfillment"
	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/promo"
	"marketplace-ledger/internal/redisclient"
	"marketplace-ledger/internal/returns"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/store/memory"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

// App holds the wired services shared by the server and the CLI.
type App struct {
	Config    *config.Config
	Ledger    store.Ledger
	Inventory *inventory.Manager
	Wallet    *wallet.Manager
	Promos    *promo.Tracker
	Items     *fulfillment.Service
	Returns   *returns.Service
	Cashback  *cashback.Sweeper

	// Redis is nil when REDIS_ADDR is empty.
	Redis *redisclient.Client

	deps    []api.Pinger
	closers []func() error
}

// New connects the configured backends and wires the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := util.GetLogger()
	a := &App{Config: cfg}

	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var (
		mirror inventory.StockMirror
		locker cashback.Locker
	)
	if cfg.Redis.Addr != "" {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
		a.deps = append(a.deps, rc)
		mirror, locker = rc, rc
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var writer broker.EventWriter = broker.NewLogWriter()
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		a.closers = append(a.closers, producer.Close)
		writer = producer
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	events := broker.NewEventPublisher(writer)

	currency := cfg.Business.Currency
	a.Inventory = inventory.NewManager(a.Ledger, mirror)
	a.Wallet = wallet.NewManager(a.Ledger, events, currency)
	a.Promos = promo.NewTracker(a.Ledger)
	a.Items = fulfillment.NewService(a.Ledger, a.Inventory, a.Wallet, a.Promos, events, currency)
	a.Returns = returns.NewService(a.Ledger, a.Items, a.Wallet, events)
	a.Cashback = cashback.NewSweeper(a.Ledger, a.Wallet, locker, events)

	return a, nil
}

func (a *App) openLedger(ctx context.Context) error {
	logger := util.GetLogger()
	db := a.Config.Database

	switch db.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory ledger, writes are lost on exit")
		a.Ledger = memory.New()
		return nil
	case config.BackendPostgres:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", db.Backend)
	}

	if db.URL == "" {
		return errors.New("DATABASE_URL is required for the postgres ledger")
	}
	pg, err := store.NewStore(db.URL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pg.Close)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.Ledger = pg
	a.deps = append(a.deps, pg)
	logger.Info("Database connected")
	return nil
}

// Handler builds the HTTP handler over the wired services.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(a.Items, a.Returns, a.Wallet, a.Inventory, a.deps...)
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			util.GetLogger().Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
