package di

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/kagaztrade/kagaz/internal/clients/quotefeed"
	"github.com/kagaztrade/kagaz/internal/config"
	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/analytics"
	"github.com/kagaztrade/kagaz/internal/modules/execution"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
	"github.com/kagaztrade/kagaz/internal/modules/snapshots"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
	"github.com/kagaztrade/kagaz/internal/reliability"
)

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations: database, events, quote feed,
// repositories, services.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate engine database: %w", err)
	}
	c.EngineDB = db

	c.EventBus = events.NewBus(log)
	c.EventManager = events.NewManager(c.EventBus, log)

	// Quote source: stream cache first when configured, HTTP fallback.
	httpClient := quotefeed.NewClient(cfg.QuoteFeedURL, log)
	var stream domain.QuoteSource
	if cfg.QuoteFeedStreamURL != "" {
		sc := quotefeed.NewStreamClient(cfg.QuoteFeedStreamURL, log)
		if err := sc.Start(); err != nil {
			// The reconnect loop keeps trying; quotes fall back to HTTP
			// until the stream comes up.
			log.Warn().Err(err).Msg("quote stream not connected at startup")
		}
		c.QuoteStream = sc
		stream = sc
	}
	c.QuoteSource = quotefeed.NewSource(stream, httpClient, log)

	c.AccountRepo = accounts.NewAccountRepository(db.Conn(), log)
	c.PositionRepo = positions.NewPositionRepository(db.Conn(), log)
	c.OrderRepo = orders.NewOrderRepository(db.Conn(), log)
	c.TradeRepo = trading.NewTradeRepository(db.Conn(), log)
	c.SnapshotRepo = snapshots.NewSnapshotRepository(db.Conn(), log)

	c.Accountant = accounts.NewAccountant(c.AccountRepo, log)
	c.Ledger = positions.NewLedger(c.PositionRepo, log)

	sim := execution.NewSimulator(rand.New(rand.NewSource(time.Now().UnixNano())))

	c.OrderService = orders.NewService(
		db,
		c.OrderRepo,
		c.AccountRepo,
		c.Accountant,
		c.PositionRepo,
		c.Ledger,
		c.TradeRepo,
		sim,
		c.QuoteSource,
		c.EventManager,
		log,
	)

	c.SnapshotService = snapshots.NewService(c.SnapshotRepo, c.AccountRepo, c.PositionRepo, c.QuoteSource, log)
	c.Analytics = analytics.NewService(c.TradeRepo, c.SnapshotRepo, log)

	var store *reliability.S3Client
	if cfg.BackupBucket != "" {
		store, err = reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:        cfg.BackupEndpoint,
			Region:          cfg.BackupRegion,
			AccessKeyID:     cfg.BackupAccessKey,
			SecretAccessKey: cfg.BackupSecretKey,
			Bucket:          cfg.BackupBucket,
		}, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create backup store client: %w", err)
		}
	}
	c.BackupService = reliability.NewBackupService(db, store, cfg.DataDir, cfg.BackupRetentionDays, log)

	return c, nil
}
