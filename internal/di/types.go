// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/kagaztrade/kagaz/internal/clients/quotefeed"
	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/analytics"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
	"github.com/kagaztrade/kagaz/internal/modules/snapshots"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
	"github.com/kagaztrade/kagaz/internal/reliability"
)

// Container holds every wired dependency of the engine
type Container struct {
	// Database
	EngineDB *database.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Quote feed
	QuoteStream *quotefeed.StreamClient // nil when streaming is disabled
	QuoteSource *quotefeed.Source

	// Repositories
	AccountRepo  *accounts.AccountRepository
	PositionRepo *positions.PositionRepository
	OrderRepo    *orders.OrderRepository
	TradeRepo    *trading.TradeRepository
	SnapshotRepo *snapshots.SnapshotRepository

	// Services
	Accountant      *accounts.Accountant
	Ledger          *positions.Ledger
	OrderService    *orders.Service
	SnapshotService *snapshots.Service
	Analytics       *analytics.Service
	BackupService   *reliability.BackupService
}

// Close releases the container's resources
func (c *Container) Close() {
	if c.QuoteStream != nil {
		_ = c.QuoteStream.Stop()
	}
	if c.EngineDB != nil {
		c.EngineDB.Close()
	}
}
