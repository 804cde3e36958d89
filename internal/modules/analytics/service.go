// Package analytics derives per-account performance figures from the trade
// audit trail and the NAV snapshot series.
package analytics

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/modules/snapshots"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
	"github.com/kagaztrade/kagaz/pkg/formulas"
)

// equityIndicatorPeriod is the EMA/SMA period over the daily NAV curve.
const equityIndicatorPeriod = 20

// TradeStats summarizes an account's realized trades
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"` // gross profit / gross loss, 0 when no losses
	AvgNetPnl    float64 `json:"avg_net_pnl"`
	StdDevNetPnl float64 `json:"stddev_net_pnl"`
	TotalNetPnl  string  `json:"total_net_pnl"`
}

// EquityIndicators summarizes the NAV curve
type EquityIndicators struct {
	LatestNAV            string   `json:"latest_nav,omitempty"`
	EMA                  *float64 `json:"ema,omitempty"`
	SMA                  *float64 `json:"sma,omitempty"`
	MaxDrawdown          *float64 `json:"max_drawdown,omitempty"`
	CurrentDrawdown      float64  `json:"current_drawdown"`
	AnnualizedVolatility float64  `json:"annualized_volatility"`
	Days                 int      `json:"days"`
}

// Report is the combined analytics payload for one account
type Report struct {
	AccountID string           `json:"account_id"`
	Trades    TradeStats       `json:"trades"`
	Equity    EquityIndicators `json:"equity"`
}

// Service computes analytics reports
type Service struct {
	trades    *trading.TradeRepository
	snapshots *snapshots.SnapshotRepository
	log       zerolog.Logger
}

// NewService creates an analytics service
func NewService(trades *trading.TradeRepository, snapshotRepo *snapshots.SnapshotRepository, log zerolog.Logger) *Service {
	return &Service{
		trades:    trades,
		snapshots: snapshotRepo,
		log:       log.With().Str("service", "analytics").Logger(),
	}
}

// Report builds the analytics report for an account
func (s *Service) Report(accountID string) (*Report, error) {
	trades, err := s.trades.ListByAccount(accountID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for analytics: %w", err)
	}

	series, err := s.snapshots.Series(accountID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load nav series for analytics: %w", err)
	}

	return &Report{
		AccountID: accountID,
		Trades:    computeTradeStats(trades),
		Equity:    computeEquityIndicators(series),
	}, nil
}

func computeTradeStats(trades []domain.Trade) TradeStats {
	stats := TradeStats{TotalNetPnl: "0"}
	if len(trades) == 0 {
		return stats
	}

	nets := make([]float64, len(trades))
	total := decimal.Zero
	grossProfit := 0.0
	grossLoss := 0.0

	for i := range trades {
		net := trades[i].NetPnl
		total = total.Add(net)
		netF, _ := net.Float64()
		nets[i] = netF

		if net.IsPositive() {
			stats.Wins++
			grossProfit += netF
		} else if net.IsNegative() {
			stats.Losses++
			grossLoss += -netF
		}
	}

	stats.TotalTrades = len(trades)
	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}
	stats.AvgNetPnl = formulas.Mean(nets)
	stats.StdDevNetPnl = formulas.StdDev(nets)
	stats.TotalNetPnl = total.String()

	return stats
}

func computeEquityIndicators(series []snapshots.NavSnapshot) EquityIndicators {
	ind := EquityIndicators{Days: len(series)}
	if len(series) == 0 {
		return ind
	}

	navs := make([]float64, len(series))
	for i := range series {
		navs[i], _ = series[i].NAV.Float64()
	}

	ind.LatestNAV = series[len(series)-1].NAV.String()
	ind.EMA = formulas.EMA(navs, equityIndicatorPeriod)
	ind.SMA = formulas.SMA(navs, equityIndicatorPeriod)
	ind.MaxDrawdown = formulas.MaxDrawdown(navs)
	ind.CurrentDrawdown = formulas.CurrentDrawdown(navs)
	ind.AnnualizedVolatility = formulas.AnnualizedVolatility(formulas.Returns(navs))

	return ind
}
