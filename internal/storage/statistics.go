package storage

import "github.com/eddiefleurent/scranton_condor/internal/models"

// Statistics summarizes the closed-trade history.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	MaxSingleLoss float64 `json:"max_single_loss"`
	CurrentStreak int     `json:"current_streak"` // positive for wins, negative for losses
}

// update folds one realized P&L into the running statistics.
func (stats *Statistics) update(pnl float64) {
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)

	if pnl < stats.MaxSingleLoss {
		stats.MaxSingleLoss = pnl
	}
}

// ComputeStatistics replays trades in order.
func ComputeStatistics(trades []*models.Position) *Statistics {
	stats := &Statistics{}
	for _, t := range trades {
		stats.update(t.RealizedPnL)
	}
	return stats
}
