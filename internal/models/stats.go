package models

const StatsKey = "bot_stats"

const (
	StatTotalSignals      = "total_signals"
	StatSuccessfulSignals = "successful_signals"
	StatFailedSignals     = "failed_signals"
	StatTotalProfitLoss   = "total_profit_loss"
)

type Stats struct {
	TotalSignals      int64   `json:"total_signals"`
	SuccessfulSignals int64   `json:"successful_signals"`
	FailedSignals     int64   `json:"failed_signals"`
	TotalProfitLoss   float64 `json:"total_profit_loss"`
	ActivePositions   int     `json:"active_positions"`
}

func StatsFromCounters(c map[string]float64) Stats {
	return Stats{
		TotalSignals:      int64(c[StatTotalSignals]),
		SuccessfulSignals: int64(c[StatSuccessfulSignals]),
		FailedSignals:     int64(c[StatFailedSignals]),
		TotalProfitLoss:   c[StatTotalProfitLoss],
	}
}
