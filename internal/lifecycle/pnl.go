package lifecycle

import (
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PnL books the outcome at its level price, not at the observed exit. Percent
// is the unleveraged move rounded to 2dp; usd applies notional and leverage.
func PnL(p *models.Position, outcome models.Outcome, notional float64) (percent, usd float64) {
	entry := decimal.NewFromFloat(p.Entry)
	if entry.IsZero() {
		return 0, 0
	}
	exit := decimal.NewFromFloat(p.LevelFor(outcome))

	move := exit.Sub(entry)
	if p.Direction == models.Short {
		move = entry.Sub(exit)
	}
	pct := move.Div(entry).Mul(hundred).Round(2)
	amount := decimal.NewFromFloat(notional).
		Mul(decimal.NewFromInt(int64(p.Leverage))).
		Mul(pct).
		Div(hundred).
		Round(2)

	return pct.InexactFloat64(), amount.InexactFloat64()
}
