// Package trigger decides whether a position's take-profit or stop-loss level was crossed.
package trigger

import "signal_bot/internal/models"

// MinMoveRatio is the smallest overshoot, as a fraction of the level, that counts as a crossing.
const MinMoveRatio = 0.001

// Levels is what the detector needs to know about a position.
type Levels struct {
	Direction models.Direction
	Target    float64
	Stop      float64
}

func LevelsOf(p *models.Position) Levels {
	return Levels{Direction: p.Direction, Target: p.Target, Stop: p.Stop}
}

type Result struct {
	Outcome models.Outcome
	// Price is the triggering price, or the latest reference price on NO_TRIGGER.
	Price float64
}

func (r Result) Triggered() bool { return r.Outcome == models.TakeProfit || r.Outcome == models.StopLoss }

func crossedUp(price, level float64) bool {
	return price >= level && price-level >= level*MinMoveRatio
}

func crossedDown(price, level float64) bool {
	return price <= level && level-price >= level*MinMoveRatio
}

// check applies both levels to one bar range. Take-profit wins when both are crossed.
func check(l Levels, high, low float64) Result {
	switch l.Direction {
	case models.Long:
		if crossedUp(high, l.Target) {
			return Result{Outcome: models.TakeProfit, Price: high}
		}
		if crossedDown(low, l.Stop) {
			return Result{Outcome: models.StopLoss, Price: low}
		}
	case models.Short:
		if crossedDown(low, l.Target) {
			return Result{Outcome: models.TakeProfit, Price: low}
		}
		if crossedUp(high, l.Stop) {
			return Result{Outcome: models.StopLoss, Price: high}
		}
	}
	return Result{Outcome: models.NoTrigger}
}

// CheckPrice evaluates a single observed price.
func CheckPrice(l Levels, price float64) Result {
	if price <= 0 {
		return Result{Outcome: models.NoTrigger}
	}
	r := check(l, price, price)
	if !r.Triggered() {
		r.Price = price
	}
	return r
}

// CheckBars scans bars oldest-first and reports the first crossing.
// Without a crossing the last close is returned as the reference price.
func CheckBars(l Levels, bars []models.Candle) Result {
	for _, b := range bars {
		if r := check(l, b.High, b.Low); r.Triggered() {
			return r
		}
	}
	if len(bars) == 0 {
		return Result{Outcome: models.NoTrigger}
	}
	return Result{Outcome: models.NoTrigger, Price: bars[len(bars)-1].Close}
}
