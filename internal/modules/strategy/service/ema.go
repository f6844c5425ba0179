package service

import "math"

type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

// newWilder is the 1/period smoothing used by RSI.
func newWilder(period int) emaState {
	e := newEMA(period)
	e.alpha = 1 / float64(e.period)
	return e
}

// Update seeds on the first value and skips NaN.
func (e *emaState) Update(price float64) {
	if math.IsNaN(price) {
		return
	}
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool    { return e.warmup >= e.period }
func (e *emaState) Value() float64 { return e.value }

// series runs e over xs; entries before warm-up are NaN.
func (e emaState) series(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		e.Update(x)
		if e.Ready() {
			out[i] = e.Value()
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func ema(xs []float64, period int) []float64 { return newEMA(period).series(xs) }
