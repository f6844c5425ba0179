package service

import (
	"math"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
)

// Params of the confluence rule for one timeframe.
type Params struct {
	RSILength     int
	RSIOversold   float64
	RSIOverbought float64

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	ShortMA int
	LongMA  int
	TrendMA int

	ATRPeriod        int
	ATRSmooth        int
	ATRDivisor       float64
	VolumeMA         int
	VolumeMultiplier float64

	MFILength   int
	MFIBullish  float64 // mfi below
	MFIBearish  float64 // mfi above
	FibLookback int
}

func DefaultParams() Params {
	return Params{
		RSILength:        14,
		RSIOversold:      40,
		RSIOverbought:    60,
		MACDFast:         10,
		MACDSlow:         20,
		MACDSignal:       9,
		ShortMA:          9,
		LongMA:           50,
		TrendMA:          200,
		ATRPeriod:        10,
		ATRSmooth:        5,
		ATRDivisor:       1.5,
		VolumeMA:         20,
		VolumeMultiplier: 0.4,
		MFILength:        14,
		MFIBullish:       65,
		MFIBearish:       35,
		FibLookback:      50,
	}
}

// ParamsFor returns the tuned set for tf. Only 8h deviates from the defaults.
func ParamsFor(tf string) Params {
	p := DefaultParams()
	if helper.NormTF(tf) == "8h" {
		p.RSILength = 17
		p.MACDFast, p.MACDSlow, p.MACDSignal = 10, 21, 8
		p.ShortMA, p.LongMA = 11, 65
		p.MFILength = 16
		p.FibLookback = 80
		p.ATRPeriod = 8
		p.ATRDivisor = 1.35
		p.VolumeMultiplier = 0.2
	}
	return p
}

// Confluence votes LONG on a MACD cross up, or on oversold RSI backed by
// supertrend, EMA alignment, volume, MFI and the 200 EMA trend, and the mirror
// for SHORT; either only inside the fib band. Bars without a vote inherit the
// previous one, the first bar falls back to MACD above its signal line.
type Confluence struct {
	params func(tf string) Params
}

func NewConfluence() *Confluence {
	return &Confluence{params: ParamsFor}
}

func (c *Confluence) Name() string { return "confluence" }

func (c *Confluence) Direction(timeframe string, bars []models.Candle) (models.Direction, error) {
	if len(bars) == 0 {
		return "", ErrNotEnoughBars
	}
	sig := c.Signals(timeframe, bars)
	if sig[len(sig)-1] > 0 {
		return models.Long, nil
	}
	return models.Short, nil
}

// Signals returns +1/-1 per bar.
func (c *Confluence) Signals(timeframe string, bars []models.Candle) []int {
	p := c.params(timeframe)
	n := len(bars)

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	vol := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i], vol[i] = b.High, b.Low, b.Close, b.Volume
	}

	trend := ema(closes, p.TrendMA)
	r := rsi(closes, p.RSILength)

	fast, slow := ema(closes, p.MACDFast), ema(closes, p.MACDSlow)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = fast[i] - slow[i]
	}
	macdSignal := ema(macd, p.MACDSignal)

	stDir := supertrend(high, low, closes, p)
	shortMA, longMA := ema(closes, p.ShortMA), ema(closes, p.LongMA)
	volMA := sma(vol, p.VolumeMA)
	m := mfi(high, low, closes, vol, p.MFILength)
	hh, ll := rollingMax(high, p.FibLookback), rollingMin(low, p.FibLookback)

	out := make([]int, n)
	for i := 0; i < n; i++ {
		// NaN compares false everywhere below
		enoughVolume := vol[i] > volMA[i]*p.VolumeMultiplier
		inFib := closes[i] > hh[i]*0.618 && closes[i] < ll[i]*1.382

		buy := (crossOver(macd, macdSignal, i) ||
			(r[i] < p.RSIOversold &&
				stDir[i] == 1 &&
				shortMA[i] > longMA[i] &&
				enoughVolume &&
				m[i] < p.MFIBullish &&
				closes[i] > trend[i])) && inFib

		sell := (crossUnder(macd, macdSignal, i) ||
			(r[i] > p.RSIOverbought &&
				stDir[i] == -1 &&
				shortMA[i] < longMA[i] &&
				enoughVolume &&
				m[i] > p.MFIBearish &&
				closes[i] < trend[i])) && inFib

		switch {
		case sell:
			out[i] = -1
		case buy:
			out[i] = 1
		case i > 0:
			out[i] = out[i-1]
		case macd[i] > macdSignal[i]:
			out[i] = 1
		default:
			out[i] = -1
		}
	}
	return out
}

// supertrend returns +1/-1 per bar using bands of hl2 ± SMA(ATR)/divisor.
func supertrend(high, low, closes []float64, p Params) []int {
	n := len(closes)
	dir := make([]int, n)
	if n == 0 {
		return dir
	}
	mult := sma(atr(high, low, closes, p.ATRPeriod), p.ATRSmooth)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := range closes {
		hl2 := (high[i] + low[i]) / 2
		upper[i] = hl2 + mult[i]/p.ATRDivisor
		lower[i] = hl2 - mult[i]/p.ATRDivisor
	}

	dir[0] = 1
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > upper[i-1]:
			dir[i] = 1
		case closes[i] < lower[i-1]:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
		}
	}
	return dir
}

// mfi is the money flow index over n bars.
func mfi(high, low, closes, vol []float64, n int) []float64 {
	size := len(closes)
	pos := make([]float64, size)
	neg := make([]float64, size)
	var prev float64
	for i := range closes {
		tp := (high[i] + low[i] + closes[i]) / 3
		if i > 0 {
			switch {
			case tp > prev:
				pos[i] = tp * vol[i]
			case tp < prev:
				neg[i] = tp * vol[i]
			}
		}
		prev = tp
	}

	ps, ns := rollingSum(pos, n), rollingSum(neg, n)
	out := make([]float64, size)
	for i := range out {
		if math.IsNaN(ps[i]) || math.IsNaN(ns[i]) {
			out[i] = nan
			continue
		}
		out[i] = 100 - 100/(1+ps[i]/(ns[i]+1e-10))
	}
	return out
}
