package models

import "time"

type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Start  time.Time
	End    time.Time
}

func (c Candle) Color() CandleColor {
	switch {
	case c.Close > c.Open:
		return Bullish
	case c.Close < c.Open:
		return Bearish
	default:
		return Neutral
	}
}

// Ticker is the 24h rolling window summary of an instrument.
type Ticker struct {
	Instrument  string
	LastPrice   float64
	QuoteVolume float64
}
