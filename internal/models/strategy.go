package models

// Direction is the side of a signal or position. There is no neutral value.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Valid() bool { return d == Long || d == Short }

// DirectionalSignal is the vote of one timeframe for one instrument.
type DirectionalSignal struct {
	Instrument string    `json:"instrument"`
	Timeframe  string    `json:"timeframe"`
	Direction  Direction `json:"direction"`
}

type CandleColor string

const (
	Bullish CandleColor = "BULLISH"
	Bearish CandleColor = "BEARISH"
	Neutral CandleColor = "NEUTRAL"
)

// Confirms reports whether a candle of this color confirms d.
func (c CandleColor) Confirms(d Direction) bool {
	switch d {
	case Long:
		return c == Bullish
	case Short:
		return c == Bearish
	}
	return false
}

// CandidateSignal is a confirmed, not yet persisted, proposal to open a position.
type CandidateSignal struct {
	Instrument   string
	Signals      map[string]DirectionalSignal // timeframe -> vote
	Direction    Direction
	Confirmation CandleColor

	Entry       float64
	Target      float64
	Stop        float64
	Leverage    int
	QuoteVolume float64 // 24h quote volume, used for burst ranking
}

// Votes flattens Signals into timeframe -> direction.
func (c CandidateSignal) Votes() map[string]Direction {
	out := make(map[string]Direction, len(c.Signals))
	for tf, s := range c.Signals {
		out[tf] = s.Direction
	}
	return out
}

// LevelPrices returns target and stop for entry with the given percents.
func LevelPrices(dir Direction, entry, tpPercent, slPercent float64) (target, stop float64) {
	if dir == Long {
		return entry * (1 + tpPercent/100), entry * (1 - slPercent/100)
	}
	return entry * (1 - tpPercent/100), entry * (1 + slPercent/100)
}
