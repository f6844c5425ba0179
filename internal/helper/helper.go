package helper

import (
	"strings"
	"time"
)

var tfDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// NormTF brings a timeframe to the exchange interval spelling ("60m" -> "1h", "1H" -> "1h").
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m":
		return "1h"
	case "120m":
		return "2h"
	case "240m":
		return "4h"
	default:
		return s
	}
}

// TimeframeDuration returns the bar length, 0 for unknown timeframes.
func TimeframeDuration(tf string) time.Duration {
	return tfDurations[NormTF(tf)]
}

func KnownTF(tf string) bool {
	_, ok := tfDurations[NormTF(tf)]
	return ok
}

func PositionKey(instrument string) string     { return "position_" + instrument }
func ActiveSignalKey(instrument string) string { return "active_signal_" + instrument }
func PreviousSignalKey(instrument string) string {
	return "previous_signal_" + instrument
}

// InstrumentFromKey strips prefix from key, ok is false when key does not carry it.
func InstrumentFromKey(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return key[len(prefix):], true
}
