// Package metrics holds the prometheus collectors of the engine:
//   - bot_candidates_total{direction}   confirmed candidates per direction
//   - bot_positions_opened_total        positions persisted by Open
//   - bot_closes_total{outcome,source}  closes won, by outcome and evaluator
//   - bot_close_races_total             Close calls that found the claim taken
//   - bot_purges_total                  invalid positions removed
//   - bot_market_errors_total{op}       provider failures after retries
//   - bot_tick_seconds{evaluator}       evaluator tick duration
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	candidates  *prometheus.CounterVec
	opened      prometheus.Counter
	closes      *prometheus.CounterVec
	races       prometheus.Counter
	purges      prometheus.Counter
	marketErrs  *prometheus.CounterVec
	tickSeconds *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_candidates_total",
			Help: "Confirmed candidate signals",
		}, []string{"direction"}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_positions_opened_total",
			Help: "Positions opened",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_closes_total",
			Help: "Positions closed, by outcome and evaluator",
		}, []string{"outcome", "source"}),
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_close_races_total",
			Help: "Close attempts that lost the claim",
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_purges_total",
			Help: "Invalid positions purged",
		}),
		marketErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_market_errors_total",
			Help: "Market data failures after retries",
		}, []string{"op"}),
		tickSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_tick_seconds",
			Help:    "Evaluator tick duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"evaluator"}),
	}
	if reg != nil {
		reg.MustRegister(m.candidates, m.opened, m.closes, m.races, m.purges, m.marketErrs, m.tickSeconds)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics { return New(nil) }

func (m *Metrics) Candidate(direction string)    { m.candidates.WithLabelValues(direction).Inc() }
func (m *Metrics) Opened()                       { m.opened.Inc() }
func (m *Metrics) Closed(outcome, source string) { m.closes.WithLabelValues(outcome, source).Inc() }
func (m *Metrics) CloseRace()                    { m.races.Inc() }
func (m *Metrics) Purged(n int)                  { m.purges.Add(float64(n)) }
func (m *Metrics) MarketError(op string)         { m.marketErrs.WithLabelValues(op).Inc() }
func (m *Metrics) ObserveTick(evaluator string, d time.Duration) {
	m.tickSeconds.WithLabelValues(evaluator).Observe(d.Seconds())
}
