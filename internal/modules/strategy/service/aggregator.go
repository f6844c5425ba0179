package service

import (
	"context"
	"sort"

	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type MarketData interface {
	GetCandles(ctx context.Context, instrument, timeframe string, count int) ([]models.Candle, error)
	GetTicker24h(ctx context.Context, instrument string) (models.Ticker, error)
}

// VoteStore keeps the last votes per instrument for diagnostics.
type VoteStore interface {
	PutVotes(ctx context.Context, instrument string, votes map[string]models.Direction) error
}

type AggregatorConfig struct {
	ConfirmTimeframe string
	ConfirmLookback  int
	HistoryBars      int
}

type Aggregator struct {
	cfg         AggregatorConfig
	instruments models.Instruments
	market      MarketData
	indicator   Indicator
	votes       VoteStore
	metrics     *metrics.Metrics
}

func NewAggregator(
	cfg AggregatorConfig,
	instruments models.Instruments,
	market MarketData,
	indicator Indicator,
	votes VoteStore,
	m *metrics.Metrics,
) *Aggregator {
	if cfg.ConfirmLookback <= 0 {
		cfg.ConfirmLookback = 2
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Aggregator{cfg: cfg, instruments: instruments, market: market, indicator: indicator, votes: votes, metrics: m}
}

// Unanimous returns the direction all signals agree on. Fewer than two
// signals or any disagreement yields false.
func Unanimous(signals []models.DirectionalSignal) (models.Direction, bool) {
	if len(signals) < 2 {
		return "", false
	}
	var long, short int
	for _, s := range signals {
		switch s.Direction {
		case models.Long:
			long++
		case models.Short:
			short++
		}
	}
	switch len(signals) {
	case long:
		return models.Long, true
	case short:
		return models.Short, true
	}
	return "", false
}

// Evaluate builds a candidate for instrument, or returns nil when the votes
// split, the candle does not confirm or the ticker is unusable. Any fetch
// failure fails the instrument for this cycle.
func (a *Aggregator) Evaluate(ctx context.Context, instrument string) (cand *models.CandidateSignal, err error) {
	span, ctx := tracing.StartSpan(ctx, "strategy.Evaluate", instrument)
	defer func() { tracing.Finish(span, err) }()

	ic, ok := a.instruments.Get(instrument)
	if !ok {
		return nil, errors.Errorf("evaluate %s: unknown instrument", instrument)
	}

	signals := make([]models.DirectionalSignal, len(ic.Timeframes))
	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range ic.Timeframes {
		g.Go(func() error {
			bars, err := a.market.GetCandles(gctx, instrument, tf, a.cfg.HistoryBars)
			if err != nil {
				return errors.Wrapf(err, "candles %s %s", instrument, tf)
			}
			dir, err := a.indicator.Direction(tf, bars)
			if err != nil {
				return errors.Wrapf(err, "%s %s %s", a.indicator.Name(), instrument, tf)
			}
			signals[i] = models.DirectionalSignal{Instrument: instrument, Timeframe: tf, Direction: dir}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTF := make(map[string]models.DirectionalSignal, len(signals))
	votes := make(map[string]models.Direction, len(signals))
	for _, s := range signals {
		byTF[s.Timeframe] = s
		votes[s.Timeframe] = s.Direction
	}
	if a.votes != nil {
		if err := a.votes.PutVotes(ctx, instrument, votes); err != nil {
			logger.Warn("evaluate %s: %v", instrument, err)
		}
	}

	dir, ok := Unanimous(signals)
	if !ok {
		logger.Debug("evaluate %s: votes split %v", instrument, votes)
		return nil, nil
	}

	confirm, err := a.market.GetCandles(ctx, instrument, a.cfg.ConfirmTimeframe, a.cfg.ConfirmLookback)
	if err != nil {
		return nil, errors.Wrapf(err, "confirmation candles %s", instrument)
	}
	if len(confirm) == 0 {
		return nil, errors.Errorf("confirmation candles %s: empty", instrument)
	}
	last := confirm[len(confirm)-1]
	if !last.Color().Confirms(dir) {
		logger.Debug("evaluate %s: %s not confirmed by %s candle", instrument, dir, last.Color())
		return nil, nil
	}

	tk, err := a.market.GetTicker24h(ctx, instrument)
	if err != nil {
		return nil, errors.Wrapf(err, "ticker %s", instrument)
	}
	if tk.LastPrice <= 0 || tk.QuoteVolume <= 0 {
		logger.Warn("evaluate %s: unusable ticker price=%v volume=%v", instrument, tk.LastPrice, tk.QuoteVolume)
		return nil, nil
	}

	target, stop := models.LevelPrices(dir, tk.LastPrice, ic.TPPercent, ic.SLPercent)
	a.metrics.Candidate(string(dir))
	return &models.CandidateSignal{
		Instrument:   instrument,
		Signals:      byTF,
		Direction:    dir,
		Confirmation: last.Color(),
		Entry:        tk.LastPrice,
		Target:       target,
		Stop:         stop,
		Leverage:     ic.Leverage,
		QuoteVolume:  tk.QuoteVolume,
	}, nil
}

// Rank orders candidates by 24h quote volume, highest first, instrument id on ties.
func Rank(cands []models.CandidateSignal) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].QuoteVolume != cands[j].QuoteVolume {
			return cands[i].QuoteVolume > cands[j].QuoteVolume
		}
		return cands[i].Instrument < cands[j].Instrument
	})
}
