package runner

import (
	"context"
	"sync"
	"time"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/lifecycle"
	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	health "signal_bot/internal/modules/health/service"
	strategy "signal_bot/internal/modules/strategy/service"
	"signal_bot/internal/positions"
	"signal_bot/internal/trigger"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	slowEvaluator = "slow"
	fastEvaluator = "fast"

	triggerTimeframe = "1m"
	fastFallbackBars = 100
)

type Market interface {
	GetCandles(ctx context.Context, instrument, timeframe string, count int) ([]models.Candle, error)
	GetLastPrice(ctx context.Context, instrument string) (float64, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, instrument string) (*models.CandidateSignal, error)
}

type Config struct {
	SlowInterval        time.Duration
	FastInterval        time.Duration
	SlowTickTimeout     time.Duration
	FastTickTimeout     time.Duration
	BackstopBars        int
	ClosingStaleAfter   time.Duration
	MaxSignalsPerRun    int
	BurstThreshold      int
	SignalBurstCooldown time.Duration
	Concurrency         int
}

// Monitor runs the two evaluators. The slow one scans for new signals and
// backstops open positions with 1m bars; the fast one watches last prices.
// Every tick re-reads positions from the store.
type Monitor struct {
	cfg         Config
	instruments models.Instruments
	market      Market
	evaluator   Evaluator
	ctrl        *lifecycle.Controller
	positions   *positions.Store
	cooldowns   *cooldown.Manager
	state       *health.State
	metrics     *metrics.Metrics
	now         func() time.Time

	wg sync.WaitGroup
}

func NewMonitor(
	cfg Config,
	instruments models.Instruments,
	market Market,
	evaluator Evaluator,
	ctrl *lifecycle.Controller,
	ps *positions.Store,
	cd *cooldown.Manager,
	state *health.State,
	m *metrics.Metrics,
) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BackstopBars <= 0 {
		cfg.BackstopBars = 100
	}
	if cfg.BurstThreshold < cfg.MaxSignalsPerRun {
		cfg.BurstThreshold = cfg.MaxSignalsPerRun
	}
	if m == nil {
		m = metrics.Nop()
	}
	if state == nil {
		state = health.NewState()
	}
	return &Monitor{
		cfg:         cfg,
		instruments: instruments,
		market:      market,
		evaluator:   evaluator,
		ctrl:        ctrl,
		positions:   ps,
		cooldowns:   cd,
		state:       state,
		metrics:     m,
		now:         time.Now,
	}
}

func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Start launches both evaluators. The slow one ticks immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.loop(ctx, slowEvaluator, m.cfg.SlowInterval, m.cfg.SlowTickTimeout, true, m.SlowTick)
	go m.loop(ctx, fastEvaluator, m.cfg.FastInterval, m.cfg.FastTickTimeout, false, m.FastTick)
}

// Wait blocks until both loops have returned.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) loop(ctx context.Context, name string, every, timeout time.Duration, immediate bool, tick func(context.Context)) {
	defer m.wg.Done()
	logger.Info("runner: %s evaluator every %s", name, every)

	run := func() {
		tctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			tctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		started := time.Now()
		tick(tctx)
		m.metrics.ObserveTick(name, time.Since(started))
		m.state.TouchTick(name, m.now())
		if name == slowEvaluator {
			m.state.SetReady(true)
		}
	}

	if immediate {
		run()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("runner: %s evaluator stopped", name)
			return
		case <-ticker.C:
			run()
		}
	}
}

// SlowTick backstops stored positions, sweeps expired cooldowns and scans
// instruments for new signals.
func (m *Monitor) SlowTick(ctx context.Context) {
	span, ctx := tracing.StartSpan(ctx, "runner.SlowTick", "")
	defer tracing.Finish(span, nil)
	ctx = lifecycle.WithSource(ctx, slowEvaluator)

	live := m.backstop(ctx)

	if expired, err := m.cooldowns.SweepExpired(ctx); err != nil {
		logger.Error("runner: sweep cooldowns: %v", err)
	} else if len(expired) > 0 {
		logger.Debug("runner: %d cooldowns expired", len(expired))
	}

	if ctx.Err() != nil {
		return
	}
	m.scan(ctx, live)
}

// backstop purges invalid positions, re-drives stale closes and checks ACTIVE
// positions against recent 1m bars. It returns the instruments that still
// hold a position.
func (m *Monitor) backstop(ctx context.Context) map[string]bool {
	if _, err := m.ctrl.PurgeInvalid(ctx); err != nil {
		logger.Error("runner: purge: %v", err)
	}

	live := make(map[string]bool)
	valid, invalid, err := m.positions.List(ctx)
	if err != nil {
		logger.Error("runner: list positions: %v", err)
		// unknown state, keep every instrument out of the scan
		for _, id := range m.instruments.IDs() {
			live[id] = true
		}
		return live
	}
	for _, id := range invalid {
		live[id] = true
	}

	g := m.group()
	for _, rec := range valid {
		p := rec.Position
		live[p.Instrument] = true

		switch p.Status {
		case models.StatusClosing:
			if m.now().Sub(p.ClosingAt) < m.cfg.ClosingStaleAfter {
				continue
			}
			g.Go(func() error {
				m.redriveClose(ctx, &p)
				return nil
			})
		case models.StatusActive:
			g.Go(func() error {
				if err := m.checkBars(ctx, &p, m.cfg.BackstopBars); err != nil {
					logger.Warn("runner: backstop %s: %v", p.Instrument, err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return live
}

func (m *Monitor) redriveClose(ctx context.Context, p *models.Position) {
	logger.Warn("runner: %s stuck in CLOSING since %s, finishing", p.Instrument, p.ClosingAt.Format(time.RFC3339))
	res, err := m.ctrl.Close(ctx, p.Instrument, p.ClosingOutcome, p.ClosingPrice)
	if err != nil {
		logger.Error("runner: re-drive close %s: %v", p.Instrument, err)
		return
	}
	logger.Info("runner: re-drive close %s: %s", p.Instrument, res.Status)
}

// FastTick checks every ACTIVE position against its last price, falling back
// to 1m bars when no price is available.
func (m *Monitor) FastTick(ctx context.Context) {
	span, ctx := tracing.StartSpan(ctx, "runner.FastTick", "")
	defer tracing.Finish(span, nil)
	ctx = lifecycle.WithSource(ctx, fastEvaluator)

	valid, _, err := m.positions.List(ctx)
	if err != nil {
		logger.Error("runner: list positions: %v", err)
		return
	}

	g := m.group()
	for _, rec := range valid {
		p := rec.Position
		if p.Status != models.StatusActive {
			continue
		}
		g.Go(func() error {
			m.watch(ctx, &p)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) watch(ctx context.Context, p *models.Position) {
	price, err := m.market.GetLastPrice(ctx, p.Instrument)
	if err == nil && price > 0 {
		res := trigger.CheckPrice(trigger.LevelsOf(p), price)
		if err := m.apply(ctx, p, res, price, price); err != nil {
			logger.Warn("runner: fast %s: %v", p.Instrument, err)
		}
		return
	}
	if err != nil {
		m.metrics.MarketError("price")
		logger.Warn("runner: price %s: %v, falling back to bars", p.Instrument, err)
	}

	if err := m.checkBars(ctx, p, fastFallbackBars); err != nil {
		logger.Warn("runner: fast %s skipped: %v", p.Instrument, err)
	}
}

// checkBars runs the bar trigger on the 1m bars closed after the position opened.
func (m *Monitor) checkBars(ctx context.Context, p *models.Position, count int) error {
	bars, err := m.market.GetCandles(ctx, p.Instrument, triggerTimeframe, count)
	if err != nil {
		m.metrics.MarketError("candles")
		return errors.Wrap(err, "1m bars")
	}
	bars = sinceOpen(bars, p.OpenedAt)
	if len(bars) == 0 {
		return nil
	}

	high, low := bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return m.apply(ctx, p, trigger.CheckBars(trigger.LevelsOf(p), bars), high, low)
}

// apply closes the position on a trigger and tracks it otherwise.
func (m *Monitor) apply(ctx context.Context, p *models.Position, res trigger.Result, high, low float64) error {
	if !res.Triggered() {
		if res.Price <= 0 {
			return nil
		}
		return m.ctrl.Track(ctx, p.Instrument, res.Price, high, low)
	}

	logger.Info("runner: %s %s hit %s at %v", p.Direction, p.Instrument, res.Outcome, res.Price)
	out, err := m.ctrl.Close(ctx, p.Instrument, res.Outcome, res.Price)
	if err != nil {
		return err
	}
	switch out.Status {
	case lifecycle.Closed:
	case lifecycle.Contended:
		logger.Warn("runner: close %s contended, retrying next tick", p.Instrument)
	default:
		logger.Debug("runner: close %s: %s", p.Instrument, out.Status)
	}
	return nil
}

func sinceOpen(bars []models.Candle, openedAt time.Time) []models.Candle {
	for i, b := range bars {
		if b.End.After(openedAt) {
			return bars[i:]
		}
	}
	return nil
}

// scan evaluates every instrument without a position or cooldown and opens
// the best candidates.
func (m *Monitor) scan(ctx context.Context, live map[string]bool) {
	ids := m.instruments.IDs()
	found := make([]*models.CandidateSignal, len(ids))

	g := m.group()
	for i, id := range ids {
		if live[id] {
			continue
		}
		kind, blocked, err := m.cooldowns.Blocked(ctx, id)
		if err != nil {
			logger.Warn("runner: cooldown %s: %v", id, err)
			continue
		}
		if blocked {
			logger.Debug("runner: %s in %s cooldown", id, kind)
			continue
		}
		g.Go(func() error {
			cand, err := m.evaluator.Evaluate(ctx, id)
			if err != nil {
				m.metrics.MarketError("evaluate")
				logger.Warn("runner: evaluate %s: %v", id, err)
				return nil
			}
			found[i] = cand
			return nil
		})
	}
	_ = g.Wait()

	var cands []models.CandidateSignal
	for _, c := range found {
		if c != nil {
			cands = append(cands, *c)
		}
	}
	if len(cands) == 0 {
		return
	}
	strategy.Rank(cands)

	open, deferred := SplitBurst(cands, m.cfg.MaxSignalsPerRun, m.cfg.BurstThreshold)
	if dropped := len(cands) - len(open) - len(deferred); dropped > 0 {
		logger.Info("runner: %d candidates over the per-run cap dropped", dropped)
	}

	for _, c := range deferred {
		if err := m.cooldowns.Set(ctx, c.Instrument, models.SignalBurst, m.cfg.SignalBurstCooldown); err != nil {
			logger.Error("runner: burst cooldown %s: %v", c.Instrument, err)
			continue
		}
		logger.Info("runner: %s deferred by signal burst (%d candidates)", c.Instrument, len(cands))
	}

	for _, c := range open {
		if _, err := m.ctrl.Open(ctx, c); err != nil {
			if errors.Is(err, lifecycle.ErrPositionExists) {
				logger.Debug("runner: open %s: %v", c.Instrument, err)
				continue
			}
			logger.Error("runner: open %s: %v", c.Instrument, err)
		}
	}
}

func (m *Monitor) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(m.cfg.Concurrency)
	return g
}
