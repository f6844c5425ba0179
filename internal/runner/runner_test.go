package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/helper"
	"signal_bot/internal/lifecycle"
	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	docstore "signal_bot/internal/modules/docstore/service"
	health "signal_bot/internal/modules/health/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/positions"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	bars   map[string][]models.Candle
}

func (f *fakeMarket) GetLastPrice(_ context.Context, instrument string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[instrument]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeMarket) GetCandles(_ context.Context, instrument, timeframe string, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if timeframe != "1m" {
		return nil, errors.Errorf("unexpected timeframe %s", timeframe)
	}
	b, ok := f.bars[instrument]
	if !ok {
		return nil, errors.New("no data")
	}
	return b, nil
}

type fakeEvaluator struct {
	mu        sync.Mutex
	cands     map[string]models.CandidateSignal
	errs      map[string]error
	evaluated []string
}

func (f *fakeEvaluator) Evaluate(_ context.Context, instrument string) (*models.CandidateSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, instrument)
	if err := f.errs[instrument]; err != nil {
		return nil, err
	}
	c, ok := f.cands[instrument]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeEvaluator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evaluated...)
}

type env struct {
	docs      *docstore.Memory
	positions *positions.Store
	cooldowns *cooldown.Manager
	notes     *notify.Recorder
	ctrl      *lifecycle.Controller
	market    *fakeMarket
	eval      *fakeEvaluator
	state     *health.State
	mon       *Monitor
	now       time.Time
}

var testInstruments = models.NewInstruments([]models.InstrumentConfig{
	{ID: "SOLUSDT", Timeframes: []string{"1h", "2h"}, TPPercent: 15, SLPercent: 7.5, Leverage: 10},
	{ID: "AVAXUSDT", Timeframes: []string{"30m", "1h"}, TPPercent: 5, SLPercent: 2.5, Leverage: 10},
	{ID: "ETHUSDT", Timeframes: []string{"30m", "1h"}, TPPercent: 12, SLPercent: 6, Leverage: 10},
	{ID: "ADAUSDT", Timeframes: []string{"30m", "1h"}, TPPercent: 20, SLPercent: 10, Leverage: 10},
})

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	e := &env{
		docs:   docstore.NewMemory(),
		notes:  &notify.Recorder{},
		market: &fakeMarket{prices: map[string]float64{}, bars: map[string][]models.Candle{}},
		eval:   &fakeEvaluator{cands: map[string]models.CandidateSignal{}, errs: map[string]error{}},
		state:  health.NewState(),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.positions = positions.NewStore(e.docs)
	e.cooldowns = cooldown.NewManager(e.docs).WithClock(clock)
	e.ctrl = lifecycle.NewController(lifecycle.Config{
		NotionalUSD:       100,
		PostCloseCooldown: 2 * time.Hour,
		ClosingStaleAfter: 2 * time.Minute,
	}, e.positions, e.cooldowns, e.notes, metrics.Nop()).WithClock(clock)

	if cfg.MaxSignalsPerRun == 0 {
		cfg.MaxSignalsPerRun = 5
	}
	cfg.ClosingStaleAfter = 2 * time.Minute
	cfg.Concurrency = 4
	cfg.SignalBurstCooldown = 30 * time.Minute
	e.mon = NewMonitor(cfg, testInstruments, e.market, e.eval, e.ctrl, e.positions, e.cooldowns, e.state, nil).WithClock(clock)
	return e
}

func candidate(inst string, dir models.Direction, entry, tp, sl, volume float64) models.CandidateSignal {
	target, stop := models.LevelPrices(dir, entry, tp, sl)
	return models.CandidateSignal{
		Instrument: inst,
		Direction:  dir,
		Signals: map[string]models.DirectionalSignal{
			"30m": {Instrument: inst, Timeframe: "30m", Direction: dir},
			"1h":  {Instrument: inst, Timeframe: "1h", Direction: dir},
		},
		Confirmation: models.Bullish,
		Entry:        entry,
		Target:       target,
		Stop:         stop,
		Leverage:     10,
		QuoteVolume:  volume,
	}
}

func (e *env) open(t *testing.T, c models.CandidateSignal) {
	t.Helper()
	_, err := e.ctrl.Open(context.Background(), c)
	require.NoError(t, err)
}

// bar ending d after the env clock
func (e *env) bar(d time.Duration, high, low, closep float64) models.Candle {
	end := e.now.Add(d)
	return models.Candle{Open: closep, High: high, Low: low, Close: closep, Start: end.Add(-time.Minute), End: end}
}

func (e *env) exists(t *testing.T, inst string) bool {
	t.Helper()
	_, err := e.positions.Get(context.Background(), inst)
	if errors.Is(err, positions.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestSplitBurst(t *testing.T) {
	ranked := make([]models.CandidateSignal, 7)
	for i := range ranked {
		ranked[i] = models.CandidateSignal{Instrument: string(rune('A' + i))}
	}

	tests := []struct {
		name         string
		n            int
		limit        int
		threshold    int
		wantOpen     int
		wantDeferred int
	}{
		{"under cap", 3, 5, 5, 3, 0},
		{"at cap", 5, 5, 5, 5, 0},
		{"over cap and threshold", 7, 5, 5, 5, 2},
		{"over cap under threshold", 7, 5, 10, 5, 0},
		{"at threshold", 7, 5, 7, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, deferred := SplitBurst(ranked[:tt.n], tt.limit, tt.threshold)
			assert.Len(t, open, tt.wantOpen)
			assert.Len(t, deferred, tt.wantDeferred)
			if tt.wantDeferred > 0 {
				assert.Equal(t, ranked[tt.limit].Instrument, deferred[0].Instrument, "overflow is the lowest ranked")
			}
		})
	}
}

func TestFastTickClosesOnPrice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))
	e.market.prices["SOLUSDT"] = 116

	e.mon.FastTick(ctx)

	assert.False(t, e.exists(t, "SOLUSDT"))
	st, err := e.positions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.SuccessfulSignals)
	assert.InDelta(t, 150.0, st.TotalProfitLoss, 1e-9)

	msgs := e.notes.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.AllSubscribers, msgs[1].Audience)

	active, err := e.cooldowns.IsActive(ctx, "SOLUSDT", models.PostClose)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestFastTickTracksWithoutTrigger(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))
	e.market.prices["SOLUSDT"] = 114.9

	e.now = e.now.Add(3 * time.Second)
	e.mon.FastTick(ctx)

	rec, err := e.positions.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Position.Status)
	assert.Equal(t, 114.9, rec.Position.LastPrice)
	assert.Equal(t, 114.9, rec.Position.MaxPrice)
	assert.Equal(t, 100.0, rec.Position.MinPrice)
	assert.True(t, e.now.Equal(rec.Position.LastUpdate))
}

func TestFastTickFallsBackToBarsSinceOpen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))

	// no price; the pre-open bar would take profit but must be ignored
	e.market.bars["SOLUSDT"] = []models.Candle{
		e.bar(-time.Minute, 120, 99, 100),
		e.bar(time.Minute, 101, 92, 93),
	}
	e.now = e.now.Add(2 * time.Minute)
	e.mon.FastTick(ctx)

	assert.False(t, e.exists(t, "SOLUSDT"))
	st, err := e.positions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.FailedSignals)
	assert.InDelta(t, -75.0, st.TotalProfitLoss, 1e-9)

	msgs := e.notes.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.OperatorOnly, msgs[1].Audience)
}

func TestFastTickSkipsWithoutData(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))
	before, err := e.positions.Get(ctx, "SOLUSDT")
	require.NoError(t, err)

	e.mon.FastTick(ctx)

	after, err := e.positions.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
}

func TestSlowTickBackstopClosesFromBars(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("ETHUSDT", models.Short, 2000, 12, 6, 1))
	e.market.bars["ETHUSDT"] = []models.Candle{
		e.bar(time.Minute, 2050, 1900, 1950),
		e.bar(2*time.Minute, 1960, 1755, 1800),
	}
	e.now = e.now.Add(15 * time.Minute)

	e.mon.SlowTick(ctx)

	assert.False(t, e.exists(t, "ETHUSDT"))
	st, err := e.positions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.SuccessfulSignals)
	assert.InDelta(t, 120.0, st.TotalProfitLoss, 1e-9)
	assert.NotContains(t, e.eval.calls(), "ETHUSDT", "held a position when the tick started")
}

func TestSlowTickBackstopTracks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))
	e.market.bars["SOLUSDT"] = []models.Candle{
		e.bar(time.Minute, 108, 96, 104),
		e.bar(2*time.Minute, 106, 101, 105),
	}
	e.now = e.now.Add(15 * time.Minute)

	e.mon.SlowTick(ctx)

	rec, err := e.positions.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 108.0, rec.Position.MaxPrice)
	assert.Equal(t, 96.0, rec.Position.MinPrice)
	assert.Equal(t, 105.0, rec.Position.LastPrice)
	assert.NotContains(t, e.eval.calls(), "SOLUSDT")
}

func TestSlowTickRedrivesStaleClosing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))

	rec, err := e.positions.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	next := rec.Position
	next.Status = models.StatusClosing
	next.ClosingOutcome = models.StopLoss
	next.ClosingPrice = 92
	next.ClosingAt = e.now
	ok, err := e.positions.Swap(ctx, rec, &next)
	require.NoError(t, err)
	require.True(t, ok)

	e.now = e.now.Add(time.Minute)
	e.mon.SlowTick(ctx)
	assert.True(t, e.exists(t, "SOLUSDT"), "fresh marker is left to its owner")

	e.now = e.now.Add(5 * time.Minute)
	e.mon.SlowTick(ctx)
	assert.False(t, e.exists(t, "SOLUSDT"))

	st, err := e.positions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.FailedSignals)
	assert.InDelta(t, -75.0, st.TotalProfitLoss, 1e-9)
}

func TestSlowTickPurgesInvalid(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	require.NoError(t, e.docs.Put(ctx, helper.PositionKey("ADAUSDT"), []byte(`{"instrument":"ADAUSDT","direction":"LONG","entry":-1}`)))

	e.mon.SlowTick(ctx)

	assert.False(t, e.exists(t, "ADAUSDT"))
}

func TestSlowTickScanSkipsLiveAndCooledInstruments(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	e.open(t, candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1))
	require.NoError(t, e.cooldowns.Set(ctx, "AVAXUSDT", models.PostClose, time.Hour))
	e.eval.errs["ETHUSDT"] = errors.New("candles ETHUSDT 4h: timeout")

	e.mon.SlowTick(ctx)

	assert.ElementsMatch(t, []string{"ADAUSDT", "ETHUSDT"}, e.eval.calls())
}

func TestSlowTickOpensRankedAndDefersBurst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{MaxSignalsPerRun: 2, BurstThreshold: 3})
	e.eval.cands["SOLUSDT"] = candidate("SOLUSDT", models.Long, 100, 15, 7.5, 300)
	e.eval.cands["AVAXUSDT"] = candidate("AVAXUSDT", models.Long, 20, 5, 2.5, 100)
	e.eval.cands["ETHUSDT"] = candidate("ETHUSDT", models.Short, 2000, 12, 6, 900)
	e.eval.cands["ADAUSDT"] = candidate("ADAUSDT", models.Long, 0.5, 20, 10, 50)

	e.mon.SlowTick(ctx)

	assert.True(t, e.exists(t, "ETHUSDT"))
	assert.True(t, e.exists(t, "SOLUSDT"))
	assert.False(t, e.exists(t, "AVAXUSDT"))
	assert.False(t, e.exists(t, "ADAUSDT"))

	for _, id := range []string{"AVAXUSDT", "ADAUSDT"} {
		active, err := e.cooldowns.IsActive(ctx, id, models.SignalBurst)
		require.NoError(t, err)
		assert.True(t, active, id)
	}

	// next pass skips both the opened and the deferred instruments
	e.eval.evaluated = nil
	e.now = e.now.Add(15 * time.Minute)
	e.mon.SlowTick(ctx)
	assert.Empty(t, e.eval.calls())

	// the burst cooldown runs out after 30m
	e.now = e.now.Add(20 * time.Minute)
	e.mon.SlowTick(ctx)
	assert.ElementsMatch(t, []string{"AVAXUSDT", "ADAUSDT"}, e.eval.calls())
}

func TestSlowTickDropsOverflowUnderThreshold(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{MaxSignalsPerRun: 2, BurstThreshold: 4})
	e.eval.cands["SOLUSDT"] = candidate("SOLUSDT", models.Long, 100, 15, 7.5, 300)
	e.eval.cands["AVAXUSDT"] = candidate("AVAXUSDT", models.Long, 20, 5, 2.5, 100)
	e.eval.cands["ETHUSDT"] = candidate("ETHUSDT", models.Short, 2000, 12, 6, 900)

	e.mon.SlowTick(ctx)

	assert.True(t, e.exists(t, "ETHUSDT"))
	assert.True(t, e.exists(t, "SOLUSDT"))
	assert.False(t, e.exists(t, "AVAXUSDT"))

	active, err := e.cooldowns.IsActive(ctx, "AVAXUSDT", models.SignalBurst)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStartRunsSlowTickAndStops(t *testing.T) {
	e := newEnv(t, Config{SlowInterval: time.Hour, FastInterval: time.Hour})
	e.eval.cands["SOLUSDT"] = candidate("SOLUSDT", models.Long, 100, 15, 7.5, 1)

	ctx, cancel := context.WithCancel(context.Background())
	e.mon.Start(ctx)

	require.Eventually(t, e.state.Ready, time.Second, 10*time.Millisecond)
	cancel()
	e.mon.Wait()

	assert.True(t, e.exists(t, "SOLUSDT"))
	assert.False(t, e.state.LastSlowTick().IsZero())
	assert.True(t, e.state.LastFastTick().IsZero())
}
