// Package lifecycle opens and closes positions. The store's conditional writes
// are the only coordination between the evaluators: Open relies on
// insert-if-absent and Close on a versioned ACTIVE -> CLOSING claim, so that
// exactly one caller books the outcome of a position.
package lifecycle

import (
	"context"
	"math"
	"time"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/internal/notify"
	"signal_bot/internal/positions"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrPositionExists   = errors.New("position already exists")
	ErrInvalidCandidate = errors.New("invalid candidate")
)

type CloseStatus string

const (
	Closed        CloseStatus = "CLOSED"
	AlreadyClosed CloseStatus = "ALREADY_CLOSED"
	Purged        CloseStatus = "PURGED"
	// the claim kept losing to concurrent writers; the position is still open
	Contended CloseStatus = "CONTENDED"
)

type CloseResult struct {
	Status  CloseStatus
	Outcome models.Outcome
	Price   float64
	Percent float64
	USD     float64
}

type Config struct {
	NotionalUSD       float64
	PostCloseCooldown time.Duration
	ClosingStaleAfter time.Duration
	// bounds the side effects of a won claim, which outlive the caller's context
	CloseTimeout time.Duration
}

const (
	// claim attempts before a close gives up to a concurrent writer
	maxClaimAttempts = 3

	defaultCloseTimeout = 30 * time.Second
)

type Controller struct {
	cfg       Config
	positions *positions.Store
	cooldowns *cooldown.Manager
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewController(cfg Config, ps *positions.Store, cd *cooldown.Manager, n notify.Notifier, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Controller{cfg: cfg, positions: ps, cooldowns: cd, notifier: n, metrics: m, now: time.Now}
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

type sourceKey struct{}

// WithSource tags ctx with the evaluator name reported in close metrics.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceOf(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}

func validateCandidate(cand models.CandidateSignal) error {
	if cand.Instrument == "" {
		return errors.Wrap(ErrInvalidCandidate, "missing instrument")
	}
	if !cand.Direction.Valid() {
		return errors.Wrapf(ErrInvalidCandidate, "%s: bad direction %q", cand.Instrument, cand.Direction)
	}
	for _, v := range []float64{cand.Entry, cand.Target, cand.Stop} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidCandidate, "%s: bad price %v", cand.Instrument, v)
		}
	}
	if cand.Leverage <= 0 {
		return errors.Wrapf(ErrInvalidCandidate, "%s: bad leverage %d", cand.Instrument, cand.Leverage)
	}
	return nil
}

// Open persists a position for a confirmed candidate. An existing position for
// the instrument yields ErrPositionExists and changes nothing.
func (c *Controller) Open(ctx context.Context, cand models.CandidateSignal) (p *models.Position, err error) {
	span, ctx := tracing.StartSpan(ctx, "lifecycle.Open", cand.Instrument)
	defer func() {
		if errors.Is(err, ErrPositionExists) {
			tracing.Finish(span, nil)
			return
		}
		tracing.Finish(span, err)
	}()

	if err := validateCandidate(cand); err != nil {
		return nil, err
	}

	now := c.now()
	p = &models.Position{
		ID:         uuid.NewString(),
		Instrument: cand.Instrument,
		Direction:  cand.Direction,
		Entry:      cand.Entry,
		Target:     cand.Target,
		Stop:       cand.Stop,
		Leverage:   cand.Leverage,
		Votes:      cand.Votes(),
		OpenedAt:   now,
		Status:     models.StatusActive,
		MaxPrice:   cand.Entry,
		MinPrice:   cand.Entry,
		LastPrice:  cand.Entry,
		LastUpdate: now,
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInvalidCandidate, "%s: %v", cand.Instrument, err)
	}

	created, err := c.positions.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.Wrap(ErrPositionExists, cand.Instrument)
	}

	if err := c.positions.PutActiveSignal(ctx, models.NewActiveSignal(p)); err != nil {
		logger.Warn("open %s: %v", p.Instrument, err)
	}
	if err := c.positions.Increment(ctx, models.StatTotalSignals, 1); err != nil {
		logger.Warn("open %s: %v", p.Instrument, err)
	}
	c.metrics.Opened()

	tp := math.Abs(p.Target-p.Entry) / p.Entry * 100
	sl := math.Abs(p.Stop-p.Entry) / p.Entry * 100
	if err := c.notifier.Notify(ctx, notify.AllSubscribers, notify.FormatOpen(p, tp, sl)); err != nil {
		logger.Warn("open %s: notify: %v", p.Instrument, err)
	}

	logger.Info("opened %s %s entry=%v target=%v stop=%v", p.Direction, p.Instrument, p.Entry, p.Target, p.Stop)
	return p, nil
}

func (c *Controller) stale(p models.Position) bool {
	return p.ClosingAt.IsZero() || c.now().Sub(p.ClosingAt) >= c.cfg.ClosingStaleAfter
}

// Close books outcome for the instrument's position. Of any number of
// concurrent calls exactly one returns Closed; the others see AlreadyClosed,
// or Contended when the claim kept losing to other writers. The winner's side
// effects run to completion under CloseTimeout even if ctx is cancelled.
// A CLOSING position whose marker is older than ClosingStaleAfter is
// re-claimed and finished with the recorded outcome.
func (c *Controller) Close(ctx context.Context, instrument string, outcome models.Outcome, exitPrice float64) (res CloseResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "lifecycle.Close", instrument)
	defer func() { tracing.Finish(span, err) }()

	if outcome != models.TakeProfit && outcome != models.StopLoss {
		return res, errors.Errorf("close %s: unexpected outcome %q", instrument, outcome)
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		rec, err := c.positions.Get(ctx, instrument)
		switch {
		case errors.Is(err, positions.ErrNotFound):
			c.metrics.CloseRace()
			return CloseResult{Status: AlreadyClosed, Outcome: outcome, Price: exitPrice}, nil
		case errors.Is(err, positions.ErrInvalid):
			logger.Warn("close %s: %v, purging", instrument, err)
			if err := c.positions.Purge(ctx, instrument); err != nil {
				return res, err
			}
			c.metrics.Purged(1)
			return CloseResult{Status: Purged, Outcome: outcome, Price: exitPrice}, nil
		case err != nil:
			return res, err
		}

		next := rec.Position
		if next.Status == models.StatusClosing {
			if !c.stale(next) {
				c.metrics.CloseRace()
				return CloseResult{Status: AlreadyClosed, Outcome: next.ClosingOutcome, Price: next.ClosingPrice}, nil
			}
			if next.ClosingOutcome == models.TakeProfit || next.ClosingOutcome == models.StopLoss {
				outcome, exitPrice = next.ClosingOutcome, next.ClosingPrice
			}
			logger.Warn("close %s: re-claiming stale close from %s", instrument, next.ClosingAt.Format(time.RFC3339))
		}

		next.Status = models.StatusClosing
		next.ClosingOutcome = outcome
		next.ClosingPrice = exitPrice
		next.ClosingAt = c.now()

		won, err := c.positions.Swap(ctx, rec, &next)
		if err != nil {
			return res, err
		}
		if won {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CloseTimeout)
			res, err = c.finish(fctx, positions.Record{Position: next, Version: rec.Version + 1})
			cancel()
			return res, err
		}
	}

	logger.Warn("close %s: claim lost %d times, leaving it to the next tick", instrument, maxClaimAttempts)
	return CloseResult{Status: Contended, Outcome: outcome, Price: exitPrice}, nil
}

// book increments each stat counter of the close once. Every increment is
// recorded in the CLOSING document, so a re-driven close skips what an
// interrupted one already counted. It returns the record at its new version.
func (c *Controller) book(ctx context.Context, rec positions.Record, deltas []statDelta) (positions.Record, error) {
	for _, d := range deltas {
		if rec.Position.IsBooked(d.field) {
			continue
		}
		if err := c.positions.Increment(ctx, d.field, d.delta); err != nil {
			return rec, err
		}

		next := rec.Position
		next.MarkBooked(d.field)
		ok, err := c.positions.Swap(ctx, rec, &next)
		if err != nil {
			return rec, errors.Wrapf(err, "mark %s booked", d.field)
		}
		if !ok {
			return rec, errors.Errorf("close %s: claim taken over while booking %s", next.Instrument, d.field)
		}
		rec = positions.Record{Position: next, Version: rec.Version + 1}
	}
	return rec, nil
}

type statDelta struct {
	field string
	delta float64
}

// finish runs the side effects of a won claim.
func (c *Controller) finish(ctx context.Context, rec positions.Record) (CloseResult, error) {
	outcome := rec.Position.ClosingOutcome
	pct, usd := PnL(&rec.Position, outcome, c.cfg.NotionalUSD)
	res := CloseResult{Status: Closed, Outcome: outcome, Price: rec.Position.ClosingPrice, Percent: pct, USD: usd}

	counter := models.StatFailedSignals
	if outcome == models.TakeProfit {
		counter = models.StatSuccessfulSignals
	}
	rec, err := c.book(ctx, rec, []statDelta{
		{field: counter, delta: 1},
		{field: models.StatTotalProfitLoss, delta: usd},
	})
	if err != nil {
		return res, err
	}
	p := &rec.Position

	if err := c.positions.DeleteActiveSignal(ctx, p.Instrument); err != nil {
		return res, err
	}
	removed, err := c.positions.Remove(ctx, p.Instrument, rec.Version)
	if err != nil {
		return res, err
	}
	if !removed {
		logger.Warn("close %s: position changed after claim", p.Instrument)
	}

	if err := c.cooldowns.Set(ctx, p.Instrument, models.PostClose, c.cfg.PostCloseCooldown); err != nil {
		logger.Error("close %s: %v", p.Instrument, err)
	}

	audience := notify.OperatorOnly
	if outcome == models.TakeProfit {
		audience = notify.AllSubscribers
	}
	if err := c.notifier.Notify(ctx, audience, notify.FormatClose(p, outcome, pct, usd)); err != nil {
		logger.Warn("close %s: notify: %v", p.Instrument, err)
	}

	c.metrics.Closed(string(outcome), sourceOf(ctx))
	logger.Info("closed %s %s %s at %v: %.2f%% (%.2f$)", p.Direction, p.Instrument, outcome, p.ClosingPrice, pct, usd)
	return res, nil
}

// Track folds the observed price range into an ACTIVE position. Positions that
// are gone, invalid, closing or concurrently written are left alone.
func (c *Controller) Track(ctx context.Context, instrument string, price, high, low float64) error {
	rec, err := c.positions.Get(ctx, instrument)
	if errors.Is(err, positions.ErrNotFound) || errors.Is(err, positions.ErrInvalid) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Position.Status != models.StatusActive {
		return nil
	}

	next := rec.Position
	next.Observe(price, high, low, c.now())
	ok, err := c.positions.Swap(ctx, rec, &next)
	if err != nil || !ok {
		return err
	}

	if err := c.positions.PutActiveSignal(ctx, models.NewActiveSignal(&next)); err != nil {
		return err
	}
	// a close may have removed the signal while we were writing it
	after, err := c.positions.Get(ctx, instrument)
	if errors.Is(err, positions.ErrNotFound) || (err == nil && after.Position.Status != models.StatusActive) {
		return c.positions.DeleteActiveSignal(ctx, instrument)
	}
	return nil
}

// PurgeInvalid removes every stored position that fails decoding or
// validation, along with its active signal.
func (c *Controller) PurgeInvalid(ctx context.Context) ([]string, error) {
	_, invalid, err := c.positions.List(ctx)
	if err != nil {
		return nil, err
	}

	var purged []string
	for _, id := range invalid {
		if err := c.positions.Purge(ctx, id); err != nil {
			logger.Error("purge %s: %v", id, err)
			continue
		}
		logger.Warn("purged invalid position %s", id)
		purged = append(purged, id)
	}
	c.metrics.Purged(len(purged))
	return purged, nil
}
