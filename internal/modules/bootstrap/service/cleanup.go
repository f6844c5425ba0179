package service

import (
	"context"
	"fmt"
	"strings"

	"signal_bot/internal/lifecycle"
	"signal_bot/internal/notify"
	"signal_bot/internal/positions"
	"signal_bot/pkg/logger"
)

// Report is what a startup cleanup found.
type Report struct {
	Purged   []string // invalid positions removed
	Orphans  []string // active signals without a position
	Restored []string // positions left for the evaluators
}

func (r Report) String() string {
	return fmt.Sprintf("restored=%d purged=%d orphans=%d", len(r.Restored), len(r.Purged), len(r.Orphans))
}

// Cleanup brings the store into a consistent state before the evaluators start.
type Cleanup struct {
	ctrl      *lifecycle.Controller
	positions *positions.Store
	notifier  notify.Notifier
}

func NewCleanup(ctrl *lifecycle.Controller, ps *positions.Store, n notify.Notifier) *Cleanup {
	return &Cleanup{ctrl: ctrl, positions: ps, notifier: n}
}

func (c *Cleanup) Run(ctx context.Context) (Report, error) {
	var rep Report

	purged, err := c.ctrl.PurgeInvalid(ctx)
	if err != nil {
		return rep, err
	}
	rep.Purged = purged

	valid, _, err := c.positions.List(ctx)
	if err != nil {
		return rep, err
	}
	live := make(map[string]bool, len(valid))
	for _, rec := range valid {
		live[rec.Position.Instrument] = true
		rep.Restored = append(rep.Restored, rec.Position.Instrument)
	}

	signals, err := c.positions.ActiveSignals(ctx)
	if err != nil {
		return rep, err
	}
	for _, s := range signals {
		if live[s.Instrument] {
			continue
		}
		if err := c.positions.DeleteActiveSignal(ctx, s.Instrument); err != nil {
			logger.Error("bootstrap: drop orphan signal %s: %v", s.Instrument, err)
			continue
		}
		rep.Orphans = append(rep.Orphans, s.Instrument)
	}

	logger.Info("bootstrap: %s", rep)
	if len(rep.Purged)+len(rep.Orphans) > 0 {
		msg := fmt.Sprintf("🧹 Startup cleanup\nPurged: %s\nOrphan signals: %s",
			listOrDash(rep.Purged), listOrDash(rep.Orphans))
		if err := c.notifier.Notify(ctx, notify.OperatorOnly, msg); err != nil {
			logger.Warn("bootstrap: notify: %v", err)
		}
	}
	return rep, nil
}

func listOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}
