// Package cooldown keeps per-instrument cooldown windows in the document store.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	docstore "signal_bot/internal/modules/docstore/service"
	"signal_bot/pkg/logger"

	"github.com/pkg/errors"
)

const keyPrefix = "cooldown_"

var kinds = []models.CooldownKind{models.PostClose, models.SignalBurst}

func Key(kind models.CooldownKind, instrument string) string {
	return keyPrefix + string(kind) + "_" + instrument
}

type Manager struct {
	store docstore.Store
	now   func() time.Time
}

func NewManager(store docstore.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Set stores expiry = now + d, overwriting an entry of the same kind.
func (m *Manager) Set(ctx context.Context, instrument string, kind models.CooldownKind, d time.Duration) error {
	e := models.CooldownEntry{Instrument: instrument, Kind: kind, ExpiresAt: m.now().Add(d)}
	data, err := docstore.Encode(e)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, Key(kind, instrument), data); err != nil {
		return errors.Wrapf(err, "set %s cooldown for %s", kind, instrument)
	}
	return nil
}

func (m *Manager) decode(doc docstore.Document) (models.CooldownEntry, bool) {
	var e models.CooldownEntry
	if err := docstore.Decode(doc, &e); err != nil || e.ExpiresAt.IsZero() {
		return e, false
	}
	if e.Instrument == "" || e.Kind == "" {
		kind, id, ok := instrumentOf(doc.Key)
		if !ok {
			return e, false
		}
		e.Kind, e.Instrument = kind, id
	}
	return e, true
}

// IsActive reports whether a non-expired entry exists. Expired or unreadable
// entries are removed on the way, guarded by version so a concurrent Set survives.
func (m *Manager) IsActive(ctx context.Context, instrument string, kind models.CooldownKind) (bool, error) {
	key := Key(kind, instrument)
	doc, err := m.store.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s cooldown for %s", kind, instrument)
	}

	e, ok := m.decode(doc)
	if ok && !e.Expired(m.now()) {
		return true, nil
	}
	if !ok {
		logger.Warn("cooldown: dropping unreadable entry %s", key)
	}
	if _, err := m.store.DeleteVersion(ctx, key, doc.Version); err != nil {
		logger.Warn("cooldown: lazy delete %s: %v", key, err)
	}
	return false, nil
}

// Blocked reports the first active cooldown kind for instrument.
func (m *Manager) Blocked(ctx context.Context, instrument string) (models.CooldownKind, bool, error) {
	for _, k := range kinds {
		active, err := m.IsActive(ctx, instrument, k)
		if err != nil {
			return "", false, err
		}
		if active {
			return k, true, nil
		}
	}
	return "", false, nil
}

// SweepExpired removes every expired entry and returns the removed ones.
func (m *Manager) SweepExpired(ctx context.Context) ([]models.CooldownEntry, error) {
	docs, err := m.store.FindByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list cooldowns")
	}

	now := m.now()
	var out []models.CooldownEntry
	for _, doc := range docs {
		e, ok := m.decode(doc)
		if ok && !e.Expired(now) {
			continue
		}
		removed, err := m.store.DeleteVersion(ctx, doc.Key, doc.Version)
		if err != nil {
			logger.Warn("cooldown: sweep %s: %v", doc.Key, err)
			continue
		}
		if removed && ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Active lists the entries that are still running.
func (m *Manager) Active(ctx context.Context) ([]models.CooldownEntry, error) {
	docs, err := m.store.FindByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list cooldowns")
	}
	now := m.now()
	var out []models.CooldownEntry
	for _, doc := range docs {
		if e, ok := m.decode(doc); ok && !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear removes both kinds for instrument.
func (m *Manager) Clear(ctx context.Context, instrument string) error {
	for _, k := range kinds {
		if _, err := m.store.Delete(ctx, Key(k, instrument)); err != nil {
			return fmt.Errorf("clear %s cooldown for %s: %w", k, instrument, err)
		}
	}
	return nil
}

// instrumentOf recovers the instrument id from a cooldown key.
func instrumentOf(key string) (models.CooldownKind, string, bool) {
	for _, k := range kinds {
		if id, ok := helper.InstrumentFromKey(key, keyPrefix+string(k)+"_"); ok {
			return k, id, true
		}
	}
	return "", "", false
}
