// Package positions maps positions, active signals and stats onto the document store.
package positions

import (
	"context"
	"fmt"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	docstore "signal_bot/internal/modules/docstore/service"

	"github.com/pkg/errors"
)

const (
	positionPrefix     = "position_"
	activeSignalPrefix = "active_signal_"
)

var (
	ErrNotFound = docstore.ErrNotFound
	ErrInvalid  = errors.New("invalid position")
)

// Record is a position together with the store version it was read at.
type Record struct {
	Position models.Position
	Version  int64
}

type Store struct {
	docs docstore.Store
}

func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

func (s *Store) decode(doc docstore.Document) (Record, error) {
	rec := Record{Version: doc.Version}
	id, _ := helper.InstrumentFromKey(doc.Key, positionPrefix)

	if err := docstore.Decode(doc, &rec.Position); err != nil {
		rec.Position.Instrument = id
		return rec, fmt.Errorf("%w: %s: %v", ErrInvalid, id, err)
	}
	if rec.Position.Instrument == "" {
		rec.Position.Instrument = id
	}
	if rec.Position.Instrument != id {
		return rec, fmt.Errorf("%w: %s: stored under key of %s", ErrInvalid, rec.Position.Instrument, id)
	}
	if err := rec.Position.Validate(); err != nil {
		return rec, fmt.Errorf("%w: %s: %v", ErrInvalid, id, err)
	}
	return rec, nil
}

// Create persists p unless a position for the instrument already exists.
func (s *Store) Create(ctx context.Context, p *models.Position) (bool, error) {
	data, err := docstore.Encode(p)
	if err != nil {
		return false, err
	}
	ok, err := s.docs.InsertIfAbsent(ctx, helper.PositionKey(p.Instrument), data)
	if err != nil {
		return false, errors.Wrapf(err, "create position %s", p.Instrument)
	}
	return ok, nil
}

// Get returns ErrNotFound for a missing position and an ErrInvalid-wrapped
// error, with whatever could be decoded, for a corrupted one.
func (s *Store) Get(ctx context.Context, instrument string) (Record, error) {
	doc, err := s.docs.Get(ctx, helper.PositionKey(instrument))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrapf(err, "get position %s", instrument)
	}
	return s.decode(doc)
}

// List returns every readable position and the instruments whose records are invalid.
func (s *Store) List(ctx context.Context) (valid []Record, invalid []string, err error) {
	docs, err := s.docs.FindByPrefix(ctx, positionPrefix)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list positions")
	}
	for _, doc := range docs {
		rec, err := s.decode(doc)
		if err != nil {
			invalid = append(invalid, rec.Position.Instrument)
			continue
		}
		valid = append(valid, rec)
	}
	return valid, invalid, nil
}

// Swap replaces the position read as rec with next, if nobody wrote it in between.
func (s *Store) Swap(ctx context.Context, rec Record, next *models.Position) (bool, error) {
	data, err := docstore.Encode(next)
	if err != nil {
		return false, err
	}
	ok, err := s.docs.CompareAndSwap(ctx, helper.PositionKey(next.Instrument), rec.Version, data)
	if err != nil {
		return false, errors.Wrapf(err, "swap position %s", next.Instrument)
	}
	return ok, nil
}

// Remove deletes the position if it is still at version.
func (s *Store) Remove(ctx context.Context, instrument string, version int64) (bool, error) {
	ok, err := s.docs.DeleteVersion(ctx, helper.PositionKey(instrument), version)
	if err != nil {
		return false, errors.Wrapf(err, "remove position %s", instrument)
	}
	return ok, nil
}

// Purge drops the position and its active signal unconditionally.
func (s *Store) Purge(ctx context.Context, instrument string) error {
	if instrument == "" {
		return nil
	}
	if _, err := s.docs.Delete(ctx, helper.PositionKey(instrument)); err != nil {
		return errors.Wrapf(err, "purge position %s", instrument)
	}
	return s.DeleteActiveSignal(ctx, instrument)
}

func (s *Store) PutActiveSignal(ctx context.Context, a models.ActiveSignal) error {
	data, err := docstore.Encode(a)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.docs.Put(ctx, helper.ActiveSignalKey(a.Instrument), data), "put active signal %s", a.Instrument)
}

func (s *Store) DeleteActiveSignal(ctx context.Context, instrument string) error {
	_, err := s.docs.Delete(ctx, helper.ActiveSignalKey(instrument))
	return errors.Wrapf(err, "delete active signal %s", instrument)
}

func (s *Store) ActiveSignals(ctx context.Context) ([]models.ActiveSignal, error) {
	docs, err := s.docs.FindByPrefix(ctx, activeSignalPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list active signals")
	}
	out := make([]models.ActiveSignal, 0, len(docs))
	for _, doc := range docs {
		var a models.ActiveSignal
		if err := docstore.Decode(doc, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// PutVotes records the latest per-timeframe votes of an instrument.
func (s *Store) PutVotes(ctx context.Context, instrument string, votes map[string]models.Direction) error {
	data, err := docstore.Encode(votes)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.docs.Put(ctx, helper.PreviousSignalKey(instrument), data), "put votes %s", instrument)
}

func (s *Store) Votes(ctx context.Context, instrument string) (map[string]models.Direction, error) {
	doc, err := s.docs.Get(ctx, helper.PreviousSignalKey(instrument))
	if err != nil {
		return nil, err
	}
	var votes map[string]models.Direction
	if err := docstore.Decode(doc, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (s *Store) Increment(ctx context.Context, field string, delta float64) error {
	_, err := s.docs.Increment(ctx, models.StatsKey, field, delta)
	return errors.Wrapf(err, "increment %s", field)
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	c, err := s.docs.Counters(ctx, models.StatsKey)
	if err != nil {
		return models.Stats{}, errors.Wrap(err, "read stats")
	}
	st := models.StatsFromCounters(c)

	valid, _, err := s.List(ctx)
	if err != nil {
		return st, err
	}
	st.ActivePositions = len(valid)
	return st, nil
}
